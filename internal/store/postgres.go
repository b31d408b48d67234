package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	_ "github.com/jackc/pgx/v5/stdlib"

	"repoquery/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunk_embeddings (
	content_hash TEXT PRIMARY KEY,
	file_path    TEXT NOT NULL,
	start_line   INT  NOT NULL,
	end_line     INT  NOT NULL,
	language     TEXT NOT NULL DEFAULT '',
	embedding    BYTEA NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore persists embeddings in a single table, keyed by chunk content
// hash so moved or renamed files keep their vectors.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Get(ctx context.Context, hash string) ([]float32, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding FROM chunk_embeddings WHERE content_hash = $1`, hash).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return decodeVec(raw), true, nil
}

func (s *PostgresStore) Put(ctx context.Context, hash string, chunk types.CodeChunk, vec []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunk_embeddings (content_hash, file_path, start_line, end_line, language, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (content_hash) DO UPDATE
		SET file_path = EXCLUDED.file_path,
		    start_line = EXCLUDED.start_line,
		    end_line = EXCLUDED.end_line,
		    embedding = EXCLUDED.embedding,
		    updated_at = now()`,
		hash, chunk.FilePath, chunk.StartLine, chunk.EndLine, chunk.Language, encodeVec(vec))
	return err
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func encodeVec(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVec(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}
