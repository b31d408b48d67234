// Package store persists chunk embeddings between runs. The in-memory store
// is the default; a Postgres store is selected when DATABASE_URL is set.
package store

import (
	"context"
	"sync"

	"repoquery/internal/types"
)

// EmbeddingStore caches chunk embeddings keyed by content hash, so an
// unchanged repository does not have to be re-embedded after a restart.
type EmbeddingStore interface {
	// Get returns the stored embedding for a content hash, if any.
	Get(ctx context.Context, hash string) ([]float32, bool, error)
	// Put stores the embedding of one chunk under its content hash.
	Put(ctx context.Context, hash string, chunk types.CodeChunk, vec []float32) error
	Close() error
}

// MemoryStore keeps embeddings for the lifetime of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	vecs map[string][]float32
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vecs: make(map[string][]float32)}
}

func (s *MemoryStore) Get(_ context.Context, hash string) ([]float32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vecs[hash]
	return v, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, hash string, _ types.CodeChunk, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vecs[hash] = vec
	return nil
}

func (s *MemoryStore) Close() error { return nil }
