// Package app wires the collaborators and owns startup and shutdown.
package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"

	"repoquery/internal/analyzer"
	"repoquery/internal/artifact"
	"repoquery/internal/config"
	"repoquery/internal/llmclient"
	"repoquery/internal/modelsel"
	"repoquery/internal/patch"
	"repoquery/internal/refine"
	"repoquery/internal/retriever"
	"repoquery/internal/scan"
	"repoquery/internal/server"
	"repoquery/internal/store"
	"repoquery/internal/types"
	"repoquery/internal/vector"
)

type App struct {
	server  *server.Server
	catalog *llmclient.Catalog
	store   store.EmbeddingStore
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	registry, err := modelsel.LoadRegistry(cfg.ModelsPath)
	if err != nil {
		return nil, fmt.Errorf("load model registry: %w", err)
	}

	embStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	embedder := buildEmbedder(ctx)
	catalog := llmclient.NewCatalog(cfg.CallTimeout, cfg.Retries)
	hub := server.NewHub()

	build := func() (*scan.Index, *retriever.Retriever, error) {
		idx, err := scan.Build(cfg.RepoRoot, scan.Options{})
		if err != nil {
			return nil, nil, fmt.Errorf("index %s: %w", cfg.RepoRoot, err)
		}
		st := idx.Stats()
		log.Printf("app: indexed %d files, %d chunks", st.TotalFiles, st.TotalChunks)

		var searcher vector.Searcher
		if embedder != nil {
			chunks := embedChunks(ctx, embedder, embStore, idx.AllChunks())
			searcher = vector.NewBruteIndex(chunks)
		} else {
			log.Printf("app: no embedder available, semantic retrieval disabled")
		}
		return idx, retriever.New(idx, embedder, searcher), nil
	}

	idx, ret, err := build()
	if err != nil {
		return nil, err
	}

	engine := &swappableEngine{}
	engine.swap(refine.New(analyzer.New(idx), ret, registry, catalog, hub))

	rebuild := func() (*scan.Index, error) {
		newIdx, newRet, err := build()
		if err != nil {
			return nil, err
		}
		engine.swap(refine.New(analyzer.New(newIdx), newRet, registry, catalog, hub))
		return newIdx, nil
	}

	var archive *artifact.Archive
	if cfg.Archive.Enabled {
		archive, err = artifact.NewArchive(artifact.Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			log.Printf("app: trail archive disabled: %v", err)
			archive = nil
		}
	}

	applier := patch.NewApplier(cfg.RepoRoot, cfg.ApplyOK)
	handler := server.NewHandler(engine, applier, archive, hub, idx, cfg.RepoRoot, cfg.TopK, rebuild)
	srv := server.New(cfg.Port, server.NewMux(handler))

	return &App{server: srv, catalog: catalog, store: embStore}, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	_ = a.catalog.Close()
	if a.store != nil {
		_ = a.store.Close()
	}
	return a.server.Shutdown(ctx)
}

// swappableEngine lets a reindex replace the whole retrieval pipeline while
// requests in flight finish against the previous snapshot.
type swappableEngine struct {
	mu    sync.RWMutex
	inner server.Engine
}

func (e *swappableEngine) swap(next server.Engine) {
	e.mu.Lock()
	e.inner = next
	e.mu.Unlock()
}

func (e *swappableEngine) current() server.Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inner
}

func (e *swappableEngine) Answer(ctx context.Context, query string, opts refine.Options) (refine.Result, error) {
	return e.current().Answer(ctx, query, opts)
}

func (e *swappableEngine) Refine(ctx context.Context, query string, opts refine.Options) (refine.Result, error) {
	return e.current().Refine(ctx, query, opts)
}

func openStore(ctx context.Context, cfg *config.Config) (store.EmbeddingStore, error) {
	if cfg.DatabaseURL == "" {
		return store.NewMemoryStore(), nil
	}
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("app: postgres store unavailable, using memory store: %v", err)
		return store.NewMemoryStore(), nil
	}
	return ps, nil
}

func buildEmbedder(ctx context.Context) vector.Embedder {
	g, err := vector.NewGenaiEmbedder(ctx, "")
	if err != nil {
		log.Printf("app: embedder init failed: %v", err)
		return nil
	}
	cached, err := vector.NewCachedEmbedder(g, 0)
	if err != nil {
		return g
	}
	return cached
}

// embedChunks fills embeddings from the store where possible and calls the
// embedder for the rest. Chunks that still lack a vector are returned
// without one and simply stay invisible to semantic search.
func embedChunks(ctx context.Context, emb vector.Embedder, st store.EmbeddingStore, chunks []types.CodeChunk) []types.CodeChunk {
	embedded := 0
	for i := range chunks {
		h := contentHash(chunks[i].Content)
		if st != nil {
			if vec, ok, err := st.Get(ctx, h); err == nil && ok {
				chunks[i].Embedding = vec
				continue
			}
		}
		vec, err := emb.Embed(ctx, chunks[i].Content)
		if err != nil {
			log.Printf("app: embed chunk %s: %v", chunks[i].ID, err)
			continue
		}
		chunks[i].Embedding = vec
		embedded++
		if st != nil {
			if err := st.Put(ctx, h, chunks[i], vec); err != nil {
				log.Printf("app: store embedding %s: %v", chunks[i].ID, err)
			}
		}
	}
	if embedded > 0 {
		log.Printf("app: embedded %d new chunks", embedded)
	}
	return chunks
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
