// Package vector provides query/chunk embedding and nearest-neighbor lookup
// over the in-memory chunk index.
package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"repoquery/internal/types"
)

var ErrUnavailable = errors.New("vector: search unavailable")

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Hit is one nearest-neighbor result.
type Hit struct {
	ChunkID string
	Score   float64
}

// Searcher returns chunk identifiers ordered by descending similarity.
type Searcher interface {
	Nearest(ctx context.Context, vec []float32, k int) ([]Hit, error)
}

// BruteIndex is a brute-force cosine index over chunk embeddings. It is
// immutable after construction; rebuild the index to pick up new chunks.
type BruteIndex struct {
	ids  []string
	vecs [][]float32
}

// NewBruteIndex builds an index from chunks that carry embeddings. Chunks
// without an embedding are skipped.
func NewBruteIndex(chunks []types.CodeChunk) *BruteIndex {
	x := &BruteIndex{}
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		x.ids = append(x.ids, c.ID)
		x.vecs = append(x.vecs, normalize(c.Embedding))
	}
	return x
}

// Len reports the number of indexed vectors.
func (x *BruteIndex) Len() int { return len(x.ids) }

// Nearest returns the top-k chunk ids by cosine similarity. Equal scores are
// broken by ascending chunk id so results are deterministic.
func (x *BruteIndex) Nearest(_ context.Context, vec []float32, k int) ([]Hit, error) {
	if x == nil || len(x.ids) == 0 {
		return nil, ErrUnavailable
	}
	q := normalize(vec)
	hits := make([]Hit, len(x.ids))
	for i, v := range x.vecs {
		hits[i] = Hit{ChunkID: x.ids[i], Score: dot(q, v)}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if k > 0 && k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// CachedEmbedder memoizes embeddings keyed by text hash. Chunk texts repeat
// across rebuilds of an unchanged repository, so this avoids re-embedding.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 4096
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: c}, nil
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	key := hex.EncodeToString(sum[:])
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}
	v, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, v)
	return v, nil
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func normalize(v []float32) []float32 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	if s == 0 {
		return v
	}
	inv := 1 / math.Sqrt(s)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
