// Package retriever selects a retrieval strategy from a query analysis and
// assembles the context handed to prompt construction.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"repoquery/internal/scan"
	"repoquery/internal/types"
	"repoquery/internal/vector"
)

// FileBoost is the fixed multiplicative boost applied to the similarity of
// chunks from files the user explicitly named.
const FileBoost = 3.0

// DefaultTopK bounds retrieval when the caller does not say otherwise.
const DefaultTopK = 12

// HighConfidence is the threshold above which a file reference pins retrieval
// to the referenced files alone.
const HighConfidence = 0.9

const summaryFileLimit = 30

var ErrNoRetrievalPath = errors.New("retriever: vector search unavailable and no fallback strategy applies")

// Retriever is deterministic given an index snapshot and identical inputs.
type Retriever struct {
	index    *scan.Index
	embedder vector.Embedder
	searcher vector.Searcher
}

func New(index *scan.Index, embedder vector.Embedder, searcher vector.Searcher) *Retriever {
	return &Retriever{index: index, embedder: embedder, searcher: searcher}
}

// Retrieve runs strategy selection in order: metadata, multi-intent,
// file-specific, hybrid, semantic. The first applicable strategy wins.
func (r *Retriever) Retrieve(ctx context.Context, qa types.QueryAnalysis, topK int) (types.RetrievalContext, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	switch {
	case qa.Metadata && qa.Complexity == types.ComplexitySimple:
		return r.metadataContext(), nil

	case qa.MultiIntent:
		return r.multiIntentContext(ctx, qa, topK)

	case hasHighConfidenceRef(qa):
		return r.fileSpecific(qa, topK), nil

	case len(qa.FileRefs) > 0:
		rc, err := r.hybrid(ctx, qa, topK)
		if err != nil {
			// Vector search down: referenced files still give a usable
			// precision-first context.
			return r.fileSpecific(qa, topK), nil
		}
		return rc, nil

	default:
		rc, err := r.semantic(ctx, qa.Original, topK)
		if err != nil {
			if qa.Metadata {
				return r.metadataContext(), nil
			}
			return types.RetrievalContext{}, fmt.Errorf("%w: %v", ErrNoRetrievalPath, err)
		}
		return rc, nil
	}
}

// metadataContext answers statistics questions from the index alone: no
// chunks, no vector search, no generation needed for the numbers themselves.
func (r *Retriever) metadataContext() types.RetrievalContext {
	return types.RetrievalContext{
		Summary:  r.index.TreeSummary(summaryFileLimit),
		Strategy: types.StrategyMetadata,
	}
}

func (r *Retriever) multiIntentContext(ctx context.Context, qa types.QueryAnalysis, topK int) (types.RetrievalContext, error) {
	var rc types.RetrievalContext
	var err error
	if hasHighConfidenceRef(qa) {
		rc = r.fileSpecific(qa, topK)
	} else {
		contentQuery := qa.ContentPart
		if contentQuery == "" {
			contentQuery = qa.Original
		}
		rc, err = r.semantic(ctx, contentQuery, topK)
		if err != nil {
			rc = types.RetrievalContext{}
		}
	}
	rc.Summary = r.index.TreeSummary(summaryFileLimit)
	rc.Strategy = types.StrategyMultiIntent
	return rc, nil
}

// fileSpecific returns chunks only from the referenced files, skipping
// semantic search entirely so unrelated matches cannot dilute precision.
// Referenced files are visited in ascending path order; within a file, chunks
// are ordered by proximity to the referenced line when one was given, else in
// file order.
func (r *Retriever) fileSpecific(qa types.QueryAnalysis, topK int) types.RetrievalContext {
	paths := referencedPaths(qa, r.index)
	var chunks []types.CodeChunk
	for _, p := range paths {
		cs := r.index.ChunksOf(p.path)
		if p.line > 0 {
			sort.SliceStable(cs, func(i, j int) bool {
				return lineDistance(cs[i], p.line) < lineDistance(cs[j], p.line)
			})
		}
		chunks = append(chunks, cs...)
	}
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return finish(chunks, types.StrategyFileSpecific)
}

// hybrid runs semantic search across the whole index, multiplies the score of
// chunks from referenced files by FileBoost, and re-ranks.
func (r *Retriever) hybrid(ctx context.Context, qa types.QueryAnalysis, topK int) (types.RetrievalContext, error) {
	hits, byID, err := r.nearest(ctx, qa.Original, 0)
	if err != nil {
		return types.RetrievalContext{}, err
	}
	referenced := referencedFileSet(qa)

	type scored struct {
		hit     vector.Hit
		boosted float64
		ref     bool
	}
	rows := make([]scored, len(hits))
	for i, h := range hits {
		c := byID[h.ChunkID]
		ref := referenced.contains(c)
		s := h.Score
		if ref {
			s *= FileBoost
		}
		rows[i] = scored{hit: h, boosted: s, ref: ref}
	}
	// Stable: equal boosted scores keep the incoming order (which is already
	// score-then-id deterministic); referenced files win residual ties.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].boosted != rows[j].boosted {
			return rows[i].boosted > rows[j].boosted
		}
		if rows[i].ref != rows[j].ref {
			return rows[i].ref
		}
		return rows[i].hit.ChunkID < rows[j].hit.ChunkID
	})
	if len(rows) > topK {
		rows = rows[:topK]
	}
	chunks := make([]types.CodeChunk, len(rows))
	for i, row := range rows {
		chunks[i] = byID[row.hit.ChunkID]
	}
	return finish(chunks, types.StrategyHybrid), nil
}

func (r *Retriever) semantic(ctx context.Context, query string, topK int) (types.RetrievalContext, error) {
	hits, byID, err := r.nearest(ctx, query, topK)
	if err != nil {
		return types.RetrievalContext{}, err
	}
	chunks := make([]types.CodeChunk, len(hits))
	for i, h := range hits {
		chunks[i] = byID[h.ChunkID]
	}
	return finish(chunks, types.StrategySemantic), nil
}

func (r *Retriever) nearest(ctx context.Context, query string, k int) ([]vector.Hit, map[string]types.CodeChunk, error) {
	if r.embedder == nil || r.searcher == nil {
		return nil, nil, vector.ErrUnavailable
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("retriever: embed query: %w", err)
	}
	hits, err := r.searcher.Nearest(ctx, vec, k)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]types.CodeChunk)
	for _, c := range r.index.AllChunks() {
		byID[c.ID] = c
	}
	kept := hits[:0]
	for _, h := range hits {
		if _, ok := byID[h.ChunkID]; ok {
			kept = append(kept, h)
		}
	}
	return kept, byID, nil
}

// --- helpers --------------------------------------------------------------

func hasHighConfidenceRef(qa types.QueryAnalysis) bool {
	for _, ref := range qa.FileRefs {
		if ref.Confidence >= HighConfidence {
			return true
		}
	}
	return false
}

type pathRef struct {
	path string
	line int
}

// referencedPaths resolves file references to indexed paths, deduplicated and
// sorted ascending so ambiguous references are visited deterministically.
func referencedPaths(qa types.QueryAnalysis, idx *scan.Index) []pathRef {
	lineFor := map[string]int{}
	var paths []string
	add := func(p string, line int) {
		if p == "" {
			return
		}
		if _, dup := lineFor[p]; !dup {
			paths = append(paths, p)
			lineFor[p] = line
		}
	}
	for _, ref := range qa.FileRefs {
		if ref.FullPath != "" {
			add(ref.FullPath, ref.Line)
			continue
		}
		for _, p := range idx.PathsForName(ref.Filename) {
			add(p, ref.Line)
		}
	}
	sort.Strings(paths)
	out := make([]pathRef, len(paths))
	for i, p := range paths {
		out[i] = pathRef{path: p, line: lineFor[p]}
	}
	return out
}

type fileSet struct {
	paths map[string]struct{}
	names map[string]struct{}
}

func referencedFileSet(qa types.QueryAnalysis) fileSet {
	s := fileSet{paths: map[string]struct{}{}, names: map[string]struct{}{}}
	for _, ref := range qa.FileRefs {
		if ref.FullPath != "" {
			s.paths[ref.FullPath] = struct{}{}
		}
		if ref.Filename != "" {
			s.names[ref.Filename] = struct{}{}
		}
	}
	return s
}

func (s fileSet) contains(c types.CodeChunk) bool {
	if _, ok := s.paths[c.FilePath]; ok {
		return true
	}
	name := c.FilePath
	if i := lastSlash(name); i >= 0 {
		name = name[i+1:]
	}
	_, ok := s.names[name]
	return ok
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

func lineDistance(c types.CodeChunk, line int) int {
	if line >= c.StartLine && line <= c.EndLine {
		return 0
	}
	if line < c.StartLine {
		return c.StartLine - line
	}
	return line - c.EndLine
}

func finish(chunks []types.CodeChunk, strategy string) types.RetrievalContext {
	files := map[string]struct{}{}
	for _, c := range chunks {
		files[c.FilePath] = struct{}{}
	}
	return types.RetrievalContext{
		Chunks:      chunks,
		TotalChunks: len(chunks),
		FileCount:   len(files),
		Strategy:    strategy,
	}
}
