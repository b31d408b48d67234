// Package scan builds the repository index: a file tree plus overlapping code
// chunks addressable by identifier.
package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"repoquery/internal/safeio"
	"repoquery/internal/types"
)

// Options controls a repository walk.
type Options struct {
	// IgnoreDirs are directory basenames skipped during the walk, in
	// addition to the built-in VCS and dependency directories.
	IgnoreDirs []string
	// AllowExts restricts indexing to the listed extensions (".go", ".rb");
	// empty means the built-in code extension set.
	AllowExts []string
	// ChunkSize is the target chunk size in characters.
	ChunkSize int
	// Overlap is the number of characters repeated between adjacent chunks,
	// so a concept split across a boundary is retrievable from at least one.
	Overlap int
	// Workers bounds the chunking worker pool. <=0 uses GOMAXPROCS.
	Workers int
}

const (
	DefaultChunkSize = 1600
	DefaultOverlap   = 200
)

var defaultIgnoreDirs = []string{".git", ".hg", ".svn", "node_modules", "vendor", "target", "build", ".next", ".cache", "__pycache__"}

// FileVisit carries per-entry metadata during a walk.
type FileVisit struct {
	Path string // repo-relative, forward slashes
	Ext  string
	Size int64
}

// Index is an immutable snapshot of one index pass. Rebuilding produces a new
// Index; readers holding an old snapshot are unaffected.
type Index struct {
	Root   string
	files  []types.FileNode
	byPath map[string]types.FileNode
	byName map[string][]string // lowercased basename -> repo-relative paths, sorted
	chunks []types.CodeChunk
	byFile map[string][]types.CodeChunk
}

// Build walks root and returns a fresh Index. File contents are read through
// a root-confined filesystem so symlinks cannot pull outside files into the
// index.
func Build(root string, opts Options) (*Index, error) {
	fsys, err := safeio.NewRootFS(root)
	if err != nil {
		return nil, fmt.Errorf("scan: repository root %s unavailable: %w", root, err)
	}
	root = fsys.Root()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.ChunkSize {
		opts.Overlap = DefaultOverlap
	}
	ignore := map[string]struct{}{}
	for _, d := range append(append([]string(nil), defaultIgnoreDirs...), opts.IgnoreDirs...) {
		ignore[d] = struct{}{}
	}
	allow := allowSet(opts.AllowExts)

	var visits []FileVisit
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if _, skip := ignore[filepath.Base(path)]; skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		ext := strings.ToLower(filepath.Ext(rel))
		if _, ok := allow[ext]; !ok {
			return nil
		}
		size := int64(0)
		if fi, e := os.Stat(path); e == nil {
			size = fi.Size()
		}
		visits = append(visits, FileVisit{Path: rel, Ext: ext, Size: size})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(visits, func(i, j int) bool { return visits[i].Path < visits[j].Path })

	idx := &Index{
		Root:   root,
		byPath: make(map[string]types.FileNode, len(visits)),
		byName: make(map[string][]string),
		byFile: make(map[string][]types.CodeChunk),
	}

	type fileResult struct {
		node   types.FileNode
		chunks []types.CodeChunk
	}
	results := make([]fileResult, len(visits))

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	tasks := make(chan int, len(visits))
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range tasks {
				fv := visits[i]
				data, err := fsys.ReadFile(fv.Path)
				if err != nil {
					continue
				}
				sum := sha256.Sum256(data)
				node := types.FileNode{
					Path:     fv.Path,
					Name:     filepath.Base(fv.Path),
					Ext:      fv.Ext,
					Language: LanguageForExt(fv.Ext),
					Size:     fv.Size,
					Hash:     hex.EncodeToString(sum[:8]),
				}
				results[i] = fileResult{
					node:   node,
					chunks: chunkText(string(data), node, opts.ChunkSize, opts.Overlap),
				}
			}
		}()
	}
	for i := range visits {
		tasks <- i
	}
	close(tasks)
	wg.Wait()

	// Assemble in sorted file order so chunk identifiers are stable across
	// passes over an unchanged tree.
	seq := 0
	for _, r := range results {
		if r.node.Path == "" {
			continue
		}
		idx.files = append(idx.files, r.node)
		idx.byPath[r.node.Path] = r.node
		key := strings.ToLower(r.node.Name)
		idx.byName[key] = append(idx.byName[key], r.node.Path)
		for _, c := range r.chunks {
			c.ID = fmt.Sprintf("c%06d", seq)
			seq++
			idx.chunks = append(idx.chunks, c)
			idx.byFile[c.FilePath] = append(idx.byFile[c.FilePath], c)
		}
	}
	return idx, nil
}

// ListFiles returns the indexed file tree in path order.
func (x *Index) ListFiles() []types.FileNode {
	out := make([]types.FileNode, len(x.files))
	copy(out, x.files)
	return out
}

// AllChunks returns every chunk in identifier order.
func (x *Index) AllChunks() []types.CodeChunk {
	out := make([]types.CodeChunk, len(x.chunks))
	copy(out, x.chunks)
	return out
}

// ChunksOf returns the chunks of one file in file order.
func (x *Index) ChunksOf(path string) []types.CodeChunk {
	cs := x.byFile[path]
	out := make([]types.CodeChunk, len(cs))
	copy(out, cs)
	return out
}

// HasPath reports whether the exact repo-relative path is indexed.
func (x *Index) HasPath(path string) bool {
	_, ok := x.byPath[path]
	return ok
}

// PathsForName returns all indexed paths whose basename equals name
// (case-insensitive), sorted ascending.
func (x *Index) PathsForName(name string) []string {
	ps := x.byName[strings.ToLower(name)]
	out := make([]string, len(ps))
	copy(out, ps)
	return out
}

// Stats summarizes the index for /stats and metadata answers.
type Stats struct {
	TotalFiles  int            `json:"total_files"`
	TotalChunks int            `json:"total_chunks"`
	TotalBytes  int64          `json:"total_bytes"`
	Languages   map[string]int `json:"languages"`
}

func (x *Index) Stats() Stats {
	s := Stats{Languages: map[string]int{}}
	for _, f := range x.files {
		s.TotalFiles++
		s.TotalBytes += f.Size
		if f.Language != "" {
			s.Languages[f.Language]++
		}
	}
	s.TotalChunks = len(x.chunks)
	return s
}

// TreeSummary renders a short textual file listing for prompts and metadata
// answers. At most limit paths are listed.
func (x *Index) TreeSummary(limit int) string {
	if limit <= 0 || limit > len(x.files) {
		limit = len(x.files)
	}
	var b strings.Builder
	st := x.Stats()
	fmt.Fprintf(&b, "Repository: %d files, %d chunks\n", st.TotalFiles, st.TotalChunks)
	langs := make([]string, 0, len(st.Languages))
	for l := range st.Languages {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	if len(langs) > 0 {
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(langs, ", "))
	}
	for i := 0; i < limit; i++ {
		fmt.Fprintf(&b, "- %s\n", x.files[i].Path)
	}
	if limit < len(x.files) {
		fmt.Fprintf(&b, "... and %d more files\n", len(x.files)-limit)
	}
	return b.String()
}

func allowSet(exts []string) map[string]struct{} {
	src := exts
	if len(src) == 0 {
		src = codeExts
	}
	out := make(map[string]struct{}, len(src))
	for _, e := range src {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[e] = struct{}{}
	}
	return out
}
