// Package safeio confines file access to a single directory tree. The
// repository scanner and the patch applier only ever touch files under the
// configured repo root; paths that traverse or symlink out are rejected.
package safeio

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for paths that resolve outside the root.
var ErrOutsideRoot = errors.New("safeio: path escapes root")

// RootFS reads files under one absolute, symlink-resolved root.
type RootFS struct {
	root string
}

// NewRootFS resolves root to an absolute symlink-free directory.
func NewRootFS(root string) (*RootFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.New("safeio: root is not a directory")
	}
	return &RootFS{root: abs}, nil
}

// Root returns the resolved root directory.
func (r *RootFS) Root() string { return r.root }

// ReadFile reads the file at the root-relative path name.
func (r *RootFS) ReadFile(name string) ([]byte, error) {
	abs, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Stat stats the file at the root-relative path name.
func (r *RootFS) Stat(name string) (fs.FileInfo, error) {
	abs, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(abs)
}

// Resolve maps a root-relative path to an absolute one, rejecting anything
// that leaves the root either lexically or through a symlink.
func (r *RootFS) Resolve(name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", ErrOutsideRoot
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	abs := filepath.Join(r.root, clean)
	// A symlink inside the tree may still point outside it. Resolve the
	// nearest existing ancestor and check it stayed under the root; the
	// path itself may not exist yet (the patch scratch file does not).
	probe := abs
	for {
		resolved, err := filepath.EvalSymlinks(probe)
		if err == nil {
			if !hasPathPrefix(resolved, r.root) {
				return "", ErrOutsideRoot
			}
			return abs, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return "", ErrOutsideRoot
		}
		probe = parent
	}
}

func hasPathPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}
