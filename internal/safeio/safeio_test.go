package safeio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestFS(t *testing.T) (*RootFS, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "file.go"), []byte("package sub\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fsys, err := NewRootFS(dir)
	if err != nil {
		t.Fatalf("NewRootFS: %v", err)
	}
	return fsys, dir
}

func TestReadFileInsideRoot(t *testing.T) {
	fsys, _ := newTestFS(t)
	data, err := fsys.ReadFile("sub/file.go")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "package sub\n" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestRejectTraversal(t *testing.T) {
	fsys, _ := newTestFS(t)
	for _, name := range []string{"..", "../outside.txt", "sub/../../x"} {
		if _, err := fsys.Resolve(name); !errors.Is(err, ErrOutsideRoot) {
			t.Fatalf("Resolve(%q): expected ErrOutsideRoot, got %v", name, err)
		}
	}
}

func TestRejectAbsolutePath(t *testing.T) {
	fsys, dir := newTestFS(t)
	if _, err := fsys.Resolve(filepath.Join(dir, "sub", "file.go")); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot for absolute path, got %v", err)
	}
}

func TestRejectSymlinkEscape(t *testing.T) {
	fsys, dir := newTestFS(t)
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("no"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(dir, "link.txt")); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}
	if _, err := fsys.ReadFile("link.txt"); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot through symlink, got %v", err)
	}
}

func TestResolveMissingFile(t *testing.T) {
	// A path that does not exist yet must still resolve so callers can
	// create it in place.
	fsys, _ := newTestFS(t)
	got, err := fsys.Resolve(".scratch.patch")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := filepath.Join(fsys.Root(), ".scratch.patch")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRootMustBeDirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewRootFS(f); err == nil {
		t.Fatalf("expected error for non-directory root")
	}
}
