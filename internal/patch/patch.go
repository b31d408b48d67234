// Package patch applies unified diffs to the repository through the
// external patch utility.
package patch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"repoquery/internal/safeio"
)

// ErrDisabled is returned for every apply attempt when the applier was
// configured off. Callers surface it verbatim instead of attempting work.
var ErrDisabled = errors.New("patch: applying diffs is disabled by configuration")

var ErrEmptyDiff = errors.New("patch: empty diff")

// runPatch is injectable in tests.
var runPatch = func(ctx context.Context, dir, diffFile string) (string, error) {
	cmd := exec.CommandContext(ctx, "patch", "-p0", "-i", diffFile)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("patch -p0: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Applier writes diffs to a scratch file inside the repo and shells out to
// the patch tool.
type Applier struct {
	root    string
	enabled bool
}

func NewApplier(root string, enabled bool) *Applier {
	return &Applier{root: root, enabled: enabled}
}

// Apply runs the diff against the repository root and reports the files the
// patch tool says it touched.
func (a *Applier) Apply(ctx context.Context, diff string) ([]string, error) {
	if !a.enabled {
		return nil, ErrDisabled
	}
	if strings.TrimSpace(diff) == "" {
		return nil, ErrEmptyDiff
	}

	fsys, err := safeio.NewRootFS(a.root)
	if err != nil {
		return nil, fmt.Errorf("patch: repository root: %w", err)
	}
	tmp, err := fsys.Resolve(".repoquery.patch")
	if err != nil {
		return nil, fmt.Errorf("patch: scratch file: %w", err)
	}
	if err := os.WriteFile(tmp, []byte(diff), 0o644); err != nil {
		return nil, fmt.Errorf("patch: write diff: %w", err)
	}
	defer os.Remove(tmp)

	out, err := runPatch(ctx, fsys.Root(), tmp)
	if err != nil {
		return nil, err
	}
	return changedFiles(out), nil
}

// changedFiles extracts touched paths from the tool's "patching file X" lines.
func changedFiles(out string) []string {
	var changed []string
	for _, line := range strings.Split(out, "\n") {
		if name, ok := strings.CutPrefix(line, "patching file "); ok {
			changed = append(changed, strings.TrimSpace(name))
		}
	}
	return changed
}
