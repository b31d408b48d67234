package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"repoquery/internal/patch"
	"repoquery/internal/refine"
	"repoquery/internal/scan"
	"repoquery/internal/types"
)

type fakeEngine struct {
	answer  refine.Result
	refined refine.Result
	err     error

	lastOpts refine.Options
}

func (f *fakeEngine) Answer(_ context.Context, _ string, opts refine.Options) (refine.Result, error) {
	f.lastOpts = opts
	return f.answer, f.err
}

func (f *fakeEngine) Refine(_ context.Context, _ string, opts refine.Options) (refine.Result, error) {
	f.lastOpts = opts
	return f.refined, f.err
}

func testIndex(t *testing.T) *scan.Index {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))
	idx, err := scan.Build(root, scan.Options{})
	require.NoError(t, err)
	return idx
}

func newTestHandler(t *testing.T, engine Engine, applyEnabled bool) *Handler {
	t.Helper()
	applier := patch.NewApplier(t.TempDir(), applyEnabled)
	return NewHandler(engine, applier, nil, NewHub(), testIndex(t), "/repo", 12, nil)
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestHandleQuery(t *testing.T) {
	engine := &fakeEngine{answer: refine.Result{
		RunID:     "r1",
		Model:     "gemini-2.5-pro",
		Strategy:  types.StrategyFileSpecific,
		Retrieved: 3,
		Answer:    types.Answer{Analysis: "it routes requests", Confidence: 0.8},
	}}
	h := newTestHandler(t, engine, true)

	rec := postJSON(t, h.HandleQuery, "/query", map[string]any{"prompt": "how does routing work", "top_k": 7})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp queryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "gemini-2.5-pro", resp.Model)
	require.Equal(t, 3, resp.Retrieved)
	require.Equal(t, "it routes requests", resp.Result.Analysis)
	require.Nil(t, resp.Verdict)
	require.Equal(t, 7, engine.lastOpts.TopK)
}

func TestHandleQueryDefaultsTopK(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestHandler(t, engine, true)
	rec := postJSON(t, h.HandleQuery, "/query", map[string]any{"prompt": "x"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 12, engine.lastOpts.TopK)
}

func TestHandleQueryRejectsEmptyPrompt(t *testing.T) {
	h := newTestHandler(t, &fakeEngine{}, true)
	rec := postJSON(t, h.HandleQuery, "/query", map[string]any{"prompt": "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryPlusIncludesTrail(t *testing.T) {
	verdict := &types.Verdict{Score: 90, Pass: true}
	engine := &fakeEngine{refined: refine.Result{
		RunID:       "r2",
		Model:       "gpt-4.1",
		Answer:      types.Answer{Analysis: "done", Confidence: 0.9},
		Spec:        types.TaskSpec{Goal: "add feature"},
		BestVerdict: verdict,
		Trail:       []types.LoopRecord{{Loop: 1, BestScore: 90, EarlyStop: true}},
	}}
	h := newTestHandler(t, engine, true)

	rec := postJSON(t, h.HandleQueryPlus, "/query_plus", map[string]any{
		"prompt": "add feature", "num_samples": 2, "max_loops": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp queryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.TaskSpec)
	require.Equal(t, "add feature", resp.TaskSpec.Goal)
	require.NotNil(t, resp.Verdict)
	require.Equal(t, 90, resp.Verdict.Score)
	require.Len(t, resp.Trail, 1)
	require.Equal(t, 2, engine.lastOpts.NumSamples)
}

func TestHandleApplyDisabled(t *testing.T) {
	h := newTestHandler(t, &fakeEngine{}, false)
	rec := postJSON(t, h.HandleApply, "/apply", map[string]any{"diff": "--- a\n+++ b\n"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp["error"], "disabled")
}

func TestHandleApplyEmptyDiff(t *testing.T) {
	h := newTestHandler(t, &fakeEngine{}, true)
	rec := postJSON(t, h.HandleApply, "/apply", map[string]any{"diff": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	h := newTestHandler(t, &fakeEngine{}, true)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp["status"])
}

func TestHandleStats(t *testing.T) {
	h := newTestHandler(t, &fakeEngine{}, true)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	h.HandleStats(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var st scan.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(t, 1, st.TotalFiles)
}

func TestHandleQueryMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, &fakeEngine{}, true)
	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	rec := httptest.NewRecorder()
	h.HandleQuery(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
