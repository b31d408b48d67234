// Package server exposes the HTTP surface: query endpoints, diff
// application, status and the websocket watch stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"repoquery/internal/artifact"
	"repoquery/internal/patch"
	"repoquery/internal/refine"
	"repoquery/internal/scan"
	"repoquery/internal/types"
)

const Version = "1.0.0"

// Engine is the query execution surface the handlers call into.
type Engine interface {
	Answer(ctx context.Context, query string, opts refine.Options) (refine.Result, error)
	Refine(ctx context.Context, query string, opts refine.Options) (refine.Result, error)
}

// Handler carries the collaborators behind the HTTP surface. The index is
// guarded so a rebuild never races an in-flight retrieval.
type Handler struct {
	engine  Engine
	applier *patch.Applier
	archive *artifact.Archive
	hub     *Hub

	repoRoot string
	topK     int

	indexMu sync.RWMutex
	index   *scan.Index
	rebuild func() (*scan.Index, error)
}

func NewHandler(engine Engine, applier *patch.Applier, archive *artifact.Archive, hub *Hub, index *scan.Index, repoRoot string, topK int, rebuild func() (*scan.Index, error)) *Handler {
	return &Handler{
		engine:   engine,
		applier:  applier,
		archive:  archive,
		hub:      hub,
		repoRoot: repoRoot,
		topK:     topK,
		index:    index,
		rebuild:  rebuild,
	}
}

type queryRequest struct {
	Prompt       string  `json:"prompt"`
	TopK         int     `json:"top_k"`
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
	NumSamples   int     `json:"num_samples"`
	MaxLoops     int     `json:"max_loops"`
}

type queryResponse struct {
	RunID     string       `json:"run_id"`
	Model     string       `json:"model"`
	TookMS    int64        `json:"took_ms"`
	Retrieved int          `json:"retrieved"`
	Strategy  string       `json:"strategy"`
	Result    types.Answer `json:"result"`

	TaskSpec *types.TaskSpec    `json:"task_spec,omitempty"`
	Verdict  *types.Verdict     `json:"best_verdict,omitempty"`
	Trail    []types.LoopRecord `json:"trail,omitempty"`
}

func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}
	started := time.Now()
	res, err := h.engine.Answer(r.Context(), req.Prompt, h.options(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, responseOf(res, started))
}

func (h *Handler) HandleQueryPlus(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}
	started := time.Now()
	res, err := h.engine.Refine(r.Context(), req.Prompt, h.options(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if h.archive != nil {
		go func(runID string, res refine.Result) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := h.archive.SaveTrail(ctx, runID, res); err != nil {
				log.Printf("server: archive trail %s: %v", runID, err)
			}
		}(res.RunID, res)
	}

	out := responseOf(res, started)
	out.TaskSpec = &res.Spec
	out.Verdict = res.BestVerdict
	out.Trail = res.Trail
	writeJSON(w, http.StatusOK, out)
}

type applyRequest struct {
	Diff string `json:"diff"`
}

type applyResponse struct {
	ChangedFiles []string `json:"changed_files"`
}

func (h *Handler) HandleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("POST required"))
		return
	}
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	changed, err := h.applier.Apply(r.Context(), req.Diff)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, patch.ErrDisabled) {
			status = http.StatusForbidden
		} else if errors.Is(err, patch.ErrEmptyDiff) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, applyResponse{ChangedFiles: changed})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
		"repo":    h.repoRoot,
	})
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	idx := h.Index()
	if idx == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("index not built yet"))
		return
	}
	writeJSON(w, http.StatusOK, idx.Stats())
}

// HandleReindex rebuilds the index. The write lock keeps rebuilds mutually
// exclusive with query-time reads.
func (h *Handler) HandleReindex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("POST required"))
		return
	}
	if h.rebuild == nil {
		writeError(w, http.StatusNotImplemented, errors.New("reindex not configured"))
		return
	}
	idx, err := h.rebuild()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.indexMu.Lock()
	h.index = idx
	h.indexMu.Unlock()
	writeJSON(w, http.StatusOK, idx.Stats())
}

// Index returns the current index snapshot.
func (h *Handler) Index() *scan.Index {
	h.indexMu.RLock()
	defer h.indexMu.RUnlock()
	return h.index
}

func (h *Handler) decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("POST required"))
		return queryRequest{}, false
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return queryRequest{}, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, errors.New("prompt is required"))
		return queryRequest{}, false
	}
	return req, true
}

func (h *Handler) options(req queryRequest) refine.Options {
	topK := req.TopK
	if topK <= 0 {
		topK = h.topK
	}
	return refine.Options{
		TopK:         topK,
		NumSamples:   req.NumSamples,
		MaxLoops:     req.MaxLoops,
		MaxNewTokens: req.MaxNewTokens,
		Temperature:  req.Temperature,
	}
}

func responseOf(res refine.Result, started time.Time) queryResponse {
	return queryResponse{
		RunID:     res.RunID,
		Model:     res.Model,
		TookMS:    time.Since(started).Milliseconds(),
		Retrieved: res.Retrieved,
		Strategy:  res.Strategy,
		Result:    res.Answer,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
