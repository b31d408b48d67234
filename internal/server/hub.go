package server

import (
	"sync"

	"repoquery/internal/refine"
)

// Hub fans refinement events out to watch subscribers. Publish never
// blocks: a subscriber that cannot keep up loses events.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan refine.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan refine.Event]struct{}{}}
}

func (h *Hub) Publish(ev refine.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.RunID] {
		select {
		case ch <- ev:
		default:
		}
	}
	// Wildcard subscribers see every run.
	for ch := range h.subs[""] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a listener for one run id, or for all runs when the
// id is empty. The returned cancel func must be called exactly once.
func (h *Hub) Subscribe(runID string) (<-chan refine.Event, func()) {
	ch := make(chan refine.Event, 32)
	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = map[chan refine.Event]struct{}{}
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs[runID], ch)
		if len(h.subs[runID]) == 0 {
			delete(h.subs, runID)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}
