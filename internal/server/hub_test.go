package server

import (
	"testing"
	"time"

	"repoquery/internal/refine"
)

func TestHubRoutesByRunID(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("run-a")
	defer cancel()

	hub.Publish(refine.Event{RunID: "run-a", Type: refine.EventLoopStart, Loop: 1})
	hub.Publish(refine.Event{RunID: "run-b", Type: refine.EventLoopStart, Loop: 9})

	select {
	case ev := <-ch:
		if ev.RunID != "run-a" || ev.Loop != 1 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}

	select {
	case ev := <-ch:
		t.Fatalf("event for another run leaked: %+v", ev)
	default:
	}
}

func TestHubWildcardSeesAllRuns(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("")
	defer cancel()

	hub.Publish(refine.Event{RunID: "x", Type: refine.EventRunStarted})
	hub.Publish(refine.Event{RunID: "y", Type: refine.EventRunStarted})

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("wildcard subscriber missed event %d", i)
		}
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("busy")
	defer cancel()

	// Overflow the subscriber buffer; Publish must drop, not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(refine.Event{RunID: "busy", Type: refine.EventCandidate})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
}
