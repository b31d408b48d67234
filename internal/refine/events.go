package refine

import "time"

// Event is one observable step of a refinement run. Events are advisory:
// slow or absent consumers never block the run.
type Event struct {
	RunID   string    `json:"run_id"`
	Type    string    `json:"type"`
	Loop    int       `json:"loop,omitempty"`
	Sample  int       `json:"sample,omitempty"`
	Score   int       `json:"score,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

const (
	EventRunStarted = "run_started"
	EventPlanDone   = "plan_done"
	EventLoopStart  = "loop_start"
	EventCandidate  = "candidate"
	EventVerdict    = "verdict"
	EventLoopDone   = "loop_done"
	EventRunDone    = "run_done"
)

// Sink receives run events. Implementations must not block.
type Sink interface {
	Publish(ev Event)
}

type nopSink struct{}

func (nopSink) Publish(Event) {}

// NopSink discards all events.
var NopSink Sink = nopSink{}
