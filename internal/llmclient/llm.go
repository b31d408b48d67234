// Package llmclient wraps the generation backends behind one small
// interface. Cross-cutting concerns (timeouts, retries) are applied
// via middleware wrappers, not inside the backend clients.
package llmclient

import (
	"context"
	"errors"
)

// Prompt roles. Backends may use the role to tune request shape; the
// orchestrator uses it for logging and call accounting.
const (
	RolePlanner = "planner"
	RoleCoder   = "coder"
	RoleJudge   = "judge"
	RoleAnswer  = "answer"
)

var ErrEmptyResponse = errors.New("llmclient: model returned no content")

// Params carries per-call generation parameters.
type Params struct {
	MaxNewTokens int
	Temperature  float64
	JSON         bool // ask the backend for a JSON-typed response when supported
}

// Client is the generation interface consumed by the orchestrator.
type Client interface {
	Name() string
	Generate(ctx context.Context, role, prompt string, p Params) (string, error)
	Close() error
}

// PermanentError marks an error that will not resolve with retries.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
