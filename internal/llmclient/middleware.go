package llmclient

import (
	"context"
	"errors"
	"time"
)

// timeoutClient bounds every call with its own deadline. A timed-out call
// surfaces as a plain error, which the orchestrator treats as a failed
// generation for that candidate only.
type timeoutClient struct {
	inner Client
	d     time.Duration
}

func WithTimeout(inner Client, d time.Duration) Client {
	if d <= 0 {
		return inner
	}
	return &timeoutClient{inner: inner, d: d}
}

func (t *timeoutClient) Name() string { return t.inner.Name() }
func (t *timeoutClient) Close() error { return t.inner.Close() }

func (t *timeoutClient) Generate(ctx context.Context, role, prompt string, p Params) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.Generate(cctx, role, prompt, p)
}

// retryClient retries transient provider failures with fixed backoff.
// Permanent errors and context cancellation pass through immediately.
type retryClient struct {
	inner    Client
	attempts int
	backoff  time.Duration
}

func WithRetry(inner Client, attempts int, backoff time.Duration) Client {
	if attempts <= 1 {
		return inner
	}
	return &retryClient{inner: inner, attempts: attempts, backoff: backoff}
}

func (r *retryClient) Name() string { return r.inner.Name() }
func (r *retryClient) Close() error { return r.inner.Close() }

func (r *retryClient) Generate(ctx context.Context, role, prompt string, p Params) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		out, err := r.inner.Generate(ctx, role, prompt, p)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if IsPermanent(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if !Retryable(err) {
			break
		}
		if attempt < r.attempts-1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.backoff * time.Duration(attempt+1)):
			}
		}
	}
	return "", lastErr
}
