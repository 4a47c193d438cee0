package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/querydesk/querydesk/internal/observability"
)

var ErrGenerationUnavailable = errors.New("sql generation unavailable")

// Generator turns an assembled prompt into raw model text. The text is not
// trusted: callers must pass it through sqlguard before execution.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// transientError marks a failure that may succeed on a second attempt.
type transientError struct {
	err error
}

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var marked transientError
	if errors.As(err, &marked) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isTransientStatus(status int) bool {
	return status == 429 || status >= 500
}

// generateWithRetry runs call at most retries+1 times; only transient
// failures are retried. The result is wrapped with ErrGenerationUnavailable.
func generateWithRetry(ctx context.Context, provider string, retries int, timeout time.Duration, call func(ctx context.Context) (string, error)) (string, error) {
	if retries < 0 {
		retries = 0
	}
	if retries > 1 {
		retries = 1
	}

	started := time.Now()
	defer func() { observability.ObserveGeneration(time.Since(started)) }()

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		text, err := callWithTimeout(ctx, timeout, call)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isTransient(err) {
			break
		}
	}
	return "", fmt.Errorf("%w: %s: %v", ErrGenerationUnavailable, provider, lastErr)
}

func callWithTimeout(ctx context.Context, timeout time.Duration, call func(ctx context.Context) (string, error)) (string, error) {
	if timeout <= 0 {
		return call(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return call(callCtx)
}
