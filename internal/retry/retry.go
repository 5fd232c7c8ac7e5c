// Package retry wraps external calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds how many times an operation runs before the last
// failure propagates.
const DefaultMaxAttempts = 5

// StatusError carries the HTTP status of a failed upstream call so the
// executor can classify it.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("upstream status %d", e.Status)
}

// HTTPStatus implements the classification interface used by Retryable.
func (e *StatusError) HTTPStatus() int { return e.Status }

type statusCarrier interface {
	HTTPStatus() int
}

// Retryable reports whether the error is a transient upstream failure: HTTP
// 429 or any 5xx. Everything else, including plain network errors without a
// status, propagates immediately.
func Retryable(err error) bool {
	var sc statusCarrier
	if !errors.As(err, &sc) {
		return false
	}
	status := sc.HTTPStatus()
	return status == http.StatusTooManyRequests || status >= 500
}

// Executor retries transient failures with exponential backoff and no jitter;
// callers needing jitter add it themselves.
type Executor struct {
	MaxAttempts int
	// BaseDelay is the first backoff interval. It doubles per attempt:
	// 1, 2, 4, 8, 16 base units for attempts 0-4.
	BaseDelay time.Duration
	// Sleep is replaceable in tests. nil means time.Sleep honoring ctx.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *zap.Logger
}

// Execute runs op until it succeeds, fails terminally, or the attempt budget
// is exhausted. The last observed error is always returned; the executor never
// swallows a terminal failure.
func Execute[T any](ctx context.Context, e *Executor, description string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	delay := e.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, delay); err != nil {
				return zero, err
			}
			delay *= 2
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !Retryable(err) {
			return zero, err
		}
		if attempt+1 < maxAttempts {
			e.log().Warn("transient failure, will retry",
				zap.String("operation", description),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", maxAttempts),
				zap.Error(err),
			)
		}
	}
	return zero, fmt.Errorf("%s: attempts exhausted: %w", description, lastErr)
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) log() *zap.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return zap.L()
}
