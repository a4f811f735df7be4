// Package recovery retries transient collaborator failures with bounded
// exponential backoff. Only errors the taxonomy marks retryable are retried;
// validation, authorization, and integrity failures surface immediately.
package recovery

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	engerr "github.com/0xtide/delegated-trading-engine/internal/errors"
)

// Logger is the subset of the file logger the handler needs.
type Logger interface {
	Info(format string, args ...interface{})
	LogWarning(context, message string, args ...interface{})
	Error(format string, args ...interface{})
}

// BackoffConfig defines the retry delay schedule.
type BackoffConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// Handler executes operations with automatic retry on transient failures.
type Handler struct {
	maxAttempts int
	backoff     BackoffConfig
	logger      Logger
}

// NewHandler creates a recovery handler. logger may be nil.
func NewHandler(logger Logger) *Handler {
	return &Handler{
		maxAttempts: 5,
		backoff: BackoffConfig{
			BaseDelay:  1 * time.Second,
			MaxDelay:   30 * time.Second,
			Multiplier: 1.5,
			Jitter:     true,
		},
		logger: logger,
	}
}

// WithMaxAttempts overrides the attempt bound.
func (h *Handler) WithMaxAttempts(attempts int) *Handler {
	if attempts > 0 {
		h.maxAttempts = attempts
	}
	return h
}

// WithBackoff overrides the delay schedule.
func (h *Handler) WithBackoff(backoff BackoffConfig) *Handler {
	h.backoff = backoff
	return h
}

// Execute runs fn, retrying retryable failures with backoff until the
// attempt bound or context cancellation.
func (h *Handler) Execute(ctx context.Context, component, operation string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < h.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				h.logf("Operation %s.%s succeeded after %d attempts", component, operation, attempt+1)
			}
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		h.warnf(component, "attempt %d of %s failed: %v", attempt+1, operation, err)

		delay := h.delayFor(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s.%s failed after %d attempts: %w", component, operation, h.maxAttempts, lastErr)
}

// retryable treats tagged transient errors and explicitly retryable engine
// errors as safe to retry. Untagged errors are not retried.
func retryable(err error) bool {
	if engerr.IsTransient(err) {
		return true
	}
	var ee *engerr.EngineError
	if stderrors.As(err, &ee) {
		return ee.IsRetryable()
	}
	return false
}

// delayFor computes the backoff delay for an attempt index.
func (h *Handler) delayFor(attempt int) time.Duration {
	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= h.backoff.Multiplier
	}
	delay := time.Duration(float64(h.backoff.BaseDelay) * multiplier)
	if delay > h.backoff.MaxDelay {
		delay = h.backoff.MaxDelay
	}
	if h.backoff.Jitter && delay > 0 {
		// 10% jitter
		jitter := time.Duration(float64(delay) * 0.1)
		if jitter > 0 {
			delay += time.Duration(time.Now().UnixNano() % int64(jitter))
		}
	}
	return delay
}

func (h *Handler) logf(format string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Info(format, args...)
	}
}

func (h *Handler) warnf(component, format string, args ...interface{}) {
	if h.logger != nil {
		h.logger.LogWarning(component, format, args...)
	}
}
