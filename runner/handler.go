// Package runner executes calls with a timeout and a retry policy.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-stackflow/logging"
)

// Stats counts the calls made through a Handler.
type Stats struct {
	Runs           int
	SuccessfulRuns int
	Attempts       int
}

type Handler struct {
	mu sync.Mutex

	logger        logging.Logger
	errorHandler  func(error)
	retryStrategy RetryStrategy

	runs           int
	successfulRuns int
	attempts       int

	maxRetries int
	timeout    time.Duration
	deadline   time.Time
}

// NewHandler constructs a Handler from options, applying defaults if unset.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		retryStrategy: NoDelayStrategy{},
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	h.logger = logging.Normalize(h.logger)
	if h.errorHandler == nil {
		logger := h.logger
		h.errorHandler = func(err error) {
			logger.Debug("runner error: %v", err)
		}
	}
	return h
}

// Run calls fn until it succeeds, the retry budget is spent, the strategy
// refuses a retry or ctx ends. It returns the last error.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	h.mu.Lock()
	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	h.mu.Unlock()

	ctx, cancel := h.contextWithSettings(ctx)
	defer cancel()

	var err error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		err = fn(ctx)
		if err == nil || attempt == maxRetries {
			break
		}

		decision := DecideRetry(strategy, attempt, err)
		if !decision.ShouldRetry {
			break
		}
		h.errorHandler(apperrors.Wrap(err, apperrors.CategoryExternal,
			fmt.Sprintf("attempt %d of %d failed", attempt+1, maxRetries+1)))

		if decision.Delay > 0 {
			timer := time.NewTimer(decision.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				err = ctx.Err()
				attempt = maxRetries
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
	}

	h.mu.Lock()
	h.runs++
	h.attempts += attempts
	if err == nil {
		h.successfulRuns++
	}
	h.mu.Unlock()

	if err != nil {
		h.logger.Debug("run failed after %d attempts: %v", attempts, err)
	}
	return err
}

// Stats returns the call counters.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Runs: h.runs, SuccessfulRuns: h.successfulRuns, Attempts: h.attempts}
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	switch {
	case h.timeout != 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctxDeadline, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctxDeadline, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout != 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return parent, func() {}
	}
}

// Do runs fn through h and returns its value.
func Do[R any](ctx context.Context, h *Handler, fn func(context.Context) (R, error)) (R, error) {
	var result R
	err := h.Run(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}
