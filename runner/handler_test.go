package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_RetriesUntilSuccess(t *testing.T) {
	var reported []error
	h := NewHandler(
		WithMaxRetries(3),
		WithErrorHandler(func(err error) { reported = append(reported, err) }),
	)

	calls := 0
	err := h.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, reported, 2)
	assert.Equal(t, Stats{Runs: 1, SuccessfulRuns: 1, Attempts: 3}, h.Stats())
}

func TestHandler_ReturnsLastError(t *testing.T) {
	h := NewHandler(WithMaxRetries(2))

	calls := 0
	err := h.Run(context.Background(), func(context.Context) error {
		calls++
		return errors.New("down")
	})

	require.EqualError(t, err, "down")
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, h.Stats().SuccessfulRuns)
}

func TestHandler_PermanentErrorIsNotRetried(t *testing.T) {
	permanent := errors.New("unauthorized")
	h := NewHandler(
		WithMaxRetries(5),
		WithRetryStrategy(RetryIf{
			Strategy:  NoDelayStrategy{},
			Retryable: func(err error) bool { return !errors.Is(err, permanent) },
		}),
	)

	calls := 0
	err := h.Run(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestHandler_TimeoutAppliesToContext(t *testing.T) {
	h := NewHandler(WithTimeout(20 * time.Millisecond))

	err := h.Run(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandler_BackoffStopsWhenContextEnds(t *testing.T) {
	h := NewHandler(
		WithMaxRetries(3),
		WithRetryStrategy(ExponentialBackoffStrategy{Base: time.Hour, Factor: 1}),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := h.Run(ctx, func(context.Context) error {
		calls++
		return errors.New("down")
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestDo_ReturnsValue(t *testing.T) {
	h := NewHandler()
	got, err := Do(context.Background(), h, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}
