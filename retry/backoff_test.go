package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/nuvine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelays(t *testing.T) {
	tests := []struct {
		name    string
		backoff Backoff
		attempt int
		want    time.Duration
	}{
		{name: "fixed first", backoff: Fixed(2 * time.Second), attempt: 1, want: 2 * time.Second},
		{name: "fixed later", backoff: Fixed(2 * time.Second), attempt: 4, want: 2 * time.Second},
		{name: "exponential first", backoff: Exponential{Base: time.Second}, attempt: 1, want: time.Second},
		{name: "exponential third", backoff: Exponential{Base: time.Second}, attempt: 3, want: 4 * time.Second},
		{name: "exponential capped", backoff: Exponential{Base: time.Second, Max: 5 * time.Second}, attempt: 10, want: 5 * time.Second},
		{name: "exponential under cap", backoff: Exponential{Base: time.Second, Max: 5 * time.Second}, attempt: 2, want: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.backoff.Delay(tt.attempt))
		})
	}
}

func TestRetryWithBackoff_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, 5, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_ReturnsLastError(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), func() error {
		calls++
		return core.ErrConcurrentUpdate
	}, 3, time.Millisecond)

	assert.ErrorIs(t, err, core.ErrConcurrentUpdate)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), func() error {
		calls++
		return core.ErrJobNotFound
	}, 5, time.Millisecond)

	assert.ErrorIs(t, err, core.ErrJobNotFound)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_InvalidAttempts(t *testing.T) {
	err := RetryWithBackoff(context.Background(), func() error { return nil }, 0, time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryWithBackoff(ctx, func() error {
		calls++
		cancel()
		return errors.New("transient")
	}, 5, time.Hour)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
