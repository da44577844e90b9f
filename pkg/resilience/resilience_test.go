package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("remote", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     10 * time.Millisecond,
		OnStateChange:    func(_ string, _, to State) { transitions = append(transitions, to) },
	})

	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	cb := NewCircuitBreaker("remote", CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return err != nil && !errors.Is(err, apperrors.ErrRemoteConflict) },
	})
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return apperrors.ErrRemoteConflict }), apperrors.ErrRemoteConflict)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, apperrors.ErrInvalidInput) },
	}, func() error {
		calls++
		return apperrors.ErrInvalidInput
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, 1, calls)
}

func TestRetrySucceedsEventually(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithTimeoutMatchesTimeoutSentinels(t *testing.T) {
	err := WithTimeout(context.Background(), 5*time.Millisecond, "slow", func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
