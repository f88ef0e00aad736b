package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastOptions(maxAttempts int) Options {
	return Options{
		MaxAttempts:   maxAttempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	exec := NewExecutor(fastOptions(3), nil, zap.NewNop())

	calls := 0
	err := exec.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrRateLimited
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoShortCircuitsOnPermanentError(t *testing.T) {
	exec := NewExecutor(fastOptions(3), nil, zap.NewNop())

	calls := 0
	err := exec.Do(context.Background(), func(context.Context) error {
		calls++
		return ErrInvalidInput
	})

	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	exec := NewExecutor(fastOptions(3), nil, zap.NewNop())

	calls := 0
	err := exec.Do(context.Background(), func(context.Context) error {
		calls++
		return ErrTimeout
	})

	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 3, calls)
}

func TestDoRespectsCustomMatchers(t *testing.T) {
	errFlaky := errors.New("flaky")
	opts := fastOptions(3)
	opts.Retryable = []Matcher{func(err error) bool { return errors.Is(err, errFlaky) }}
	exec := NewExecutor(opts, nil, zap.NewNop())

	calls := 0
	err := exec.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestBreakerRejectsWithoutInvokingOperation(t *testing.T) {
	breaker := NewCircuitBreaker(2, time.Minute)
	exec := NewExecutor(fastOptions(1), breaker, zap.NewNop())

	calls := 0
	fail := func(context.Context) error {
		calls++
		return ErrUnavailable
	}

	require.Error(t, exec.Do(context.Background(), fail))
	require.Error(t, exec.Do(context.Background(), fail))
	assert.Equal(t, 2, calls)
	assert.Equal(t, BreakerOpen, breaker.State())

	err := exec.Do(context.Background(), fail)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls, "operation must not run while the breaker is open")
}

func TestBreakerCountsSequencesNotAttempts(t *testing.T) {
	breaker := NewCircuitBreaker(2, time.Minute)
	exec := NewExecutor(fastOptions(3), breaker, zap.NewNop())

	fail := func(context.Context) error { return ErrTimeout }

	// Three attempts, one sequence, one breaker failure.
	require.Error(t, exec.Do(context.Background(), fail))
	assert.Equal(t, BreakerClosed, breaker.State())

	require.Error(t, exec.Do(context.Background(), fail))
	assert.Equal(t, BreakerOpen, breaker.State())
}

func TestBreakerHalfOpenTrialSuccessCloses(t *testing.T) {
	breaker := NewCircuitBreaker(1, 10*time.Millisecond)
	exec := NewExecutor(fastOptions(1), breaker, zap.NewNop())

	require.Error(t, exec.Do(context.Background(), func(context.Context) error {
		return ErrUnavailable
	}))
	require.Equal(t, BreakerOpen, breaker.State())

	time.Sleep(15 * time.Millisecond)

	calls := 0
	require.NoError(t, exec.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
	assert.Equal(t, BreakerClosed, breaker.State())
}

func TestBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	breaker := NewCircuitBreaker(1, 10*time.Millisecond)
	exec := NewExecutor(fastOptions(1), breaker, zap.NewNop())

	fail := func(context.Context) error { return ErrUnavailable }

	require.Error(t, exec.Do(context.Background(), fail))
	time.Sleep(15 * time.Millisecond)

	require.ErrorIs(t, exec.Do(context.Background(), fail), ErrUnavailable)
	assert.Equal(t, BreakerOpen, breaker.State())

	calls := 0
	err := exec.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, calls)
}

func TestDelayForBacksOffAndCaps(t *testing.T) {
	opts := Options{
		InitialDelay:  time.Second,
		MaxDelay:      3 * time.Second,
		BackoffFactor: 2,
	}

	assert.Equal(t, time.Second, opts.DelayFor(1))
	assert.Equal(t, 2*time.Second, opts.DelayFor(2))
	assert.Equal(t, 3*time.Second, opts.DelayFor(3))
	assert.Equal(t, 3*time.Second, opts.DelayFor(10))
}
