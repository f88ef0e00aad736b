package resilience

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// Matcher reports whether an error is worth retrying.
type Matcher func(error) bool

// Options parameterize the retry schedule of an Executor.
type Options struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Retryable     []Matcher
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.BackoffFactor <= 1 {
		o.BackoffFactor = 2
	}
	if len(o.Retryable) == 0 {
		o.Retryable = []Matcher{IsTransient}
	}
	return o
}

// DelayFor returns the backoff delay preceding the given retry, capped at
// MaxDelay. attempt counts from 1 (the attempt that just failed).
func (o Options) DelayFor(attempt int) time.Duration {
	d := time.Duration(float64(o.InitialDelay) * math.Pow(o.BackoffFactor, float64(attempt-1)))
	if d > o.MaxDelay || d <= 0 {
		d = o.MaxDelay
	}
	return d
}

// Executor wraps a single kind of external call with bounded retry and a
// circuit breaker. The breaker gates the whole retry sequence and its
// failure counter moves only on the sequence's final outcome.
type Executor struct {
	opts    Options
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewExecutor creates an Executor. breaker may be nil to disable circuit
// breaking.
func NewExecutor(opts Options, breaker *CircuitBreaker, logger *zap.Logger) *Executor {
	return &Executor{
		opts:    opts.withDefaults(),
		breaker: breaker,
		logger:  logger,
	}
}

// Do runs op through the breaker and the retry schedule. Non-retryable
// errors short-circuit after a single attempt.
func (e *Executor) Do(ctx context.Context, op func(context.Context) error) error {
	if e.breaker != nil {
		if err := e.breaker.Allow(); err != nil {
			return err
		}
	}

	err := e.retry(ctx, op)

	if e.breaker != nil && ctx.Err() == nil {
		if err != nil {
			e.breaker.RecordFailure()
		} else {
			e.breaker.RecordSuccess()
		}
	}
	return err
}

func (e *Executor) retry(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == e.opts.MaxAttempts || !e.retryable(lastErr) {
			return lastErr
		}

		delay := e.opts.DelayFor(attempt)
		e.logger.Debug("Retrying failed call",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (e *Executor) retryable(err error) bool {
	for _, match := range e.opts.Retryable {
		if match(err) {
			return true
		}
	}
	return false
}
