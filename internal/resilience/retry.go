package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// JitterFactor adds up to this fraction of the delay at random.
	JitterFactor float64
	Sleep        func(context.Context, time.Duration) error
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}
}

// OnRetry is called before each backoff sleep. attempt counts from 1.
type OnRetry func(attempt int, err error, delay time.Duration)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Retry returns it without another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether Retry would attempt the call again after err.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var permanent *permanentError
	if errors.As(err, &permanent) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var classified interface{ Retryable() bool }
	if errors.As(err, &classified) {
		return classified.Retryable()
	}
	return true
}

// Retry runs op until it succeeds, returns a non-retryable error, or the retry
// budget is spent. The returned error is the last one op produced.
func Retry[T any](ctx context.Context, cfg RetryConfig, op func(context.Context) (T, error), onRetry OnRetry) (T, error) {
	cfg = cfg.withDefaults()
	var zero T
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = unwrapPermanent(err)
		if !IsRetryable(err) || attempt == cfg.MaxRetries {
			break
		}
		delay := cfg.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt+1, lastErr, delay)
		}
		if err := cfg.Sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// Backoff is min(initial * factor^attempt, max) plus jitter.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.JitterFactor > 0 {
		delay += delay * c.JitterFactor * rand.Float64()
	}
	return time.Duration(delay)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	return c
}

func unwrapPermanent(err error) error {
	if permanent, ok := err.(*permanentError); ok {
		return permanent.err
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
