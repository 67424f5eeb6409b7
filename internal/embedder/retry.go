package embedder

import (
	"context"
	"errors"
	"time"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns 3 attempts starting at 200ms, doubling up to 5s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2,
	}
}

// permanentError marks a backend failure that another attempt cannot fix,
// such as an unknown model or a rejected API key.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so the retry loop gives up after the first attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// retryWithBackoff runs fn until it succeeds, returns a permanent error or
// attempts run out. Context cancellation stops retrying immediately.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	backoff := config.BaseDelay
	attempts := max(config.MaxAttempts, 1)

	var lastErr error
	for attempt := range attempts {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if IsPermanent(err) || attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if config.MaxDelay > 0 && backoff > config.MaxDelay {
			backoff = config.MaxDelay
		}
	}
	return zero, lastErr
}
