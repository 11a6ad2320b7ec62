package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 100 * time.Millisecond
	defaultMaxDelay   = 30 * time.Second
)

// Policy configures exponential backoff with jitter
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultPolicy returns the default retry policy
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: defaultMaxRetries,
		BaseDelay:  defaultBaseDelay,
		MaxDelay:   defaultMaxDelay,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// retries are used up.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}

		if !retryable(err) {
			return err
		}

		lastErr = err
		if attempt < p.MaxRetries {
			delay := p.Delay(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Delay calculates the retry delay with exponential backoff and jitter
func (p Policy) Delay(attempt int) time.Duration {
	base := float64(p.BaseDelay)
	delay := base * math.Pow(2.0, float64(attempt))

	// ±25%
	jitter := delay * 0.25 * (2*rand.Float64() - 1)
	delay += jitter

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	return time.Duration(delay)
}
