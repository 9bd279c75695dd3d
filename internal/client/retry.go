package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryPolicy describes how an upstream call is retried. It is a plain value
// shared by the token exchange, the ranking fetcher and the score enricher.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter is a fraction (0..1) of the delay added at random
	Jitter float64
}

// DefaultRetryPolicy returns 4 attempts with 0.5s, 1s, 2s backoff
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
		Jitter:      0.1,
	}
}

// Delay returns the wait before retry number n (1-based)
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.BaseDelay) * math.Pow(mult, float64(n-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * rand.Float64()
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts run out. A Retry-After hint longer than the computed backoff wins.
func (p RetryPolicy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt - 1)
			var se *StatusError
			if errors.As(lastErr, &se) && se.RetryAfter > delay {
				delay = se.RetryAfter
			}

			log.Info().
				Str("call", name).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Err(lastErr).
				Msg("Retrying upstream call after backoff")

			if err := sleepContext(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}

// isRetryable classifies errors returned by upstream calls. Errors that
// classify themselves (StatusError, repository.PersistenceError) decide;
// transport errors are retried; known permanent outcomes are not.
func isRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}

	var qe *UpstreamQueryError
	var ae *AuthFetchError
	switch {
	case errors.As(err, &qe), errors.As(err, &ae):
		return false
	case errors.Is(err, ErrPlayerNotFound), errors.Is(err, ErrAuthConfig):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
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
