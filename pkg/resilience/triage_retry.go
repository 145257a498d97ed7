package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig holds retry tuning for external calls.
type RetryConfig struct {
	Attempts     int           // total attempts including the first (default 3)
	InitialDelay time.Duration // delay before the second attempt (default 100ms)
	MaxDelay     time.Duration // backoff ceiling (default 1s)
	Factor       float64       // backoff multiplier (default 2)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Second
	}
	if c.Factor <= 1 {
		c.Factor = 2
	}
	return c
}

// DefaultRetry matches the policy used by the threat-intel clients:
// 3 attempts, 100ms -> 1s exponential backoff, factor 2.
func DefaultRetry() RetryConfig {
	return RetryConfig{}.withDefaults()
}

// Retry runs fn until it succeeds, attempts are exhausted, or the
// context is done. A small jitter is added to each delay so parallel
// lookups do not retry in lockstep.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	delay := cfg.InitialDelay
	var err error

	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= cfg.Attempts {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}

		delay = time.Duration(float64(delay) * cfg.Factor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
