// Package resilience provides fault tolerance for external service
// calls: a named circuit breaker and retry with exponential backoff.
// Every outbound reputation and LLM call runs retry inside a per-API
// breaker; mail-provider calls use no breaker.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"triage_server/pkg/logger"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	Name          string
	ErrorRate     float64       // open when failure ratio reaches this (default 0.5)
	VolumeWindow  uint32        // minimum calls before the rate applies (default 5)
	Interval      time.Duration // rolling window for counts (default 10s)
	OpenTimeout   time.Duration // time before half-open probes (default 60s)
	HalfOpenCalls uint32        // probe calls allowed half-open (default 1)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.ErrorRate <= 0 {
		c.ErrorRate = 0.5
	}
	if c.VolumeWindow == 0 {
		c.VolumeWindow = 5
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 60 * time.Second
	}
	if c.HalfOpenCalls == 0 {
		c.HalfOpenCalls = 1
	}
	return c
}

// Breaker wraps gobreaker with the error-rate trip policy used for all
// external APIs here.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker creates a named breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg = cfg.withDefaults()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenCalls,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.VolumeWindow {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRate >= cfg.ErrorRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Breaker{name: cfg.Name, cb: cb}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the breaker state as a string.
func (b *Breaker) State() string { return b.cb.State().String() }

// Execute runs fn under the breaker.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// ExecuteWithRetry runs fn with retry inside the breaker. The breaker
// sees the call as a single request: only the final retry outcome
// counts toward its failure rate.
func (b *Breaker) ExecuteWithRetry(ctx context.Context, retry RetryConfig, fn func(ctx context.Context) error) error {
	return b.Execute(func() error {
		return Retry(ctx, retry, fn)
	})
}
