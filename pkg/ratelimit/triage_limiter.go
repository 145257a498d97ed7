// Package ratelimit bounds outbound replies with sliding-window
// counters over a shared timestamp set, plus a burst circuit breaker.
// State lives in the cache abstraction, so single-instance runs use the
// in-memory store and multi-replica runs share Redis with identical
// semantics.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"triage_server/pkg/cache"
	"triage_server/pkg/logger"
)

// Denial reasons surfaced to callers and metrics.
const (
	ReasonHourlyLimit    = "Hourly limit reached"
	ReasonDailyLimit     = "Daily limit reached"
	ReasonCircuitBreaker = "circuit_breaker"
)

const (
	sendSetKey    = "sends"
	breakerKeyRaw = "reply-reset"

	retentionWindow = 24 * time.Hour
	breakerHold     = time.Hour
)

// Config holds rate limiter tuning.
type Config struct {
	Enabled        bool
	MaxPerHour     int
	MaxPerDay      int
	BurstThreshold int
	BurstWindow    time.Duration
}

// Decision is the outcome of a CanSend check.
type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time // set when a reset time is known
}

// Limiter implements the sliding-window reply limiter.
type Limiter struct {
	store cache.Cache
	cfg   Config
}

// New creates a limiter over the given store.
func New(store cache.Cache, cfg Config) *Limiter {
	return &Limiter{store: store, cfg: cfg}
}

func allow() Decision { return Decision{Allowed: true} }

// CanSend checks the breaker key, then the hourly, daily, and burst
// windows, in that order. A successful check reserves nothing; callers
// record the send only after the reply actually went out. Store errors
// fail open with a warning, matching the availability bias of the rest
// of the pipeline.
func (l *Limiter) CanSend(ctx context.Context) Decision {
	if !l.cfg.Enabled {
		return allow()
	}

	breakerKey := cache.Key(cache.NamespaceBreaker, breakerKeyRaw)
	if resetISO, ok, err := l.store.Get(ctx, breakerKey); err != nil {
		logger.WithError(err).Warn("rate limiter: breaker check failed, allowing")
		return allow()
	} else if ok {
		retryAt, _ := time.Parse(time.RFC3339, resetISO)
		return Decision{Allowed: false, Reason: ReasonCircuitBreaker, RetryAt: retryAt}
	}

	now := time.Now()
	setKey := cache.Key(cache.NamespaceRate, sendSetKey)

	hourly, err := l.store.ZCount(ctx, setKey, float64(now.Add(-time.Hour).UnixMilli()), math.Inf(1))
	if err != nil {
		logger.WithError(err).Warn("rate limiter: hourly count failed, allowing")
		return allow()
	}
	if l.cfg.MaxPerHour > 0 && hourly >= int64(l.cfg.MaxPerHour) {
		return Decision{Allowed: false, Reason: ReasonHourlyLimit, RetryAt: now.Add(time.Hour)}
	}

	daily, err := l.store.ZCount(ctx, setKey, float64(now.Add(-retentionWindow).UnixMilli()), math.Inf(1))
	if err != nil {
		logger.WithError(err).Warn("rate limiter: daily count failed, allowing")
		return allow()
	}
	if l.cfg.MaxPerDay > 0 && daily >= int64(l.cfg.MaxPerDay) {
		return Decision{Allowed: false, Reason: ReasonDailyLimit, RetryAt: now.Add(retentionWindow)}
	}

	if l.cfg.BurstThreshold > 0 && l.cfg.BurstWindow > 0 {
		burst, err := l.store.ZCount(ctx, setKey, float64(now.Add(-l.cfg.BurstWindow).UnixMilli()), math.Inf(1))
		if err != nil {
			logger.WithError(err).Warn("rate limiter: burst count failed, allowing")
			return allow()
		}
		if burst >= int64(l.cfg.BurstThreshold) {
			resetAt := now.Add(breakerHold)
			// SetIfAbsent so concurrent replicas agree on one reset time.
			if _, err := l.store.SetIfAbsent(ctx, breakerKey, resetAt.UTC().Format(time.RFC3339), breakerHold); err != nil {
				logger.WithError(err).Warn("rate limiter: failed to arm burst breaker")
			}
			logger.Warn("rate limiter: burst threshold reached (%d sends in %s), breaker armed until %s",
				burst, l.cfg.BurstWindow, resetAt.UTC().Format(time.RFC3339))
			return Decision{Allowed: false, Reason: ReasonCircuitBreaker, RetryAt: resetAt}
		}
	}

	return allow()
}

// RecordSend adds the send timestamp, prunes entries past the retention
// window, and refreshes the set TTL, all in one pipeline. Callers MUST
// invoke this only after the reply send succeeded.
func (l *Limiter) RecordSend(ctx context.Context) error {
	if !l.cfg.Enabled {
		return nil
	}

	now := time.Now()
	setKey := cache.Key(cache.NamespaceRate, sendSetKey)

	pipe := l.store.Pipeline()
	pipe.ZAdd(setKey, float64(now.UnixMilli()), uuid.NewString())
	pipe.ZRemRangeByScore(setKey, math.Inf(-1), float64(now.Add(-retentionWindow).UnixMilli()))
	pipe.Expire(setKey, retentionWindow)

	results, err := pipe.Exec(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
