// Package dedup suppresses repeated replies: once per content hash
// within the configured TTL, and once per sender within the cooldown
// window. State lives in the cache abstraction so it is shared across
// replicas when Redis is configured.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"triage_server/pkg/cache"
	"triage_server/pkg/logger"
)

const bodyHashPrefixLen = 1000

// Config holds dedup tuning.
type Config struct {
	Enabled        bool
	ContentTTL     time.Duration
	SenderCooldown time.Duration
}

// Decision is the outcome of a ShouldProcess check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Deduplicator tracks processed content hashes and sender send times.
type Deduplicator struct {
	store cache.Cache
	cfg   Config
}

// New creates a deduplicator over the given store.
func New(store cache.Cache, cfg Config) *Deduplicator {
	return &Deduplicator{store: store, cfg: cfg}
}

// ContentHash is SHA-256 over the lower-cased, trimmed concatenation of
// subject, "||", and the first 1000 characters of the body.
func ContentHash(subject, body string) string {
	if len(body) > bodyHashPrefixLen {
		body = body[:bodyHashPrefixLen]
	}
	canonical := strings.ToLower(strings.TrimSpace(subject + "||" + body))
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func hashKey(hash string) string {
	return cache.Key(cache.NamespaceDedup, "h:"+hash)
}

func senderKey(sender string) string {
	return cache.Key(cache.NamespaceDedup, "s:"+strings.ToLower(strings.TrimSpace(sender)))
}

// ShouldProcess denies when the content hash is still live or the
// sender is inside its cooldown. Expired entries are evicted by the
// store's own TTL machinery; lookups never revive them. Store errors
// fail open with a warning.
func (d *Deduplicator) ShouldProcess(ctx context.Context, sender, subject, body string) Decision {
	if !d.cfg.Enabled {
		return Decision{Allowed: true}
	}

	hash := ContentHash(subject, body)
	if ok, err := d.store.Exists(ctx, hashKey(hash)); err != nil {
		logger.WithError(err).Warn("dedup: content hash check failed, allowing")
	} else if ok {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("Duplicate email already processed (hash: %s)", hash[:8]),
		}
	}

	if lastMs, ok, err := d.store.Get(ctx, senderKey(sender)); err != nil {
		logger.WithError(err).Warn("dedup: sender cooldown check failed, allowing")
	} else if ok {
		last, parseErr := strconv.ParseInt(lastMs, 10, 64)
		if parseErr == nil {
			nextAllowed := time.UnixMilli(last).Add(d.cfg.SenderCooldown)
			if time.Now().Before(nextAllowed) {
				return Decision{
					Allowed: false,
					Reason:  fmt.Sprintf("Sender in cooldown period (next allowed: %s)", nextAllowed.UTC().Format(time.RFC3339)),
				}
			}
		}
	}

	return Decision{Allowed: true}
}

// RecordProcessed stores the content hash and the sender's last send
// time. Called after the reply went out, after the rate limiter's
// RecordSend.
func (d *Deduplicator) RecordProcessed(ctx context.Context, sender, subject, body string) error {
	if !d.cfg.Enabled {
		return nil
	}

	hash := ContentHash(subject, body)
	if err := d.store.Set(ctx, hashKey(hash), "1", d.cfg.ContentTTL); err != nil {
		return err
	}
	nowMs := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return d.store.Set(ctx, senderKey(sender), nowMs, d.cfg.SenderCooldown)
}
