package dedup

import (
	"context"
	"strings"
	"testing"
	"time"

	"triage_server/pkg/cache"
)

func newTestDeduper(t *testing.T, cfg Config) *Deduplicator {
	t.Helper()
	store := cache.NewMemoryCache()
	t.Cleanup(func() { _ = store.Close() })
	return New(store, cfg)
}

func TestContentHashCanonicalization(t *testing.T) {
	// Case and surrounding whitespace do not change the hash.
	a := ContentHash("Invoice Due", "please pay now")
	b := ContentHash("  INVOICE DUE", "PLEASE PAY NOW  ")
	if a != b {
		t.Fatal("hash is not canonical over case/whitespace")
	}

	if ContentHash("subject", "body one") == ContentHash("subject", "body two") {
		t.Fatal("different bodies collided")
	}

	// Only the first 1000 characters of the body participate.
	long := strings.Repeat("x", 1000)
	if ContentHash("s", long+"tail-a") != ContentHash("s", long+"tail-b") {
		t.Fatal("bytes past the 1000-char prefix changed the hash")
	}
}

func TestDuplicateContentDenied(t *testing.T) {
	d := newTestDeduper(t, Config{Enabled: true, ContentTTL: time.Hour, SenderCooldown: time.Hour})
	ctx := context.Background()

	if dec := d.ShouldProcess(ctx, "a@example.com", "subj", "body"); !dec.Allowed {
		t.Fatalf("first message denied: %s", dec.Reason)
	}
	if err := d.RecordProcessed(ctx, "a@example.com", "subj", "body"); err != nil {
		t.Fatalf("RecordProcessed: %v", err)
	}

	// Same content from a different sender is still a duplicate.
	dec := d.ShouldProcess(ctx, "b@example.com", "subj", "body")
	if dec.Allowed {
		t.Fatal("duplicate content allowed")
	}
	if !strings.Contains(dec.Reason, "Duplicate email already processed") {
		t.Fatalf("reason = %q", dec.Reason)
	}
	if !strings.Contains(dec.Reason, ContentHash("subj", "body")[:8]) {
		t.Fatalf("reason does not carry the hash prefix: %q", dec.Reason)
	}
}

func TestSenderCooldownDenied(t *testing.T) {
	d := newTestDeduper(t, Config{Enabled: true, ContentTTL: time.Hour, SenderCooldown: time.Hour})
	ctx := context.Background()

	_ = d.RecordProcessed(ctx, "User@Example.com", "first", "body one")

	// New content, same sender (case-insensitive), inside cooldown.
	dec := d.ShouldProcess(ctx, "user@example.com", "second", "body two")
	if dec.Allowed {
		t.Fatal("sender in cooldown allowed")
	}
	if !strings.Contains(dec.Reason, "Sender in cooldown period") {
		t.Fatalf("reason = %q", dec.Reason)
	}
}

func TestExpiryReleasesBothWindows(t *testing.T) {
	d := newTestDeduper(t, Config{Enabled: true, ContentTTL: 10 * time.Millisecond, SenderCooldown: 10 * time.Millisecond})
	ctx := context.Background()

	_ = d.RecordProcessed(ctx, "a@example.com", "subj", "body")
	time.Sleep(25 * time.Millisecond)

	if dec := d.ShouldProcess(ctx, "a@example.com", "subj", "body"); !dec.Allowed {
		t.Fatalf("expired records still deny: %s", dec.Reason)
	}
}

func TestDisabledDedupAllows(t *testing.T) {
	d := newTestDeduper(t, Config{Enabled: false})
	ctx := context.Background()

	_ = d.RecordProcessed(ctx, "a@example.com", "subj", "body")
	if dec := d.ShouldProcess(ctx, "a@example.com", "subj", "body"); !dec.Allowed {
		t.Fatal("disabled dedup denied")
	}
}
