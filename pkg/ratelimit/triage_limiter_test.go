package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"

	"triage_server/pkg/cache"
)

func newTestLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	store := cache.NewMemoryCache()
	t.Cleanup(func() { _ = store.Close() })
	return New(store, cfg)
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	l := newTestLimiter(t, Config{Enabled: false})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if d := l.CanSend(ctx); !d.Allowed {
			t.Fatalf("disabled limiter denied send %d: %s", i, d.Reason)
		}
	}
}

func TestHourlyLimit(t *testing.T) {
	l := newTestLimiter(t, Config{Enabled: true, MaxPerHour: 2, MaxPerDay: 100})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d := l.CanSend(ctx); !d.Allowed {
			t.Fatalf("send %d denied: %s", i, d.Reason)
		}
		if err := l.RecordSend(ctx); err != nil {
			t.Fatalf("RecordSend: %v", err)
		}
	}

	d := l.CanSend(ctx)
	if d.Allowed {
		t.Fatal("third send allowed past hourly limit")
	}
	if d.Reason != ReasonHourlyLimit {
		t.Fatalf("reason = %q, want %q", d.Reason, ReasonHourlyLimit)
	}
}

func TestDailyLimit(t *testing.T) {
	l := newTestLimiter(t, Config{Enabled: true, MaxPerHour: 100, MaxPerDay: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d := l.CanSend(ctx); !d.Allowed {
			t.Fatalf("send %d denied: %s", i, d.Reason)
		}
		_ = l.RecordSend(ctx)
	}

	d := l.CanSend(ctx)
	if d.Allowed || d.Reason != ReasonDailyLimit {
		t.Fatalf("decision = %+v, want daily limit denial", d)
	}
}

// Four sends inside the burst window with a threshold of three: the
// fourth is suppressed by the breaker, whose reset time sits an hour
// ahead, and the denial persists until then.
func TestBurstCircuitBreaker(t *testing.T) {
	l := newTestLimiter(t, Config{
		Enabled:        true,
		MaxPerHour:     100,
		MaxPerDay:      100,
		BurstThreshold: 3,
		BurstWindow:    time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d := l.CanSend(ctx); !d.Allowed {
			t.Fatalf("send %d denied: %s", i, d.Reason)
		}
		_ = l.RecordSend(ctx)
	}

	d := l.CanSend(ctx)
	if d.Allowed {
		t.Fatal("fourth send allowed past burst threshold")
	}
	if d.Reason != ReasonCircuitBreaker {
		t.Fatalf("reason = %q, want %q", d.Reason, ReasonCircuitBreaker)
	}

	wantReset := time.Now().Add(time.Hour)
	if d.RetryAt.Before(wantReset.Add(-time.Minute)) || d.RetryAt.After(wantReset.Add(time.Minute)) {
		t.Fatalf("RetryAt = %v, want about one hour ahead", d.RetryAt)
	}

	// The breaker key now short-circuits every check.
	d = l.CanSend(ctx)
	if d.Allowed || d.Reason != ReasonCircuitBreaker {
		t.Fatalf("breaker did not hold: %+v", d)
	}
}

func TestRecordSendPrunesOldEntries(t *testing.T) {
	store := cache.NewMemoryCache()
	t.Cleanup(func() { _ = store.Close() })
	l := New(store, Config{Enabled: true, MaxPerHour: 100, MaxPerDay: 100})
	ctx := context.Background()

	// Plant a stale entry older than the retention window.
	setKey := cache.Key(cache.NamespaceRate, "sends")
	stale := float64(time.Now().Add(-25 * time.Hour).UnixMilli())
	if err := store.ZAdd(ctx, setKey, stale, "stale-member"); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}

	if err := l.RecordSend(ctx); err != nil {
		t.Fatalf("RecordSend: %v", err)
	}

	total, _ := store.ZCount(ctx, setKey, stale-1, float64(time.Now().UnixMilli()))
	if total != 1 {
		t.Fatalf("entries after prune = %d, want 1", total)
	}
}

func TestReasonsAreStable(t *testing.T) {
	// Denial reasons feed metrics labels; renaming them breaks
	// dashboards.
	for _, reason := range []string{ReasonHourlyLimit, ReasonDailyLimit, ReasonCircuitBreaker} {
		if strings.TrimSpace(reason) == "" {
			t.Fatal("empty denial reason")
		}
	}
	want := map[string]string{
		ReasonHourlyLimit:    "Hourly limit reached",
		ReasonDailyLimit:     "Daily limit reached",
		ReasonCircuitBreaker: "circuit_breaker",
	}
	for got, expected := range want {
		if got != expected {
			t.Fatalf("denial reason = %q, want %q", got, expected)
		}
	}
}
