package cache

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestKeyDeterministicAndCollisionFree(t *testing.T) {
	if Key(NamespaceDedup, "abc") != Key(NamespaceDedup, "abc") {
		t.Fatal("Key is not deterministic")
	}

	pairs := [][2]string{
		{NamespaceDedup, "x"},
		{NamespaceRate, "x"},
		{NamespaceBreaker, "x"},
		{NamespaceDedup, "y"},
	}
	seen := make(map[string]bool)
	for _, p := range pairs {
		k := Key(p[0], p[1])
		if seen[k] {
			t.Fatalf("collision for %v: %s", p, k)
		}
		seen[k] = true
	}
}

func TestMemoryCacheKV(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Fatal("expected miss for unknown key")
	}

	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok, _ := c.Get(ctx, "k")
	if !ok || val != "v" {
		t.Fatalf("Get = %q, %v; want v, true", val, ok)
	}

	exists, _ := c.Exists(ctx, "k")
	if !exists {
		t.Fatal("Exists = false for stored key")
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("key survived delete")
	}
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "short", "v", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, ok, _ := c.Get(ctx, "short"); ok {
		t.Fatal("expired entry still readable")
	}
}

func TestMemoryCacheSetIfAbsent(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	ok, _ := c.SetIfAbsent(ctx, "k", "first", 0)
	if !ok {
		t.Fatal("first SetIfAbsent should win")
	}
	ok, _ = c.SetIfAbsent(ctx, "k", "second", 0)
	if ok {
		t.Fatal("second SetIfAbsent should lose")
	}

	val, _, _ := c.Get(ctx, "k")
	if val != "first" {
		t.Fatalf("value = %q, want first", val)
	}
}

func TestMemoryCacheIncrement(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.Increment(ctx, "counter", time.Minute)
		if err != nil || got != want {
			t.Fatalf("Increment = %d, %v; want %d", got, err, want)
		}
	}
}

func TestMemoryCacheSortedSet(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	_ = c.ZAdd(ctx, "z", 100, "a")
	_ = c.ZAdd(ctx, "z", 200, "b")
	_ = c.ZAdd(ctx, "z", 300, "c")

	n, _ := c.ZCount(ctx, "z", 150, math.Inf(1))
	if n != 2 {
		t.Fatalf("ZCount(150, +inf) = %d, want 2", n)
	}

	removed, _ := c.ZRemRangeByScore(ctx, "z", math.Inf(-1), 150)
	if removed != 1 {
		t.Fatalf("ZRemRangeByScore = %d, want 1", removed)
	}

	n, _ = c.ZCount(ctx, "z", math.Inf(-1), math.Inf(1))
	if n != 2 {
		t.Fatalf("remaining = %d, want 2", n)
	}
}

func TestMemoryCachePipelineOrder(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	pipe := c.Pipeline()
	pipe.ZAdd("z", 1, "a")
	pipe.ZAdd("z", 2, "b")
	pipe.ZCount("z", 0, 10)
	pipe.ZRemRangeByScore("z", 0, 1)
	pipe.Expire("z", time.Minute)

	results, err := pipe.Exec(ctx)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("results = %d, want 5 in submission order", len(results))
	}
	if results[2].Val != 2 {
		t.Fatalf("ZCount result = %d, want 2", results[2].Val)
	}
	if results[3].Val != 1 {
		t.Fatalf("ZRemRangeByScore result = %d, want 1", results[3].Val)
	}
}

func TestMemoryCacheReady(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	if !c.Ready(context.Background()) {
		t.Fatal("memory cache must always be ready")
	}
}
