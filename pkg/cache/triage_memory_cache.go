package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const memoryJanitorInterval = 5 * time.Minute

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type memoryZSet struct {
	members   map[string]float64
	expiresAt time.Time
}

// MemoryCache is the in-process implementation. Single-replica runs use
// it directly; it is also the fallback when Redis is configured but not
// reachable at startup. Expired entries are dropped lazily on access
// and swept by a background janitor.
type MemoryCache struct {
	mu     sync.Mutex
	kv     map[string]memoryEntry
	zsets  map[string]*memoryZSet
	cancel context.CancelFunc
}

// NewMemoryCache creates the in-process cache and starts its janitor.
func NewMemoryCache() *MemoryCache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &MemoryCache{
		kv:     make(map[string]memoryEntry),
		zsets:  make(map[string]*memoryZSet),
		cancel: cancel,
	}
	go c.janitor(ctx)
	return c
}

func (c *MemoryCache) janitor(ctx context.Context) {
	ticker := time.NewTicker(memoryJanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

func (c *MemoryCache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.kv {
		if e.expired(now) {
			delete(c.kv, k)
		}
	}
	for k, z := range c.zsets {
		if !z.expiresAt.IsZero() && now.After(z.expiresAt) {
			delete(c.zsets, k)
		}
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.kv[key]
	if !ok {
		return "", false, nil
	}
	if e.expired(time.Now()) {
		delete(c.kv, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.kv[key] = memoryEntry{value: value, expiresAt: deadline(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.kv, key)
	delete(c.zsets, key)
	return nil
}

func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}

func (c *MemoryCache) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.kv[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	c.kv[key] = memoryEntry{value: value, expiresAt: deadline(ttl)}
	return true, nil
}

func (c *MemoryCache) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	if e, ok := c.kv[key]; ok && !e.expired(time.Now()) {
		n, _ = strconv.ParseInt(e.value, 10, 64)
		n++
		c.kv[key] = memoryEntry{value: strconv.FormatInt(n, 10), expiresAt: e.expiresAt}
		return n, nil
	}
	n = 1
	c.kv[key] = memoryEntry{value: "1", expiresAt: deadline(ttl)}
	return n, nil
}

func (c *MemoryCache) ZAdd(_ context.Context, key string, score float64, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.zadd(key, score, member)
	return nil
}

func (c *MemoryCache) ZCount(_ context.Context, key string, min, max float64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.zcount(key, min, max), nil
}

func (c *MemoryCache) ZRemRangeByScore(_ context.Context, key string, min, max float64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.zremrange(key, min, max), nil
}

func (c *MemoryCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expire(key, ttl)
	return nil
}

// locked helpers shared with the pipeline

func (c *MemoryCache) zset(key string) *memoryZSet {
	z, ok := c.zsets[key]
	if ok && !z.expiresAt.IsZero() && time.Now().After(z.expiresAt) {
		delete(c.zsets, key)
		ok = false
	}
	if !ok {
		z = &memoryZSet{members: make(map[string]float64)}
		c.zsets[key] = z
	}
	return z
}

func (c *MemoryCache) zadd(key string, score float64, member string) {
	c.zset(key).members[member] = score
}

func (c *MemoryCache) zcount(key string, min, max float64) int64 {
	var n int64
	for _, score := range c.zset(key).members {
		if score >= min && score <= max {
			n++
		}
	}
	return n
}

func (c *MemoryCache) zremrange(key string, min, max float64) int64 {
	z := c.zset(key)
	var n int64
	for member, score := range z.members {
		if score >= min && score <= max {
			delete(z.members, member)
			n++
		}
	}
	return n
}

func (c *MemoryCache) expire(key string, ttl time.Duration) {
	d := deadline(ttl)
	if e, ok := c.kv[key]; ok {
		e.expiresAt = d
		c.kv[key] = e
	}
	if z, ok := c.zsets[key]; ok {
		z.expiresAt = d
	}
}

func (c *MemoryCache) Pipeline() Pipeliner {
	return &memoryPipeline{cache: c}
}

func (c *MemoryCache) Ready(context.Context) bool { return true }

func (c *MemoryCache) Close() error {
	c.cancel()
	return nil
}

func deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// memoryPipeline queues closures and runs them under one lock, so the
// batch is atomic with respect to other cache callers.
type memoryPipeline struct {
	cache *MemoryCache
	ops   []func() Result
}

func (p *memoryPipeline) Set(key, value string, ttl time.Duration) {
	p.ops = append(p.ops, func() Result {
		p.cache.kv[key] = memoryEntry{value: value, expiresAt: deadline(ttl)}
		return Result{}
	})
}

func (p *memoryPipeline) Delete(key string) {
	p.ops = append(p.ops, func() Result {
		delete(p.cache.kv, key)
		delete(p.cache.zsets, key)
		return Result{}
	})
}

func (p *memoryPipeline) ZAdd(key string, score float64, member string) {
	p.ops = append(p.ops, func() Result {
		p.cache.zadd(key, score, member)
		return Result{Val: 1}
	})
}

func (p *memoryPipeline) ZCount(key string, min, max float64) {
	p.ops = append(p.ops, func() Result {
		return Result{Val: p.cache.zcount(key, min, max)}
	})
}

func (p *memoryPipeline) ZRemRangeByScore(key string, min, max float64) {
	p.ops = append(p.ops, func() Result {
		return Result{Val: p.cache.zremrange(key, min, max)}
	})
}

func (p *memoryPipeline) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func() Result {
		p.cache.expire(key, ttl)
		return Result{}
	})
}

func (p *memoryPipeline) Exec(context.Context) ([]Result, error) {
	p.cache.mu.Lock()
	defer p.cache.mu.Unlock()

	results := make([]Result, 0, len(p.ops))
	for _, op := range p.ops {
		results = append(results, op())
	}
	p.ops = nil
	return results, nil
}
