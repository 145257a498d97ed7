package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the shared-store implementation. All keys carry an
// optional deployment prefix ahead of the versioned schema key.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps an existing client. prefix may be empty.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix != "" && prefix[len(prefix)-1] != ':' {
		prefix += ":"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(key string) string {
	return c.prefix + key
}

func wrapRedisErr(err error) error {
	if err == nil || err == redis.Nil {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Join(ErrBackendUnavailable, err)
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapRedisErr(err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrapRedisErr(c.client.Set(ctx, c.key(key), value, ttl).Err())
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return wrapRedisErr(c.client.Del(ctx, c.key(key)).Err())
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, wrapRedisErr(err)
	}
	return n > 0, nil
}

func (c *RedisCache) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.key(key), value, ttl).Result()
	if err != nil {
		return false, wrapRedisErr(err)
	}
	return ok, nil
}

func (c *RedisCache) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, c.key(key))
	if ttl > 0 {
		pipe.Expire(ctx, c.key(key), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, wrapRedisErr(err)
	}
	return incr.Val(), nil
}

func (c *RedisCache) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return wrapRedisErr(c.client.ZAdd(ctx, c.key(key), redis.Z{Score: score, Member: member}).Err())
}

func (c *RedisCache) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	n, err := c.client.ZCount(ctx, c.key(key), scoreArg(min), scoreArg(max)).Result()
	return n, wrapRedisErr(err)
}

func (c *RedisCache) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	n, err := c.client.ZRemRangeByScore(ctx, c.key(key), scoreArg(min), scoreArg(max)).Result()
	return n, wrapRedisErr(err)
}

func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrapRedisErr(c.client.Expire(ctx, c.key(key), ttl).Err())
}

func (c *RedisCache) Pipeline() Pipeliner {
	return &redisPipeline{cache: c}
}

// Ready pings the server with a short timeout.
func (c *RedisCache) Ready(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.client.Ping(pingCtx).Err() == nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

type redisOp struct {
	apply func(ctx context.Context, pipe redis.Pipeliner) func() Result
}

type redisPipeline struct {
	cache *RedisCache
	ops   []redisOp
}

func (p *redisPipeline) add(apply func(ctx context.Context, pipe redis.Pipeliner) func() Result) {
	p.ops = append(p.ops, redisOp{apply: apply})
}

func (p *redisPipeline) Set(key, value string, ttl time.Duration) {
	p.add(func(ctx context.Context, pipe redis.Pipeliner) func() Result {
		cmd := pipe.Set(ctx, p.cache.key(key), value, ttl)
		return func() Result { return Result{Err: wrapRedisErr(cmd.Err())} }
	})
}

func (p *redisPipeline) Delete(key string) {
	p.add(func(ctx context.Context, pipe redis.Pipeliner) func() Result {
		cmd := pipe.Del(ctx, p.cache.key(key))
		return func() Result { return Result{Err: wrapRedisErr(cmd.Err()), Val: cmd.Val()} }
	})
}

func (p *redisPipeline) ZAdd(key string, score float64, member string) {
	p.add(func(ctx context.Context, pipe redis.Pipeliner) func() Result {
		cmd := pipe.ZAdd(ctx, p.cache.key(key), redis.Z{Score: score, Member: member})
		return func() Result { return Result{Err: wrapRedisErr(cmd.Err()), Val: cmd.Val()} }
	})
}

func (p *redisPipeline) ZCount(key string, min, max float64) {
	p.add(func(ctx context.Context, pipe redis.Pipeliner) func() Result {
		cmd := pipe.ZCount(ctx, p.cache.key(key), scoreArg(min), scoreArg(max))
		return func() Result { return Result{Err: wrapRedisErr(cmd.Err()), Val: cmd.Val()} }
	})
}

func (p *redisPipeline) ZRemRangeByScore(key string, min, max float64) {
	p.add(func(ctx context.Context, pipe redis.Pipeliner) func() Result {
		cmd := pipe.ZRemRangeByScore(ctx, p.cache.key(key), scoreArg(min), scoreArg(max))
		return func() Result { return Result{Err: wrapRedisErr(cmd.Err()), Val: cmd.Val()} }
	})
}

func (p *redisPipeline) Expire(key string, ttl time.Duration) {
	p.add(func(ctx context.Context, pipe redis.Pipeliner) func() Result {
		cmd := pipe.Expire(ctx, p.cache.key(key), ttl)
		return func() Result { return Result{Err: wrapRedisErr(cmd.Err())} }
	})
}

func (p *redisPipeline) Exec(ctx context.Context) ([]Result, error) {
	pipe := p.cache.client.Pipeline()

	collectors := make([]func() Result, 0, len(p.ops))
	for _, op := range p.ops {
		collectors = append(collectors, op.apply(ctx, pipe))
	}
	p.ops = nil

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, wrapRedisErr(err)
	}

	results := make([]Result, 0, len(collectors))
	for _, collect := range collectors {
		results = append(results, collect())
	}
	return results, nil
}
