package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a key is absent or past its TTL.
var ErrCacheMiss = errors.New("cache miss")

type ScoredMember struct {
	Member string
	Score  float64
}

// Cache is the cache/notification fabric: TTL'd key-value storage, pattern
// invalidation, token-based locks, pub/sub channels and sorted-set ranking.
// The system must stay correct (if slower) with every method failing.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) error

	// AcquireLock sets the key to token only if absent; ReleaseLock deletes
	// it only while it still holds the same token.
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error

	Publish(ctx context.Context, channel string, payload []byte) error

	IncrementScore(ctx context.Context, key, member string, delta float64, window time.Duration) error
	AddToRanking(ctx context.Context, key, member string, score float64) error
	RemoveFromRanking(ctx context.Context, key string, members ...string) error
	TopN(ctx context.Context, key string, n int64) ([]ScoredMember, error)
	RankingRange(ctx context.Context, key string) ([]ScoredMember, error)
	CountBelow(ctx context.Context, key string, score float64) (int64, error)
}

// releaseLockScript deletes the lock key only when it still carries the
// caller's token, so a slow holder cannot release someone else's lock.
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisCache implements Cache on go-redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get cache key %s: %w", key, err)
	}
	return data, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

// DeletePattern removes all keys matching a wildcard pattern using SCAN to
// avoid blocking the server on a full KEYS sweep.
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()

	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("failed to delete keys for pattern %s: %w", pattern, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan pattern %s: %w", pattern, err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys for pattern %s: %w", pattern, err)
		}
	}
	return nil
}

func (c *RedisCache) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	acquired, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return acquired, nil
}

func (c *RedisCache) ReleaseLock(ctx context.Context, key, token string) error {
	if err := releaseLockScript.Run(ctx, c.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

// IncrementScore bumps a member inside a time-decayed counter set. The whole
// set expires after the window, which is what makes the counter decay.
func (c *RedisCache) IncrementScore(ctx context.Context, key, member string, delta float64, window time.Duration) error {
	pipe := c.client.Pipeline()
	pipe.ZIncrBy(ctx, key, delta, member)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment score for %s in %s: %w", member, key, err)
	}
	return nil
}

func (c *RedisCache) AddToRanking(ctx context.Context, key, member string, score float64) error {
	if err := c.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("failed to add %s to ranking %s: %w", member, key, err)
	}
	return nil
}

func (c *RedisCache) RemoveFromRanking(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := c.client.ZRem(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("failed to remove members from ranking %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) TopN(ctx context.Context, key string, n int64) ([]ScoredMember, error) {
	results, err := c.client.ZRevRangeWithScores(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read top of ranking %s: %w", key, err)
	}
	return toScoredMembers(results), nil
}

func (c *RedisCache) RankingRange(ctx context.Context, key string) ([]ScoredMember, error) {
	results, err := c.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ranking %s: %w", key, err)
	}
	return toScoredMembers(results), nil
}

// CountBelow counts ranking members with a strictly lower score, i.e. how
// many competitors currently outbid the given rate.
func (c *RedisCache) CountBelow(ctx context.Context, key string, score float64) (int64, error) {
	count, err := c.client.ZCount(ctx, key, "-inf", fmt.Sprintf("(%f", score)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count ranking %s: %w", key, err)
	}
	return count, nil
}

func toScoredMembers(zs []redis.Z) []ScoredMember {
	members := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		members = append(members, ScoredMember{Member: member, Score: z.Score})
	}
	return members
}
