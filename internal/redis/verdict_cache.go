// ABOUTME: Redis-backed verdict cache shared between engine replicas
// ABOUTME: JSON scan results under prefixed keys with a fixed TTL, enumerable with SCAN

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hikmaai-io/hikmaai-lens/internal/engine"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

const (
	verdictKeyPrefix = "verdict:"
	scanBatchSize    = 500
)

// VerdictCache implements engine.VerdictCache on Redis.
// It does not own the client; closing the client is the caller's job.
type VerdictCache struct {
	client *Client
	ttl    time.Duration
}

var (
	_ engine.VerdictCache = (*VerdictCache)(nil)
	_ engine.KeyIterator  = (*VerdictCache)(nil)
	_ engine.CacheCounter = (*VerdictCache)(nil)
)

// NewVerdictCache creates a cache. A zero ttl keeps entries until evicted.
func NewVerdictCache(client *Client, ttl time.Duration) *VerdictCache {
	return &VerdictCache{client: client, ttl: ttl}
}

func (c *VerdictCache) key(key string) string {
	return c.client.Key(verdictKeyPrefix + key)
}

// Get returns the cached result for key.
func (c *VerdictCache) Get(ctx context.Context, key string) (types.ScanResult, bool, error) {
	data, err := c.client.Raw().Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.ScanResult{}, false, nil
	}
	if err != nil {
		return types.ScanResult{}, false, fmt.Errorf("getting verdict: %w", err)
	}

	var res types.ScanResult
	if err := json.Unmarshal(data, &res); err != nil {
		return types.ScanResult{}, false, fmt.Errorf("decoding verdict: %w", err)
	}
	return res, true, nil
}

// Put stores result under key.
func (c *VerdictCache) Put(ctx context.Context, key string, result types.ScanResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding verdict: %w", err)
	}
	if err := c.client.Raw().Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("setting verdict: %w", err)
	}
	return nil
}

// scan passes the full Redis keys under this cache's prefix to fn in
// batches of up to scanBatchSize.
func (c *VerdictCache) scan(ctx context.Context, match string, fn func(keys []string) error) error {
	iter := c.client.Raw().Scan(ctx, 0, c.key(match)+"*", scanBatchSize).Iterator()
	batch := make([]string, 0, scanBatchSize)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning verdicts: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}
	return fn(batch)
}

// Clear removes every verdict under this client's prefix.
func (c *VerdictCache) Clear(ctx context.Context) error {
	return c.scan(ctx, "", func(keys []string) error {
		if err := c.client.Raw().Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("clearing verdicts: %w", err)
		}
		return nil
	})
}

// Count walks the keyspace with SCAN, so it is approximate while other
// replicas write.
func (c *VerdictCache) Count(ctx context.Context) (int64, error) {
	var n int64
	err := c.scan(ctx, "", func(keys []string) error {
		n += int64(len(keys))
		return nil
	})
	return n, err
}

// IterateKeys calls fn with each cache key, without the Redis prefix, that
// starts with prefix.
func (c *VerdictCache) IterateKeys(ctx context.Context, prefix string, fn func(key string) error) error {
	strip := len(c.key(""))
	return c.scan(ctx, prefix, func(keys []string) error {
		for _, k := range keys {
			if err := fn(k[strip:]); err != nil {
				return err
			}
		}
		return nil
	})
}
