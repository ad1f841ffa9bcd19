// ABOUTME: Tests for verdict cache backend selection
// ABOUTME: Badger under a temp data dir and Redis on miniredis

package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	internalredis "github.com/hikmaai-io/hikmaai-lens/internal/redis"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

func TestOpenVerdictCache_Disabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Cache.Enabled = false
	cache, err := openVerdictCache(cfg, nil, discard())
	if err != nil || cache != nil {
		t.Errorf("openVerdictCache() = %v, %v; want nil, nil", cache, err)
	}
}

func TestOpenVerdictCache_Badger(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Cache.Enabled = true
	cfg.Cache.InMemory = false
	cfg.Cache.TTL = time.Hour

	cache, err := openVerdictCache(cfg, nil, discard())
	if err != nil {
		t.Fatalf("openVerdictCache() error: %v", err)
	}
	defer cache.Close()

	if cache.backend != "badger" || cache.bloom == nil {
		t.Errorf("backend = %q, bloom = %v; want badger with a bloom filter", cache.backend, cache.bloom)
	}
	if cache.location != filepath.Join(cfg.DataDir, "cache") {
		t.Errorf("location = %q", cache.location)
	}

	ctx := context.Background()
	if err := cache.Put(ctx, "fp:h", types.NewCleanResult(types.EncodingUTF8, 1)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := cache.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "fp:h"); ok {
		t.Error("Get() hit after Clear()")
	}
}

func TestOpenVerdictCache_RedisWins(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client, err := internalredis.NewClient(context.Background(), internalredis.Config{Addr: mr.Addr(), Prefix: "lens:"})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	defer client.Close()

	cfg := testConfig(t)
	cfg.Cache.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.CacheTTL = time.Minute

	cache, err := openVerdictCache(cfg, client, discard())
	if err != nil {
		t.Fatalf("openVerdictCache() error: %v", err)
	}
	if cache.backend != "redis" || cache.bloom != nil || cache.ttl != time.Minute {
		t.Errorf("cache = %+v, want redis without bloom", cache)
	}
	if err := cache.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	// The cache does not own the client.
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("client closed by cache: %v", err)
	}
}
