// ABOUTME: Verdict cache selection shared by the daemon and the cache command
// ABOUTME: Redis when enabled, else local Badger fronted by a bloom filter

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-lens/internal/config"
	"github.com/hikmaai-io/hikmaai-lens/internal/engine"
	internalredis "github.com/hikmaai-io/hikmaai-lens/internal/redis"
)

// verdictCache is the configured cache and where it lives.
type verdictCache struct {
	engine.VerdictCache
	backend  string
	location string
	ttl      time.Duration
	// bloom is set for the local backend only.
	bloom *engine.BloomFilter
}

func (c *verdictCache) Close() error {
	if closer, ok := c.VerdictCache.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// openVerdictCache returns nil when caching is disabled. redisClient is
// nil unless Redis is enabled.
func openVerdictCache(cfg *config.Config, redisClient *internalredis.Client, logger *slog.Logger) (*verdictCache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}

	if redisClient != nil {
		return &verdictCache{
			VerdictCache: internalredis.NewVerdictCache(redisClient, cfg.Redis.CacheTTL),
			backend:      "redis",
			location:     cfg.Redis.Addr,
			ttl:          cfg.Redis.CacheTTL,
		}, nil
	}

	storeCfg := engine.StoreConfig{InMemory: cfg.Cache.InMemory, Logger: engine.NewBadgerLogger(logger)}
	location := "memory"
	if !cfg.Cache.InMemory {
		storeCfg.Path = cfg.CachePath()
		location = storeCfg.Path
		if err := os.MkdirAll(storeCfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	cache, err := engine.NewBadgerVerdictCache(storeCfg, cfg.Cache.TTL)
	if err != nil {
		return nil, fmt.Errorf("opening verdict cache: %w", err)
	}
	return &verdictCache{
		VerdictCache: cache,
		backend:      "badger",
		location:     location,
		ttl:          cfg.Cache.TTL,
		bloom:        engine.NewBloomFilter(cfg.Cache.Bloom()),
	}, nil
}

// withVerdictCache opens the configured cache for a one-shot command.
func withVerdictCache(ctx context.Context, w io.Writer, fn func(*verdictCache) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Cache.Enabled {
		return errors.New("verdict cache is disabled (cache.enabled = false)")
	}
	logger := newLogger(cfg, w)

	var redisClient *internalredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = internalredis.NewClient(ctx, cfg.Redis.Config)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer redisClient.Close()
	} else if cfg.Cache.InMemory {
		return errors.New("verdict cache is in memory; only a running daemon holds it")
	}

	cache, err := openVerdictCache(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer cache.Close()
	return fn(cache)
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the verdict cache",
		Long: `Commands for the verdict cache configured in the config file.

The local Badger cache is locked while the daemon runs; stop it first or
use a Redis cache.`,
	}
	cmd.AddCommand(newCacheStatsCmd())
	cmd.AddCommand(newCacheClearCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache backend and entry count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVerdictCache(cmd.Context(), cmd.ErrOrStderr(), func(c *verdictCache) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Backend:  %s\n", c.backend)
				fmt.Fprintf(out, "Location: %s\n", c.location)
				fmt.Fprintf(out, "TTL:      %s\n", c.ttl)
				if counter, ok := c.VerdictCache.(engine.CacheCounter); ok {
					n, err := counter.Count(cmd.Context())
					if err != nil {
						return fmt.Errorf("counting verdicts: %w", err)
					}
					fmt.Fprintf(out, "Entries:  %d\n", n)
				}
				return nil
			})
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVerdictCache(cmd.Context(), cmd.ErrOrStderr(), func(c *verdictCache) error {
				if err := c.Clear(cmd.Context()); err != nil {
					return fmt.Errorf("clearing verdict cache: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s verdict cache at %s\n", c.backend, c.location)
				return nil
			})
		},
	}
}
