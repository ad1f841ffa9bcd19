// ABOUTME: Redis connection shared by the verdict cache, detection stream and stream worker
// ABOUTME: Every key and stream name goes through Key so deployments can share one server

package redis

import (
	"cmp"
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config is the connection part of the [redis] section.
type Config struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`

	// Prefix namespaces keys, e.g. "lens:" gives "lens:verdict:<fp>:<hash>".
	Prefix string `toml:"prefix"`

	PoolSize     int           `toml:"pool_size"`
	DialTimeout  time.Duration `toml:"dial_timeout"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     cmp.Or(c.PoolSize, 10),
		DialTimeout:  c.dialTimeout(),
		ReadTimeout:  cmp.Or(c.ReadTimeout, 3*time.Second),
		WriteTimeout: cmp.Or(c.WriteTimeout, 3*time.Second),
	}
}

func (c Config) dialTimeout() time.Duration { return cmp.Or(c.DialTimeout, 5*time.Second) }

// Client is a prefixed go-redis client.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// NewClient dials cfg.Addr and fails unless PING answers within the dial
// timeout.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rdb := redis.NewClient(cfg.options())

	ctx, cancel := context.WithTimeout(ctx, cfg.dialTimeout())
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, prefix: cfg.Prefix}, nil
}

// Key namespaces name with the client prefix.
func (c *Client) Key(name string) string { return c.prefix + name }

func (c *Client) Prefix() string { return c.prefix }

// Raw exposes the go-redis client. Callers prefix keys themselves.
func (c *Client) Raw() *redis.Client { return c.rdb }

// Ping is the health probe for the redis component.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// XAdd appends one entry to the named stream and returns its ID. With
// maxLen > 0 the stream is trimmed to roughly that many entries.
func (c *Client) XAdd(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error) {
	args := &redis.XAddArgs{Stream: c.Key(stream), Values: values}
	if maxLen > 0 {
		args.MaxLen, args.Approx = maxLen, true
	}
	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("appending to stream %s: %w", args.Stream, err)
	}
	return id, nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}
