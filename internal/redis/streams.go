// ABOUTME: Redis Streams consumer-group reader for queued scan tasks
// ABOUTME: Wraps XGROUP CREATE, XREADGROUP and XACK on prefixed stream keys

package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamConsumerConfig names the stream and the group member reading it.
type StreamConsumerConfig struct {
	// Stream is the unprefixed stream name.
	Stream   string
	Group    string
	Consumer string

	// Block is how long Read waits for entries. Zero blocks until one arrives.
	Block time.Duration
}

func (c StreamConsumerConfig) validate() error {
	var missing []string
	if c.Stream == "" {
		missing = append(missing, "stream")
	}
	if c.Group == "" {
		missing = append(missing, "group")
	}
	if c.Consumer == "" {
		missing = append(missing, "consumer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("stream consumer: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// StreamMessage is one entry. Non-string field values are dropped.
type StreamMessage struct {
	ID     string
	Values map[string]string
}

// StreamConsumer reads one stream as a member of a consumer group.
type StreamConsumer struct {
	rdb *redis.Client
	key string
	cfg StreamConsumerConfig
}

func NewStreamConsumer(client *Client, cfg StreamConsumerConfig) (*StreamConsumer, error) {
	if client == nil {
		return nil, errors.New("stream consumer: nil redis client")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &StreamConsumer{rdb: client.Raw(), key: client.Key(cfg.Stream), cfg: cfg}, nil
}

func (c *StreamConsumer) StreamKey() string { return c.key }

// EnsureGroup creates the stream and the group when missing. An existing
// group is left untouched.
func (c *StreamConsumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.key, c.cfg.Group, "$").Err()
	if err == nil || strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("creating group %s on %s: %w", c.cfg.Group, c.key, err)
}

// Read returns up to count entries never delivered to the group. A block
// timeout yields no entries and no error.
func (c *StreamConsumer) Read(ctx context.Context, count int64) ([]StreamMessage, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.key, ">"},
		Count:    count,
		Block:    c.cfg.Block,
	}).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", c.key, err)
	}

	var out []StreamMessage
	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, toMessage(m))
		}
	}
	return out, nil
}

func toMessage(m redis.XMessage) StreamMessage {
	values := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		if s, ok := v.(string); ok {
			values[k] = s
		}
	}
	return StreamMessage{ID: m.ID, Values: values}
}

// Ack removes ids from the group's pending list.
func (c *StreamConsumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.rdb.XAck(ctx, c.key, c.cfg.Group, ids...).Err(); err != nil {
		return fmt.Errorf("acking %d entries on %s: %w", len(ids), c.key, err)
	}
	return nil
}

// Pending counts entries delivered to the group but not yet acked.
func (c *StreamConsumer) Pending(ctx context.Context) (int64, error) {
	res, err := c.rdb.XPending(ctx, c.key, c.cfg.Group).Result()
	if err != nil {
		return 0, fmt.Errorf("pending entries on %s: %w", c.key, err)
	}
	return res.Count, nil
}
