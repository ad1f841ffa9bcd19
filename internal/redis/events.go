// ABOUTME: Detection event publisher appending one stream entry per detection
// ABOUTME: Consumers read the capped stream with XREAD or consumer groups

package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hikmaai-io/hikmaai-lens/internal/engine"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// Default detection stream settings.
const (
	DefaultDetectionStream = "detections"
	DefaultDetectionMaxLen = 100_000
)

// EventPublisher appends detection events to a Redis stream.
type EventPublisher struct {
	client *Client
	stream string
	maxLen int64
}

var _ engine.DetectionPublisher = (*EventPublisher)(nil)

// NewEventPublisher creates a publisher. An empty stream uses
// DefaultDetectionStream and a zero maxLen uses DefaultDetectionMaxLen.
func NewEventPublisher(client *Client, stream string, maxLen int64) *EventPublisher {
	if stream == "" {
		stream = DefaultDetectionStream
	}
	if maxLen == 0 {
		maxLen = DefaultDetectionMaxLen
	}
	return &EventPublisher{client: client, stream: stream, maxLen: maxLen}
}

// StreamKey returns the prefixed stream name.
func (p *EventPublisher) StreamKey() string {
	return p.client.Key(p.stream)
}

// PublishDetection appends ev as flat stream fields.
func (p *EventPublisher) PublishDetection(ctx context.Context, ev types.DetectionEvent) error {
	detectedAt := ev.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now().UTC()
	}

	values := map[string]any{
		"signature_name": ev.SignatureName,
		"strength":       strconv.FormatUint(uint64(ev.Strength), 10),
		"content_hash":   ev.ContentHash,
		"content_name":   ev.ContentName,
		"app_name":       ev.AppName,
		"channel":        ev.Channel,
		"fingerprint":    ev.Fingerprint,
		"detected_at":    detectedAt.Format(time.RFC3339Nano),
	}

	if _, err := p.client.XAdd(ctx, p.stream, p.maxLen, values); err != nil {
		return fmt.Errorf("publishing detection %s: %w", ev.SignatureName, err)
	}
	return nil
}
