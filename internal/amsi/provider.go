// ABOUTME: Provider side of the scan interface: reads a host stream and classifies it
// ABOUTME: Holds no detection logic of its own; verdicts come from the wrapped Scanner

package amsi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/hikmaai-io/hikmaai-lens/internal/classifier"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// DisplayName is the provider's human-readable name.
const DisplayName = "Custom Signature-Based AMSI Provider"

// ErrInvalidArgument is returned for a nil stream or an unusable handle.
var ErrInvalidArgument = classifier.ErrInvalidArgument

// Scanner classifies a request. *engine.Engine satisfies it.
type Scanner interface {
	Scan(ctx context.Context, req types.ScanRequest) (types.ScanResult, error)
}

// Provider adapts a Scanner to host streams.
type Provider struct {
	scanner Scanner
	maxSize int
}

// NewProvider wraps scanner. maxScanSize bounds how much of a stream is
// read; zero means classifier.DefaultMaxScanSize.
func NewProvider(scanner Scanner, maxScanSize int) *Provider {
	if maxScanSize <= 0 {
		maxScanSize = classifier.DefaultMaxScanSize
	}
	return &Provider{scanner: scanner, maxSize: maxScanSize}
}

// DisplayName returns the provider's display name.
func (p *Provider) DisplayName() string {
	return DisplayName
}

// Scan reads at most the scan cap from stream and returns its strength.
func (p *Provider) Scan(ctx context.Context, stream Stream) (types.Strength, error) {
	return p.scan(ctx, stream, "")
}

func (p *Provider) scan(ctx context.Context, stream Stream, sessionID string) (types.Strength, error) {
	if stream == nil {
		return types.StrengthClean, ErrInvalidArgument
	}

	size := min(stream.ContentSize(), int64(p.maxSize))
	if size < 0 {
		return types.StrengthClean, fmt.Errorf("%w: negative content size", ErrInvalidArgument)
	}

	buf := make([]byte, size)
	n, err := stream.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return types.StrengthClean, fmt.Errorf("reading stream: %w", err)
	}

	res, err := p.scanner.Scan(ctx, types.ScanRequest{
		Content:     buf[:n],
		ContentName: stream.ContentName(),
		AppName:     stream.AppName(),
		SessionID:   sessionID,
		Channel:     "amsi",
	})
	if err != nil {
		return types.StrengthClean, err
	}
	return res.Strength, nil
}

// CloseSession releases per-session state. The provider keeps none.
func (p *Provider) CloseSession(sessionID uint64) {}

func sessionKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}
