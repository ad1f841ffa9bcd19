// ABOUTME: Classifier deciding Clean or Detected for one buffer
// ABOUTME: Probes folded signature patterns in store order; the first hit wins

package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hikmaai-io/hikmaai-lens/internal/signatures"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// ErrInvalidArgument is returned for a nil buffer.
var ErrInvalidArgument = errors.New("invalid argument: content buffer is nil")

// LogPolicy controls what a detection log record reveals.
type LogPolicy string

const (
	// LogNone disables detection logging.
	LogNone LogPolicy = "none"
	// LogName logs the signature name only.
	LogName LogPolicy = "name"
	// LogPattern logs the name and the matched pattern.
	LogPattern LogPolicy = "pattern"
)

// ParseLogPolicy validates a policy name. Empty means LogName.
func ParseLogPolicy(s string) (LogPolicy, error) {
	switch p := LogPolicy(strings.ToLower(s)); p {
	case "":
		return LogName, nil
	case LogNone, LogName, LogPattern:
		return p, nil
	default:
		return "", fmt.Errorf("unknown log policy %q", s)
	}
}

// Options configures a Classifier.
type Options struct {
	// MaxScanSize caps the examined prefix. Zero means DefaultMaxScanSize.
	MaxScanSize int

	LogPolicy LogPolicy

	// Logger receives detection records. Nil discards them.
	Logger *slog.Logger
}

type probe struct {
	folded string
	sig    types.Signature
}

// Classifier is safe for concurrent use.
type Classifier struct {
	store   *signatures.Store
	probes  []probe
	maxSize int
	policy  LogPolicy
	logger  *slog.Logger
}

// New creates a Classifier over store.
func New(store *signatures.Store, opts Options) *Classifier {
	if opts.MaxScanSize <= 0 {
		opts.MaxScanSize = DefaultMaxScanSize
	}
	if opts.LogPolicy == "" {
		opts.LogPolicy = LogName
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	probes := make([]probe, 0, store.Len())
	for sig := range store.Entries() {
		probes = append(probes, probe{folded: Fold(sig.Pattern), sig: sig})
	}

	return &Classifier{
		store:   store,
		probes:  probes,
		maxSize: opts.MaxScanSize,
		policy:  opts.LogPolicy,
		logger:  opts.Logger,
	}
}

// Store returns the signature store the classifier probes.
func (c *Classifier) Store() *signatures.Store {
	return c.store
}

// MaxScanSize returns the examined-prefix cap.
func (c *Classifier) MaxScanSize() int {
	return c.maxSize
}

// Scan classifies content. Only nil content is an error.
// Content beyond MaxScanSize is never examined.
func (c *Classifier) Scan(content []byte) (types.ScanResult, error) {
	return c.ScanContext(context.Background(), content)
}

// ScanContext is Scan with a cancellation check between signature probes.
func (c *Classifier) ScanContext(ctx context.Context, content []byte) (types.ScanResult, error) {
	if content == nil {
		return types.ScanResult{}, ErrInvalidArgument
	}

	start := time.Now()
	norm := Normalize(content, c.maxSize)

	if norm.Examined == 0 {
		return types.NewCleanResult(norm.Encoding, 0), nil
	}

	for _, p := range c.probes {
		if err := ctx.Err(); err != nil {
			return types.ScanResult{}, err
		}
		if !strings.Contains(norm.Text, p.folded) {
			continue
		}

		c.logDetection(ctx, p.sig, norm)
		return types.NewDetectedResult(p.sig, norm.Encoding, norm.Examined).
			WithTruncated(norm.Truncated).
			WithScanTime(elapsedMs(start)), nil
	}

	return types.NewCleanResult(norm.Encoding, norm.Examined).
		WithTruncated(norm.Truncated).
		WithScanTime(elapsedMs(start)), nil
}

func (c *Classifier) logDetection(ctx context.Context, sig types.Signature, norm Normalized) {
	if c.policy == LogNone {
		return
	}

	attrs := []slog.Attr{
		slog.String("signature", sig.Name),
		slog.Uint64("strength", uint64(sig.Strength)),
		slog.String("encoding", string(norm.Encoding)),
		slog.Int("bytes_examined", norm.Examined),
	}
	if c.policy == LogPattern {
		attrs = append(attrs, slog.String("pattern", sig.Pattern))
	}
	c.logger.LogAttrs(ctx, slog.LevelInfo, "detection", attrs...)
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
