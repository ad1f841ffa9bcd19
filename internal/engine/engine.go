// ABOUTME: Scan engine fronting the classifier with a verdict cache and hot swap
// ABOUTME: Holds the active classifier behind an atomic pointer so reloads never block scans

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hikmaai-io/hikmaai-lens/internal/classifier"
	"github.com/hikmaai-io/hikmaai-lens/internal/observability"
	"github.com/hikmaai-io/hikmaai-lens/internal/resilience"
	"github.com/hikmaai-io/hikmaai-lens/internal/signatures"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// EngineConfig holds configuration for the scan engine.
type EngineConfig struct {
	// Initial signature set. Nil uses the builtin set.
	Store *signatures.Store

	// Classifier options applied to every installed set.
	Classifier classifier.Options

	// Cache is optional. Nil disables verdict caching.
	// The engine owns it and closes it on Close when it is an io.Closer.
	Cache VerdictCache

	// Bloom fronts Cache. Only useful when Cache is local and enumerable.
	Bloom *BloomFilter

	// CacheBreaker guards Cache calls.
	CacheBreaker resilience.CircuitBreakerConfig

	// Events receives one event per detection. Optional; publish
	// failures are logged and never fail the scan.
	Events DetectionPublisher

	Metrics *observability.ScanMetrics
	Logger  *slog.Logger
	Audit   *observability.AuditLogger
}

// DetectionPublisher forwards detection events, e.g. onto a Redis stream.
type DetectionPublisher interface {
	PublishDetection(ctx context.Context, ev types.DetectionEvent) error
}

// EngineStats contains statistics about the engine.
type EngineStats struct {
	SignatureCount int                            `json:"signature_count"`
	Fingerprint    string                         `json:"fingerprint"`
	Version        string                         `json:"version"`
	MaxScanSize    int                            `json:"max_scan_size"`
	CacheEnabled   bool                           `json:"cache_enabled"`
	CacheBreaker   *resilience.Statistics         `json:"cache_breaker,omitempty"`
	Bloom          *BloomStats                    `json:"bloom,omitempty"`
	Metrics        *observability.MetricsSnapshot `json:"metrics"`
}

// Engine is safe for concurrent use.
type Engine struct {
	current atomic.Pointer[classifier.Classifier]
	opts    classifier.Options

	cache   VerdictCache
	bloom   *BloomFilter
	breaker *resilience.CircuitBreaker
	events  DetectionPublisher

	metrics *observability.ScanMetrics
	logger  *slog.Logger
	audit   *observability.AuditLogger

	swapMu sync.Mutex
}

// NewEngine creates a new scan engine with the given configuration.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Store == nil {
		cfg.Store = signatures.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewScanMetrics()
	}
	if cfg.Audit == nil {
		cfg.Audit = observability.NewAuditLogger(cfg.Logger)
	}
	if cfg.Classifier.Logger == nil {
		cfg.Classifier.Logger = cfg.Logger
	}
	if cfg.CacheBreaker.Name == "" {
		cfg.CacheBreaker.Name = "verdict-cache"
	}

	e := &Engine{
		opts:    cfg.Classifier,
		cache:   cfg.Cache,
		events:  cfg.Events,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With(slog.String("component", "engine")),
		audit:   cfg.Audit,
	}
	if cfg.Cache != nil {
		e.bloom = cfg.Bloom
		e.breaker = resilience.NewCircuitBreaker(cfg.CacheBreaker)
	}
	e.current.Store(classifier.New(cfg.Store, cfg.Classifier))

	return e
}

// Signatures returns the active signature set.
func (e *Engine) Signatures() *signatures.Store {
	return e.current.Load().Store()
}

// Metrics returns the engine's metrics collector.
func (e *Engine) Metrics() *observability.ScanMetrics {
	return e.metrics
}

// Scan classifies req.Content against the active signature set.
// Cache failures degrade to a direct scan and are never returned.
func (e *Engine) Scan(ctx context.Context, req types.ScanRequest) (types.ScanResult, error) {
	start := time.Now()
	c := e.current.Load()
	fingerprint := c.Store().Fingerprint()

	ctx, span := observability.StartSpan(ctx, "engine.Scan",
		trace.WithAttributes(observability.AttrFingerprint.String(fingerprint)))
	defer span.End()

	if req.Content == nil {
		observability.RecordError(span, classifier.ErrInvalidArgument)
		e.record(req, types.ScanResult{}, start, true)
		return types.ScanResult{}, classifier.ErrInvalidArgument
	}

	e.metrics.IncrementActiveScans()
	defer e.metrics.DecrementActiveScans()

	prefix := classifier.Prefix(req.Content, c.MaxScanSize())
	truncated := len(prefix) < len(req.Content)
	hash := types.ContentHash(prefix)
	key := CacheKey(fingerprint, hash)

	if len(prefix) > 0 {
		if res, bloomHit, ok := e.lookup(ctx, key); ok {
			res = res.WithContentHash(hash).
				WithTruncated(truncated).
				WithCacheHit(true).
				WithBloomHit(bloomHit).
				WithScanTime(float64(time.Since(start).Microseconds()) / 1000)
			e.finish(ctx, span, req, res, fingerprint, start)
			return res, nil
		}
	}

	res, err := c.ScanContext(ctx, req.Content)
	if err != nil {
		observability.RecordError(span, err)
		e.record(req, types.ScanResult{}, start, true)
		return types.ScanResult{}, err
	}
	res = res.WithContentHash(hash)

	if len(prefix) > 0 {
		e.store(ctx, key, res)
	}

	res = res.WithScanTime(float64(time.Since(start).Microseconds()) / 1000)
	e.finish(ctx, span, req, res, fingerprint, start)
	return res, nil
}

// lookup returns a cached verdict and whether the bloom filter was consulted positively.
func (e *Engine) lookup(ctx context.Context, key string) (types.ScanResult, bool, bool) {
	if e.cache == nil {
		return types.ScanResult{}, false, false
	}

	bloomHit := false
	if e.bloom != nil {
		if !e.bloom.Test(key) {
			e.metrics.RecordBloomRejection()
			e.metrics.RecordCacheMiss()
			return types.ScanResult{}, false, false
		}
		bloomHit = true
	}

	var res types.ScanResult
	var found bool
	err := e.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		res, found, err = e.cache.Get(ctx, key)
		return err
	})
	if err != nil {
		e.cacheFailed(ctx, "get", err)
		return types.ScanResult{}, bloomHit, false
	}
	if !found {
		e.metrics.RecordCacheMiss()
		return types.ScanResult{}, bloomHit, false
	}

	e.metrics.RecordCacheHit()
	return res, bloomHit, true
}

func (e *Engine) store(ctx context.Context, key string, res types.ScanResult) {
	if e.cache == nil {
		return
	}
	err := e.breaker.Execute(ctx, func(ctx context.Context) error {
		return e.cache.Put(ctx, key, res)
	})
	if err != nil {
		e.cacheFailed(ctx, "put", err)
		return
	}
	if e.bloom != nil {
		e.bloom.Add(key)
	}
}

func (e *Engine) cacheFailed(ctx context.Context, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	e.metrics.RecordCacheError()
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return
	}
	observability.LogWithContext(ctx, e.logger, slog.LevelWarn, "verdict cache unavailable",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}

func (e *Engine) finish(ctx context.Context, span trace.Span, req types.ScanRequest, res types.ScanResult, fingerprint string, start time.Time) {
	span.SetAttributes(
		observability.AttrVerdict.String(string(res.Verdict)),
		observability.AttrStrength.Int64(int64(res.Strength)),
		observability.AttrBytesExamined.Int(res.BytesExamined),
		observability.AttrTruncated.Bool(res.Truncated),
		observability.AttrCacheHit.Bool(res.CacheHit),
	)
	if res.IsDetected() {
		span.SetAttributes(observability.AttrSignature.String(res.SignatureName))
		e.audit.LogDetection(ctx, res.SignatureName, res.ContentHash, req.AppName, req.ContentName)
		e.publish(ctx, req, res, fingerprint)
	}
	e.record(req, res, start, false)
}

func (e *Engine) publish(ctx context.Context, req types.ScanRequest, res types.ScanResult, fingerprint string) {
	if e.events == nil {
		return
	}
	ev := types.NewDetectionEvent(req, res, fingerprint)
	if err := e.events.PublishDetection(ctx, ev); err != nil {
		observability.LogWithContext(ctx, e.logger, slog.LevelWarn, "publishing detection event",
			slog.String("signature", res.SignatureName),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) record(req types.ScanRequest, res types.ScanResult, start time.Time, failed bool) {
	channel := req.Channel
	if channel == "" {
		channel = "direct"
	}
	e.metrics.RecordScan(observability.ScanOutcome{
		Channel:       channel,
		Duration:      time.Since(start),
		Failed:        failed,
		SignatureName: res.SignatureName,
		BytesExamined: res.BytesExamined,
		Truncated:     res.Truncated,
	})
}

// Swap installs store as the active signature set.
// In-flight scans finish against the set they started with.
// Returns false when store has the same fingerprint as the active set.
func (e *Engine) Swap(ctx context.Context, store *signatures.Store) (bool, error) {
	if store == nil {
		return false, fmt.Errorf("signature store is nil")
	}

	e.swapMu.Lock()
	defer e.swapMu.Unlock()

	prev := e.current.Load().Store()
	if prev.Fingerprint() == store.Fingerprint() {
		return false, nil
	}

	e.current.Store(classifier.New(store, e.opts))

	// Old keys embed the previous fingerprint and can never hit again.
	if e.bloom != nil {
		e.bloom.Reset()
	}

	e.metrics.RecordSignatureSwap()
	e.audit.LogSignatureSetSwapped(ctx, prev.Fingerprint(), store.Fingerprint(), store.Len())
	return true, nil
}

// RebuildBloomFilter repopulates the bloom filter from cache keys that
// belong to the active signature set.
func (e *Engine) RebuildBloomFilter(ctx context.Context) error {
	if e.bloom == nil {
		return nil
	}
	iter, ok := e.cache.(KeyIterator)
	if !ok {
		return fmt.Errorf("verdict cache %T cannot enumerate keys", e.cache)
	}

	ctx, span := observability.StartSpan(ctx, "engine.RebuildBloomFilter")
	defer span.End()

	count := 0
	prefix := CacheKey(e.Signatures().Fingerprint(), "")
	err := e.bloom.Rebuild(func(add func(string)) error {
		return iter.IterateKeys(ctx, prefix, func(key string) error {
			add(key)
			count++
			return nil
		})
	})
	if err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("iterating verdict cache: %w", err)
	}

	span.SetAttributes(attribute.Int("bloom.keys", count))
	e.logger.Debug("bloom filter rebuilt", slog.Int("keys", count))
	return nil
}

// Stats returns a point-in-time view of the engine.
func (e *Engine) Stats() EngineStats {
	c := e.current.Load()
	stats := EngineStats{
		SignatureCount: c.Store().Len(),
		Fingerprint:    c.Store().Fingerprint(),
		Version:        c.Store().Version(),
		MaxScanSize:    c.MaxScanSize(),
		CacheEnabled:   e.cache != nil,
		Metrics:        e.metrics.Snapshot(),
	}
	if e.breaker != nil {
		bs := e.breaker.Statistics()
		stats.CacheBreaker = &bs
	}
	if e.bloom != nil {
		b := e.bloom.Stats()
		stats.Bloom = &b
	}
	return stats
}

// Close releases the verdict cache.
func (e *Engine) Close() error {
	if c, ok := e.cache.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
