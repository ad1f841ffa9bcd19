// ABOUTME: Tests for the scan engine: caching, bloom rejection, hot swap and degradation
// ABOUTME: Uses in-memory BadgerDB caches and a failing fake to exercise the breaker

package engine

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hikmaai-io/hikmaai-lens/internal/classifier"
	"github.com/hikmaai-io/hikmaai-lens/internal/resilience"
	"github.com/hikmaai-io/hikmaai-lens/internal/signatures"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// Odd-length ASCII payloads take the UTF-8 decode path.
const (
	maliciousText = "Invoke-Expression"
	cleanText     = "hello world"
)

func request(text string) types.ScanRequest {
	return types.ScanRequest{Content: []byte(text), AppName: "test", Channel: "test"}
}

func setupCachedEngine(t *testing.T, withBloom bool) (*Engine, *BadgerVerdictCache) {
	t.Helper()

	cache := setupTestVerdictCache(t, 0)
	cfg := EngineConfig{Cache: cache}
	if withBloom {
		cfg.Bloom = NewBloomFilter(BloomConfig{ExpectedItems: 1000, FalsePositiveRate: 0.001})
	}
	return NewEngine(cfg), cache
}

func TestEngine_Scan_NoCache(t *testing.T) {
	t.Parallel()

	e := NewEngine(EngineConfig{})
	ctx := context.Background()

	res, err := e.Scan(ctx, request(maliciousText))
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if !res.IsMalware() {
		t.Errorf("Scan() = %+v, want detection", res)
	}
	if res.SignatureName != "PowerShell.IEX" {
		t.Errorf("SignatureName = %q, want %q", res.SignatureName, "PowerShell.IEX")
	}
	if res.ContentHash != types.ContentHash([]byte(maliciousText)) {
		t.Errorf("ContentHash = %q, want hash of content", res.ContentHash)
	}

	res, err = e.Scan(ctx, request(cleanText))
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if res.IsMalware() || res.Verdict != types.VerdictClean {
		t.Errorf("Scan() = %+v, want clean", res)
	}
	if res.CacheHit {
		t.Error("CacheHit = true without a cache")
	}
}

func TestEngine_Scan_NilContent(t *testing.T) {
	t.Parallel()

	e := NewEngine(EngineConfig{})

	_, err := e.Scan(context.Background(), types.ScanRequest{})
	if !errors.Is(err, classifier.ErrInvalidArgument) {
		t.Errorf("Scan(nil) error = %v, want ErrInvalidArgument", err)
	}
	if snap := e.Metrics().Snapshot(); snap.ScansFailed != 1 {
		t.Errorf("ScansFailed = %d, want 1", snap.ScansFailed)
	}
}

func TestEngine_Scan_EmptyIsClean(t *testing.T) {
	t.Parallel()

	e, cache := setupCachedEngine(t, false)

	res, err := e.Scan(context.Background(), types.ScanRequest{Content: []byte{}})
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if res.Strength != types.StrengthClean {
		t.Errorf("Strength = %v, want %v", res.Strength, types.StrengthClean)
	}
	if n, _ := cache.Count(context.Background()); n != 0 {
		t.Errorf("empty content was cached: Count() = %d", n)
	}
}

func TestEngine_Scan_CacheHit(t *testing.T) {
	t.Parallel()

	for _, withBloom := range []bool{false, true} {
		e, _ := setupCachedEngine(t, withBloom)
		ctx := context.Background()

		first, err := e.Scan(ctx, request(maliciousText))
		if err != nil {
			t.Fatalf("Scan() error: %v", err)
		}
		if first.CacheHit {
			t.Error("first Scan() CacheHit = true")
		}

		second, err := e.Scan(ctx, request(maliciousText))
		if err != nil {
			t.Fatalf("Scan() error: %v", err)
		}
		if !second.CacheHit {
			t.Errorf("second Scan() CacheHit = false (bloom=%v)", withBloom)
		}
		if second.BloomHit != withBloom {
			t.Errorf("BloomHit = %v, want %v", second.BloomHit, withBloom)
		}
		if second.Strength != first.Strength || second.SignatureName != first.SignatureName {
			t.Errorf("cached verdict %+v differs from %+v", second, first)
		}

		snap := e.Metrics().Snapshot()
		if snap.CacheHits != 1 {
			t.Errorf("CacheHits = %d, want 1", snap.CacheHits)
		}
	}
}

func TestEngine_Scan_BloomRejectsUnknown(t *testing.T) {
	t.Parallel()

	e, _ := setupCachedEngine(t, true)

	if _, err := e.Scan(context.Background(), request(cleanText)); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if snap := e.Metrics().Snapshot(); snap.BloomRejections != 1 {
		t.Errorf("BloomRejections = %d, want 1", snap.BloomRejections)
	}
}

func TestEngine_Scan_CachedTruncationFollowsRequest(t *testing.T) {
	t.Parallel()

	cache := setupTestVerdictCache(t, 0)
	e := NewEngine(EngineConfig{
		Cache:      cache,
		Classifier: classifier.Options{MaxScanSize: 17},
	})
	ctx := context.Background()

	exact, _ := e.Scan(ctx, request(maliciousText))
	if exact.Truncated {
		t.Error("exact-size content reported Truncated")
	}

	longer, err := e.Scan(ctx, request(maliciousText+" trailing bytes"))
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if !longer.CacheHit {
		t.Error("same examined prefix should hit the cache")
	}
	if !longer.Truncated {
		t.Error("longer content should report Truncated")
	}
}

func TestEngine_Swap(t *testing.T) {
	t.Parallel()

	e, _ := setupCachedEngine(t, true)
	ctx := context.Background()

	if _, err := e.Scan(ctx, request(maliciousText)); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}

	next := signatures.MustBuild([]types.Signature{
		testSig("hello", "Test.Hello", "test"),
	})
	swapped, err := e.Swap(ctx, next)
	if err != nil {
		t.Fatalf("Swap() error: %v", err)
	}
	if !swapped {
		t.Fatal("Swap() = false for a new set")
	}
	if e.Signatures().Fingerprint() != next.Fingerprint() {
		t.Error("Signatures() did not return the swapped set")
	}

	res, _ := e.Scan(ctx, request(maliciousText))
	if res.IsMalware() || res.CacheHit {
		t.Errorf("Scan() after Swap() = %+v, want an uncached clean verdict", res)
	}
	res, _ = e.Scan(ctx, request(cleanText))
	if res.SignatureName != "Test.Hello" {
		t.Errorf("SignatureName = %q, want %q", res.SignatureName, "Test.Hello")
	}

	swapped, err = e.Swap(ctx, next)
	if err != nil {
		t.Fatalf("Swap() error: %v", err)
	}
	if swapped {
		t.Error("Swap() of identical set = true, want false")
	}

	if _, err := e.Swap(ctx, nil); err == nil {
		t.Error("Swap(nil) should fail")
	}
	if snap := e.Metrics().Snapshot(); snap.SignatureSwaps != 1 {
		t.Errorf("SignatureSwaps = %d, want 1", snap.SignatureSwaps)
	}
}

func TestEngine_SwapDuringScans(t *testing.T) {
	t.Parallel()

	e := NewEngine(EngineConfig{})
	ctx := context.Background()
	alt := signatures.MustBuild([]types.Signature{testSig("zzz", "Z", "test")})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				if _, err := e.Scan(ctx, request(maliciousText)); err != nil {
					t.Errorf("Scan() error: %v", err)
					return
				}
			}
		}()
	}
	for i := range 50 {
		if i%2 == 0 {
			_, _ = e.Swap(ctx, alt)
		} else {
			_, _ = e.Swap(ctx, signatures.Default())
		}
	}
	wg.Wait()
}

func TestEngine_RebuildBloomFilter(t *testing.T) {
	t.Parallel()

	cache := setupTestVerdictCache(t, 0)
	ctx := context.Background()

	// Populate the cache through an engine without a bloom filter.
	warm := NewEngine(EngineConfig{Cache: cache})
	_, _ = warm.Scan(ctx, request(maliciousText))

	e := NewEngine(EngineConfig{
		Cache: cache,
		Bloom: NewBloomFilter(DefaultBloomConfig()),
	})
	if err := e.RebuildBloomFilter(ctx); err != nil {
		t.Fatalf("RebuildBloomFilter() error: %v", err)
	}

	res, _ := e.Scan(ctx, request(maliciousText))
	if !res.CacheHit || !res.BloomHit {
		t.Errorf("Scan() after rebuild = %+v, want bloom-fronted cache hit", res)
	}
}

type failingCache struct {
	calls atomic.Int64
}

var errCacheDown = errors.New("cache down")

func (f *failingCache) Get(context.Context, string) (types.ScanResult, bool, error) {
	f.calls.Add(1)
	return types.ScanResult{}, false, errCacheDown
}

func (f *failingCache) Put(context.Context, string, types.ScanResult) error {
	f.calls.Add(1)
	return errCacheDown
}

func (f *failingCache) Delete(context.Context, string) error { return errCacheDown }
func (f *failingCache) Clear(context.Context) error          { return errCacheDown }

func TestEngine_CacheFailureDegrades(t *testing.T) {
	t.Parallel()

	cache := &failingCache{}
	e := NewEngine(EngineConfig{
		Cache:        cache,
		CacheBreaker: resilience.CircuitBreakerConfig{MaxFailures: 2},
	})
	ctx := context.Background()

	for range 5 {
		res, err := e.Scan(ctx, request(maliciousText))
		if err != nil {
			t.Fatalf("Scan() error: %v", err)
		}
		if !res.IsMalware() {
			t.Errorf("Scan() = %+v, want detection despite cache failure", res)
		}
	}

	// The breaker opens after two failures and stops calling the cache.
	if got := cache.calls.Load(); got != 2 {
		t.Errorf("cache calls = %d, want 2", got)
	}
	stats := e.Stats()
	if stats.CacheBreaker == nil || stats.CacheBreaker.StateName != "open" {
		t.Errorf("CacheBreaker = %+v, want open", stats.CacheBreaker)
	}
	if stats.Metrics.CacheErrors == 0 {
		t.Error("CacheErrors = 0, want > 0")
	}
}

func TestEngine_Scan_Canceled(t *testing.T) {
	t.Parallel()

	e := NewEngine(EngineConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Scan(ctx, request(cleanText))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Scan() error = %v, want context.Canceled", err)
	}
}

func TestEngine_Stats(t *testing.T) {
	t.Parallel()

	e, _ := setupCachedEngine(t, true)
	_, _ = e.Scan(context.Background(), request(cleanText))

	stats := e.Stats()
	def := signatures.Default()
	if stats.SignatureCount != def.Len() {
		t.Errorf("SignatureCount = %d, want %d", stats.SignatureCount, def.Len())
	}
	if stats.Fingerprint != def.Fingerprint() {
		t.Errorf("Fingerprint = %s, want %s", stats.Fingerprint, def.Fingerprint())
	}
	if stats.MaxScanSize != classifier.DefaultMaxScanSize {
		t.Errorf("MaxScanSize = %d, want %d", stats.MaxScanSize, classifier.DefaultMaxScanSize)
	}
	if !stats.CacheEnabled || stats.Bloom == nil {
		t.Errorf("Stats() = %+v, want cache and bloom reported", stats)
	}
	if stats.Metrics.ScansTotal != 1 {
		t.Errorf("ScansTotal = %d, want 1", stats.Metrics.ScansTotal)
	}
}

func TestEngine_Scan_UTF16(t *testing.T) {
	t.Parallel()

	e := NewEngine(EngineConfig{})

	var buf bytes.Buffer
	for _, r := range "start-process calc" {
		buf.WriteByte(byte(r))
		buf.WriteByte(0)
	}

	res, err := e.Scan(context.Background(), types.ScanRequest{Content: buf.Bytes()})
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if res.SignatureName != "PowerShell.ProcessStart" {
		t.Errorf("SignatureName = %q, want %q", res.SignatureName, "PowerShell.ProcessStart")
	}
	if res.Encoding != types.EncodingUTF16LE {
		t.Errorf("Encoding = %v, want %v", res.Encoding, types.EncodingUTF16LE)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.DetectionEvent
	err    error
}

func (p *recordingPublisher) PublishDetection(_ context.Context, ev types.DetectionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func TestEngine_Scan_PublishesDetections(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	e := NewEngine(EngineConfig{Events: pub})
	ctx := context.Background()

	req := request(maliciousText)
	req.ContentName = "script.ps1"
	if _, err := e.Scan(ctx, req); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if _, err := e.Scan(ctx, request(cleanText)); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}

	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	ev := pub.events[0]
	if ev.SignatureName != "PowerShell.IEX" || ev.ContentName != "script.ps1" {
		t.Errorf("event = %+v, want PowerShell.IEX for script.ps1", ev)
	}
	if ev.Fingerprint != e.Signatures().Fingerprint() {
		t.Errorf("event fingerprint = %s, want active fingerprint", ev.Fingerprint)
	}
}

func TestEngine_Scan_PublishFailureDoesNotFailScan(t *testing.T) {
	t.Parallel()

	e := NewEngine(EngineConfig{Events: &recordingPublisher{err: errors.New("stream down")}})

	res, err := e.Scan(context.Background(), request(maliciousText))
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if !res.IsMalware() {
		t.Errorf("Scan() = %+v, want detection", res)
	}
}
