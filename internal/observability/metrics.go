// ABOUTME: In-process metrics for classification traffic
// ABOUTME: Verdict and cache counters, latency percentiles, per-channel and per-signature stats

package observability

import (
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsSnapshot contains a point-in-time snapshot of all counters.
type MetricsSnapshot struct {
	ScansTotal  int64 `json:"scans_total"`
	ScansFailed int64 `json:"scans_failed"`

	// Verdicts of successful scans.
	Detected int64 `json:"detected"`
	Clean    int64 `json:"clean"`

	// Scans whose input exceeded the examined-prefix cap.
	Truncated     int64 `json:"truncated"`
	BytesExamined int64 `json:"bytes_examined"`

	CacheHits       int64 `json:"cache_hits"`
	CacheMisses     int64 `json:"cache_misses"`
	CacheErrors     int64 `json:"cache_errors"`
	BloomRejections int64 `json:"bloom_rejections"`

	SignatureSwaps int64 `json:"signature_swaps"`

	ActiveScans int64 `json:"active_scans"`
	QueueDepth  int64 `json:"queue_depth"`

	Timestamp time.Time `json:"timestamp"`
}

// String returns a human-readable representation.
func (s *MetricsSnapshot) String() string {
	return fmt.Sprintf(
		"scans=%d (fail=%d) detected=%d clean=%d truncated=%d cache=%d/%d bloom_reject=%d active=%d queue=%d",
		s.ScansTotal, s.ScansFailed, s.Detected, s.Clean, s.Truncated,
		s.CacheHits, s.CacheHits+s.CacheMisses, s.BloomRejections,
		s.ActiveScans, s.QueueDepth,
	)
}

// LatencyPercentiles contains latency distribution.
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P75 time.Duration `json:"p75"`
	P90 time.Duration `json:"p90"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
	Max time.Duration `json:"max"`
}

// ChannelStat contains statistics for one request channel (http, nats, worker, cli).
type ChannelStat struct {
	TotalScans     int64         `json:"total_scans"`
	Detections     int64         `json:"detections"`
	FailureCount   int64         `json:"failure_count"`
	AverageLatency time.Duration `json:"average_latency"`
}

type channelStats struct {
	mu         sync.Mutex
	totalScans int64
	detections int64
	failures   int64
	latencies  []time.Duration
}

// ScanMetrics collects counters for scan operations. Safe for concurrent use.
type ScanMetrics struct {
	scansTotal      atomic.Int64
	scansFailed     atomic.Int64
	detected        atomic.Int64
	clean           atomic.Int64
	truncated       atomic.Int64
	bytesExamined   atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	cacheErrors     atomic.Int64
	bloomRejections atomic.Int64
	signatureSwaps  atomic.Int64
	activeScans     atomic.Int64
	queueDepth      atomic.Int64

	mu         sync.RWMutex
	latencies  []time.Duration
	channels   map[string]*channelStats
	signatures map[string]int64
}

// NewScanMetrics creates a new metrics collector.
func NewScanMetrics() *ScanMetrics {
	return &ScanMetrics{
		latencies:  make([]time.Duration, 0, 1000),
		channels:   make(map[string]*channelStats),
		signatures: make(map[string]int64),
	}
}

// ScanOutcome describes one finished scan for RecordScan.
type ScanOutcome struct {
	Channel       string
	Duration      time.Duration
	Failed        bool
	SignatureName string // empty for clean scans
	BytesExamined int
	Truncated     bool
}

// RecordScan records one scan.
func (m *ScanMetrics) RecordScan(o ScanOutcome) {
	m.scansTotal.Add(1)

	detected := !o.Failed && o.SignatureName != ""
	switch {
	case o.Failed:
		m.scansFailed.Add(1)
	case detected:
		m.detected.Add(1)
	default:
		m.clean.Add(1)
	}
	if o.Truncated {
		m.truncated.Add(1)
	}
	m.bytesExamined.Add(int64(o.BytesExamined))

	m.mu.Lock()
	m.latencies = append(m.latencies, o.Duration)
	if len(m.latencies) > 10000 {
		m.latencies = m.latencies[len(m.latencies)-5000:]
	}
	if detected {
		m.signatures[o.SignatureName]++
	}
	stats, ok := m.channels[o.Channel]
	if !ok {
		stats = &channelStats{}
		m.channels[o.Channel] = stats
	}
	m.mu.Unlock()

	stats.mu.Lock()
	stats.totalScans++
	if o.Failed {
		stats.failures++
	}
	if detected {
		stats.detections++
	}
	stats.latencies = append(stats.latencies, o.Duration)
	if len(stats.latencies) > 1000 {
		stats.latencies = stats.latencies[len(stats.latencies)-500:]
	}
	stats.mu.Unlock()
}

// RecordCacheHit records a verdict served from cache.
func (m *ScanMetrics) RecordCacheHit() { m.cacheHits.Add(1) }

// RecordCacheMiss records a cache lookup that found nothing.
func (m *ScanMetrics) RecordCacheMiss() { m.cacheMisses.Add(1) }

// RecordCacheError records a failed cache call.
func (m *ScanMetrics) RecordCacheError() { m.cacheErrors.Add(1) }

// RecordBloomRejection records a cache read skipped by the bloom filter.
func (m *ScanMetrics) RecordBloomRejection() { m.bloomRejections.Add(1) }

// RecordSignatureSwap records a replacement of the active signature set.
func (m *ScanMetrics) RecordSignatureSwap() { m.signatureSwaps.Add(1) }

// IncrementActiveScans increments the active scan counter.
func (m *ScanMetrics) IncrementActiveScans() { m.activeScans.Add(1) }

// DecrementActiveScans decrements the active scan counter.
func (m *ScanMetrics) DecrementActiveScans() { m.activeScans.Add(-1) }

// SetQueueDepth sets the current async queue depth.
func (m *ScanMetrics) SetQueueDepth(depth int64) { m.queueDepth.Store(depth) }

// Snapshot returns a point-in-time snapshot of all counters.
func (m *ScanMetrics) Snapshot() *MetricsSnapshot {
	return &MetricsSnapshot{
		ScansTotal:      m.scansTotal.Load(),
		ScansFailed:     m.scansFailed.Load(),
		Detected:        m.detected.Load(),
		Clean:           m.clean.Load(),
		Truncated:       m.truncated.Load(),
		BytesExamined:   m.bytesExamined.Load(),
		CacheHits:       m.cacheHits.Load(),
		CacheMisses:     m.cacheMisses.Load(),
		CacheErrors:     m.cacheErrors.Load(),
		BloomRejections: m.bloomRejections.Load(),
		SignatureSwaps:  m.signatureSwaps.Load(),
		ActiveScans:     m.activeScans.Load(),
		QueueDepth:      m.queueDepth.Load(),
		Timestamp:       time.Now(),
	}
}

// LatencyPercentiles returns latency distribution percentiles.
func (m *ScanMetrics) LatencyPercentiles() LatencyPercentiles {
	m.mu.RLock()
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	m.mu.RUnlock()

	if len(sorted) == 0 {
		return LatencyPercentiles{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencyPercentiles{
		P50: percentile(sorted, 50),
		P75: percentile(sorted, 75),
		P90: percentile(sorted, 90),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
		Max: sorted[len(sorted)-1],
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ChannelStats returns per-channel statistics.
func (m *ScanMetrics) ChannelStats() map[string]*ChannelStat {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*ChannelStat, len(m.channels))
	for name, stats := range m.channels {
		stats.mu.Lock()
		stat := &ChannelStat{
			TotalScans:   stats.totalScans,
			Detections:   stats.detections,
			FailureCount: stats.failures,
		}
		if len(stats.latencies) > 0 {
			var total time.Duration
			for _, lat := range stats.latencies {
				total += lat
			}
			stat.AverageLatency = total / time.Duration(len(stats.latencies))
		}
		stats.mu.Unlock()
		result[name] = stat
	}
	return result
}

// DetectionCounts returns the number of detections per signature name.
func (m *ScanMetrics) DetectionCounts() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.signatures)
}

// Reset resets all metrics to zero.
func (m *ScanMetrics) Reset() {
	for _, c := range []*atomic.Int64{
		&m.scansTotal, &m.scansFailed, &m.detected, &m.clean, &m.truncated,
		&m.bytesExamined, &m.cacheHits, &m.cacheMisses, &m.cacheErrors,
		&m.bloomRejections, &m.signatureSwaps, &m.activeScans, &m.queueDepth,
	} {
		c.Store(0)
	}

	m.mu.Lock()
	m.latencies = m.latencies[:0]
	m.channels = make(map[string]*channelStats)
	m.signatures = make(map[string]int64)
	m.mu.Unlock()
}

// String returns a summary string.
func (m *ScanMetrics) String() string {
	p := m.LatencyPercentiles()
	return fmt.Sprintf("%s p50=%v p99=%v", m.Snapshot().String(), p.P50, p.P99)
}
