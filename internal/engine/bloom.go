// ABOUTME: Bloom filter over verdict cache keys, rebuilt off to the side and swapped in
// ABOUTME: A negative test lets the engine skip the cache round-trip entirely

package engine

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomConfig sizes the filter.
type BloomConfig struct {
	ExpectedItems     uint    `toml:"expected_items"`
	FalsePositiveRate float64 `toml:"false_positive_rate"`
}

// DefaultBloomConfig sizes the filter for a busy daemon.
func DefaultBloomConfig() BloomConfig {
	return BloomConfig{ExpectedItems: 1_000_000, FalsePositiveRate: 0.01}
}

func (c BloomConfig) normalized() BloomConfig {
	d := DefaultBloomConfig()
	if c.ExpectedItems == 0 {
		c.ExpectedItems = d.ExpectedItems
	}
	if c.FalsePositiveRate <= 0 || c.FalsePositiveRate >= 1 {
		c.FalsePositiveRate = d.FalsePositiveRate
	}
	return c
}

func (c BloomConfig) empty() *bloom.BloomFilter {
	return bloom.NewWithEstimates(c.ExpectedItems, c.FalsePositiveRate)
}

// BloomStats is reported under engine stats.
type BloomStats struct {
	Capacity          uint    `json:"capacity"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	BitSetSize        uint64  `json:"bit_set_size"`
	HashFunctions     uint    `json:"hash_functions"`
	ApproximateCount  uint32  `json:"approximate_count"`
}

// BloomFilter is safe for concurrent use.
type BloomFilter struct {
	config BloomConfig

	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewBloomFilter returns an empty filter. Zero or out of range settings
// fall back to DefaultBloomConfig.
func NewBloomFilter(cfg BloomConfig) *BloomFilter {
	cfg = cfg.normalized()
	return &BloomFilter{config: cfg, filter: cfg.empty()}
}

func (bf *BloomFilter) Add(key string) {
	bf.mu.Lock()
	bf.filter.AddString(key)
	bf.mu.Unlock()
}

// Test is false only for keys that were never added since the last Reset.
func (bf *BloomFilter) Test(key string) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.filter.TestString(key)
}

// Reset empties the filter.
func (bf *BloomFilter) Reset() {
	bf.replace(bf.config.empty())
}

// Rebuild fills a fresh filter through fill and swaps it in only if fill
// succeeds. Keys added concurrently during the rebuild are lost, which
// costs at most a cache miss.
func (bf *BloomFilter) Rebuild(fill func(add func(key string)) error) error {
	next := bf.config.empty()
	if err := fill(func(key string) { next.AddString(key) }); err != nil {
		return err
	}
	bf.replace(next)
	return nil
}

func (bf *BloomFilter) replace(f *bloom.BloomFilter) {
	bf.mu.Lock()
	bf.filter = f
	bf.mu.Unlock()
}

func (bf *BloomFilter) Stats() BloomStats {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return BloomStats{
		Capacity:          bf.config.ExpectedItems,
		FalsePositiveRate: bf.config.FalsePositiveRate,
		BitSetSize:        uint64(bf.filter.Cap() / 8),
		HashFunctions:     bf.filter.K(),
		ApproximateCount:  bf.filter.ApproximatedSize(),
	}
}
