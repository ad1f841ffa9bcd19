// ABOUTME: Verdict cache contract and its local Badger implementation
// ABOUTME: Keys bind a signature set fingerprint to the hash of the examined prefix

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// VerdictCache stores scan results by CacheKey.
type VerdictCache interface {
	// Get reports a miss as ok == false with a nil error.
	Get(ctx context.Context, key string) (res types.ScanResult, ok bool, err error)
	Put(ctx context.Context, key string, res types.ScanResult) error
	// Clear drops every cached verdict.
	Clear(ctx context.Context) error
}

// KeyIterator lists cache keys. The engine needs it to seed its bloom filter.
type KeyIterator interface {
	IterateKeys(ctx context.Context, prefix string, fn func(key string) error) error
}

// CacheCounter reports how many verdicts a cache holds.
type CacheCounter interface {
	Count(ctx context.Context) (int64, error)
}

// CacheKey is the verdict key for a set fingerprint and content hash.
// CacheKey(fp, "") is the prefix shared by every key of that set.
func CacheKey(fingerprint, contentHash string) string {
	return fingerprint + ":" + contentHash
}

var verdictPrefix = []byte("verdict:")

func verdictKey(key string) []byte {
	return append(bytes.Clone(verdictPrefix), key...)
}

// BadgerVerdictCache keeps verdicts in a local Badger database.
type BadgerVerdictCache struct {
	db  *badger.DB
	ttl time.Duration
}

var (
	_ VerdictCache = (*BadgerVerdictCache)(nil)
	_ KeyIterator  = (*BadgerVerdictCache)(nil)
	_ CacheCounter = (*BadgerVerdictCache)(nil)
)

// NewBadgerVerdictCache opens the cache. With ttl <= 0 entries never expire.
func NewBadgerVerdictCache(cfg StoreConfig, ttl time.Duration) (*BadgerVerdictCache, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	return &BadgerVerdictCache{db: db, ttl: ttl}, nil
}

func (c *BadgerVerdictCache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *BadgerVerdictCache) Get(_ context.Context, key string) (types.ScanResult, bool, error) {
	var (
		res types.ScanResult
		ok  bool
	)
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(verdictKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading verdict: %w", err)
		}
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &res) }); err != nil {
			return fmt.Errorf("decoding verdict: %w", err)
		}
		ok = true
		return nil
	})
	if err != nil {
		return types.ScanResult{}, false, err
	}
	return res, ok, nil
}

func (c *BadgerVerdictCache) Put(_ context.Context, key string, res types.ScanResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding verdict: %w", err)
	}
	e := badger.NewEntry(verdictKey(key), data)
	if c.ttl > 0 {
		e = e.WithTTL(c.ttl)
	}
	return c.db.Update(func(txn *badger.Txn) error { return txn.SetEntry(e) })
}

func (c *BadgerVerdictCache) Clear(context.Context) error {
	return c.db.DropPrefix(verdictPrefix)
}

func (c *BadgerVerdictCache) Count(ctx context.Context) (int64, error) {
	var n int64
	err := c.IterateKeys(ctx, "", func(string) error { n++; return nil })
	return n, err
}

// IterateKeys calls fn with every unexpired key that starts with prefix.
func (c *BadgerVerdictCache) IterateKeys(ctx context.Context, prefix string, fn func(key string) error) error {
	return c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = verdictKey(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			if item.IsDeletedOrExpired() {
				continue
			}
			if err := fn(string(item.Key()[len(verdictPrefix):])); err != nil {
				return err
			}
		}
		return nil
	})
}
