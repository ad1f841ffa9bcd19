// ABOUTME: BadgerDB persistence for the active ordered signature set
// ABOUTME: Entries are keyed by position so reloading preserves probe order

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/hikmaai-io/hikmaai-lens/internal/signatures"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

const (
	sigEntryPrefix = "sigset:entry:"
	sigMetaKey     = "sigset:meta"
)

// ErrNoSignatureSet is returned by Load when nothing has been saved yet.
var ErrNoSignatureSet = errors.New("no signature set stored")

// StoreConfig locates a badger database. Path is ignored when InMemory
// is set.
type StoreConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	// Logger receives badger's own output. Nil silences it.
	Logger badger.Logger
}

func (c StoreConfig) options() badger.Options {
	return badger.DefaultOptions(c.Path).
		WithInMemory(c.InMemory).
		WithSyncWrites(c.SyncWrites).
		WithLogger(c.Logger)
}

func openBadger(cfg StoreConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required")
	}
	db, err := badger.Open(cfg.options())
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", cfg.Path, err)
	}
	return db, nil
}

// SetMeta describes the persisted signature set.
type SetMeta struct {
	Fingerprint string    `json:"fingerprint"`
	Count       int       `json:"count"`
	Source      string    `json:"source"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SignatureDB persists one ordered signature set.
type SignatureDB struct {
	db *badger.DB
}

func NewSignatureDB(cfg StoreConfig) (*SignatureDB, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	return &SignatureDB{db: db}, nil
}

func (s *SignatureDB) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save replaces the stored set with store.
// The metadata record is written last; a set without metadata is never loaded.
func (s *SignatureDB) Save(ctx context.Context, store *signatures.Store, source string) (SetMeta, error) {
	if store == nil {
		return SetMeta{}, fmt.Errorf("store is nil")
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sigMetaKey))
	}); err != nil {
		return SetMeta{}, fmt.Errorf("clearing signature meta: %w", err)
	}
	if err := s.db.DropPrefix([]byte(sigEntryPrefix)); err != nil {
		return SetMeta{}, fmt.Errorf("dropping previous signature set: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	i := 0
	for sig := range store.Entries() {
		if err := ctx.Err(); err != nil {
			return SetMeta{}, err
		}
		data, err := json.Marshal(sig)
		if err != nil {
			return SetMeta{}, fmt.Errorf("marshaling signature %q: %w", sig.Name, err)
		}
		if err := wb.Set(entryKey(i), data); err != nil {
			return SetMeta{}, fmt.Errorf("writing signature %d: %w", i, err)
		}
		i++
	}
	if err := wb.Flush(); err != nil {
		return SetMeta{}, fmt.Errorf("flushing signature set: %w", err)
	}

	meta := SetMeta{
		Fingerprint: store.Fingerprint(),
		Count:       store.Len(),
		Source:      source,
		UpdatedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return SetMeta{}, fmt.Errorf("marshaling signature meta: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sigMetaKey), data)
	}); err != nil {
		return SetMeta{}, fmt.Errorf("writing signature meta: %w", err)
	}

	return meta, nil
}

// Meta returns the stored set's metadata.
// Returns (meta, false, nil) if nothing is stored.
func (s *SignatureDB) Meta(ctx context.Context) (SetMeta, bool, error) {
	var meta SetMeta
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sigMetaKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting signature meta: %w", err)
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})

	return meta, found, err
}

// Load rebuilds the stored set in its saved order.
func (s *SignatureDB) Load(ctx context.Context) (*signatures.Store, SetMeta, error) {
	meta, found, err := s.Meta(ctx)
	if err != nil {
		return nil, SetMeta{}, err
	}
	if !found {
		return nil, SetMeta{}, ErrNoSignatureSet
	}

	entries := make([]types.Signature, 0, meta.Count)
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sigEntryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Zero-padded positions iterate in insertion order.
		for it.Rewind(); it.Valid(); it.Next() {
			var sig types.Signature
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sig)
			}); err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, sig)
		}
		return nil
	})
	if err != nil {
		return nil, SetMeta{}, err
	}

	store, err := signatures.Build(entries)
	if err != nil {
		return nil, SetMeta{}, fmt.Errorf("rebuilding stored signature set: %w", err)
	}
	if store.Fingerprint() != meta.Fingerprint {
		return nil, SetMeta{}, fmt.Errorf("stored signature set is inconsistent: fingerprint %s, meta %s",
			store.Fingerprint(), meta.Fingerprint)
	}

	return store, meta, nil
}

// Clear removes the stored set.
func (s *SignatureDB) Clear(ctx context.Context) error {
	return s.db.DropPrefix([]byte("sigset:"))
}

// SizeBytes returns the on-disk LSM plus value log size.
func (s *SignatureDB) SizeBytes() int64 {
	lsm, vlog := s.db.Size()
	return lsm + vlog
}

func entryKey(i int) []byte {
	return fmt.Appendf(nil, "%s%08d", sigEntryPrefix, i)
}
