// ABOUTME: Badger persistence for async scan jobs
// ABOUTME: Jobs are keyed by ID with a secondary index from content hash to the latest job

package engine

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

func jobKey(id string) []byte          { return []byte("job:" + id) }
func contentIndexKey(hash string) []byte { return []byte("job-content:" + hash) }

var jobKeyPrefix = jobKey("")

// JobFilter narrows List. The zero value matches every job.
type JobFilter struct {
	Statuses []types.JobStatus
	// Limit caps the result when positive.
	Limit int
}

func (f JobFilter) match(j *types.Job) bool {
	return len(f.Statuses) == 0 || slices.Contains(f.Statuses, j.Status)
}

// JobStore keeps scan jobs in Badger. Terminal jobs, and their index
// entries, expire after the retention period when one is set.
type JobStore struct {
	db        *badger.DB
	retention time.Duration
}

// NewJobStore opens the job database. retention <= 0 keeps jobs forever.
func NewJobStore(cfg StoreConfig, retention time.Duration) (*JobStore, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	return &JobStore{db: db, retention: retention}, nil
}

func (s *JobStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create stores job and points its content hash at it.
func (s *JobStore) Create(_ context.Context, job *types.Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := s.put(txn, job); err != nil {
			return err
		}
		if job.ContentHash == "" {
			return nil
		}
		return s.index(txn, job)
	})
}

// Update overwrites job. Moving to a terminal state starts its retention
// clock.
func (s *JobStore) Update(_ context.Context, job *types.Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := s.put(txn, job); err != nil {
			return err
		}
		if !s.expires(job) || job.ContentHash == "" {
			return nil
		}
		owner, err := indexOwner(txn, job.ContentHash)
		if err != nil || owner != job.ID {
			return err
		}
		return s.index(txn, job)
	})
}

func (s *JobStore) expires(job *types.Job) bool {
	return s.retention > 0 && job.Status.IsTerminal()
}

func (s *JobStore) entry(key, value []byte, job *types.Job) *badger.Entry {
	e := badger.NewEntry(key, value)
	if s.expires(job) {
		e = e.WithTTL(s.retention)
	}
	return e
}

func (s *JobStore) put(txn *badger.Txn, job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", job.ID, err)
	}
	return txn.SetEntry(s.entry(jobKey(job.ID), data, job))
}

func (s *JobStore) index(txn *badger.Txn, job *types.Job) error {
	if err := txn.SetEntry(s.entry(contentIndexKey(job.ContentHash), []byte(job.ID), job)); err != nil {
		return fmt.Errorf("indexing job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the job with id, or nil when there is none.
func (s *JobStore) Get(_ context.Context, id string) (*types.Job, error) {
	var job *types.Job
	err := s.db.View(func(txn *badger.Txn) (err error) {
		job, err = getJob(txn, id)
		return err
	})
	return job, err
}

// GetByContentHash returns the latest job submitted for hash, or nil.
func (s *JobStore) GetByContentHash(_ context.Context, hash string) (*types.Job, error) {
	var job *types.Job
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := indexOwner(txn, hash)
		if err != nil || id == "" {
			return err
		}
		job, err = getJob(txn, id)
		return err
	})
	return job, err
}

// List returns matching jobs, newest first.
func (s *JobStore) List(ctx context.Context, filter JobFilter) ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = jobKeyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			job := new(types.Job)
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, job) }); err != nil {
				// Undecodable entries are skipped rather than failing the listing.
				continue
			}
			if filter.match(job) {
				jobs = append(jobs, job)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(jobs, func(a, b *types.Job) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

// Count returns the number of stored jobs.
func (s *JobStore) Count(_ context.Context) (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = jobKeyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func indexOwner(txn *badger.Txn, hash string) (string, error) {
	item, err := txn.Get(contentIndexKey(hash))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("reading content index: %w", err)
	}
	id, err := item.ValueCopy(nil)
	return string(id), err
}

func getJob(txn *badger.Txn, id string) (*types.Job, error) {
	item, err := txn.Get(jobKey(id))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("reading job %s: %w", id, err)
	}
	job := new(types.Job)
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, job) }); err != nil {
		return nil, fmt.Errorf("decoding job %s: %w", id, err)
	}
	return job, nil
}
