// ABOUTME: Per-job state hashes for stream-submitted scans
// ABOUTME: Producers poll the hash for status and verdict fields until the job is terminal

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const jobStatePrefix = "job_state:"

// JobStateStore keeps one Redis hash per job ID.
type JobStateStore struct {
	client *Client
	ttl    time.Duration
}

// NewJobStateStore creates a store. Each write refreshes the TTL when ttl > 0.
func NewJobStateStore(client *Client, ttl time.Duration) *JobStateStore {
	return &JobStateStore{client: client, ttl: ttl}
}

// Key returns the full Redis key for jobID.
func (s *JobStateStore) Key(jobID string) string {
	return s.client.Key(jobStatePrefix + jobID)
}

// Set writes fields and refreshes the TTL in one transaction.
func (s *JobStateStore) Set(ctx context.Context, jobID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	key := s.Key(jobID)
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}

	_, err := s.client.Raw().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, args...)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing job state %s: %w", key, err)
	}
	return nil
}

// Get returns every field of the job's hash. A missing job yields an empty map.
func (s *JobStateStore) Get(ctx context.Context, jobID string) (map[string]string, error) {
	key := s.Key(jobID)
	fields, err := s.client.Raw().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading job state %s: %w", key, err)
	}
	return fields, nil
}
