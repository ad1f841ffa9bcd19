// ABOUTME: Async scan job and its lifecycle: pending, running, then completed or failed
// ABOUTME: Transitions are checked against a fixed table; content itself is never stored

package types

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an async scan.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ErrInvalidTransition is wrapped by every rejected status change.
var ErrInvalidTransition = errors.New("invalid job transition")

// next lists the states each state may move to. Terminal states have none.
var next = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusFailed},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed},
}

// String returns the status name, or "unknown" for values outside the lifecycle.
func (s JobStatus) String() string {
	if s.known() {
		return string(s)
	}
	return "unknown"
}

func (s JobStatus) known() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the job can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is an async scan submission. ContentHash covers the whole submission,
// even when the scan examines only a prefix.
type Job struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	ContentHash string    `json:"content_hash"`
	ContentName string    `json:"content_name,omitempty"`
	AppName     string    `json:"app_name,omitempty"`
	ContentSize int64     `json:"content_size"`

	Result *ScanResult `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob returns a pending job with a fresh UUID for req.
func NewJob(contentHash string, req ScanRequest) *Job {
	return &Job{
		ID:          uuid.NewString(),
		Status:      JobStatusPending,
		ContentHash: contentHash,
		ContentName: req.ContentName,
		AppName:     req.AppName,
		ContentSize: int64(len(req.Content)),
		CreatedAt:   time.Now().UTC(),
	}
}

func (j *Job) moveTo(to JobStatus) (time.Time, error) {
	if !slices.Contains(next[j.Status], to) {
		return time.Time{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	return time.Now().UTC(), nil
}

// Start marks a pending job as picked up by a worker.
func (j *Job) Start() error {
	now, err := j.moveTo(JobStatusRunning)
	if err != nil {
		return err
	}
	j.StartedAt = &now
	return nil
}

// Complete records the verdict of a running job.
func (j *Job) Complete(result *ScanResult) error {
	now, err := j.moveTo(JobStatusCompleted)
	if err != nil {
		return err
	}
	j.Result = result
	j.CompletedAt = &now
	return nil
}

// Fail ends a pending or running job with msg. A pending job fails when it
// never reaches a worker, for example on a full queue or at shutdown.
func (j *Job) Fail(msg string) error {
	now, err := j.moveTo(JobStatusFailed)
	if err != nil {
		return err
	}
	j.Error = msg
	j.CompletedAt = &now
	return nil
}

// Duration is the time spent running: zero before Start, growing while
// running and fixed once the job ends.
func (j *Job) Duration() time.Duration {
	switch {
	case j.StartedAt == nil:
		return 0
	case j.CompletedAt == nil:
		return time.Since(*j.StartedAt)
	default:
		return j.CompletedAt.Sub(*j.StartedAt)
	}
}
