// ABOUTME: Per-updater status reported on the health endpoint
// ABOUTME: StatusTracker records run lifecycle events and hands out copies

package dbupdater

import (
	"maps"
	"sync"
	"time"
)

// Status is where an updater is in its run cycle.
type Status string

const (
	// StatusPending means the updater has not run since registration.
	StatusPending  Status = "pending"
	StatusIdle     Status = "idle"
	StatusUpdating Status = "updating"
	// StatusFailed means the last run gave up after its retries.
	StatusFailed Status = "failed"
)

// VersionInfo identifies an installed signature set.
type VersionInfo struct {
	Fingerprint string         `json:"fingerprint"`
	Count       int            `json:"count"`
	UpdatedAt   time.Time      `json:"updated_at,omitzero"`
	Feeds       map[string]int `json:"feeds,omitempty"`
}

// UpdaterStatus is a snapshot of one updater.
type UpdaterStatus struct {
	Name          string      `json:"name"`
	Status        Status      `json:"status"`
	Ready         bool        `json:"ready"`
	Version       VersionInfo `json:"version"`
	LastUpdate    time.Time   `json:"last_update,omitzero"`
	NextScheduled time.Time   `json:"next_scheduled,omitzero"`
	LastError     string      `json:"last_error,omitempty"`
	// Failures counts failed attempts since the last success.
	Failures int `json:"failures"`
}

// Age is the time since the last successful run, zero if there was none.
func (s *UpdaterStatus) Age(now time.Time) time.Duration {
	if s.LastUpdate.IsZero() {
		return 0
	}
	return now.Sub(s.LastUpdate)
}

// StatusTracker is safe for concurrent use. Events for unknown names are
// dropped.
type StatusTracker struct {
	mu       sync.RWMutex
	statuses map[string]*UpdaterStatus
}

// NewStatusTracker returns an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{statuses: make(map[string]*UpdaterStatus)}
}

// Register starts tracking name with the set it currently has installed.
func (t *StatusTracker) Register(name string, version VersionInfo, ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	version.Feeds = maps.Clone(version.Feeds)
	t.statuses[name] = &UpdaterStatus{Name: name, Status: StatusPending, Version: version, Ready: ready}
}

func (t *StatusTracker) with(name string, fn func(*UpdaterStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.statuses[name]; ok {
		fn(s)
	}
}

// Started marks a run in progress.
func (t *StatusTracker) Started(name string) {
	t.with(name, func(s *UpdaterStatus) { s.Status = StatusUpdating })
}

// Succeeded records a finished run and the set it left installed.
func (t *StatusTracker) Succeeded(name string, at time.Time, version VersionInfo, ready bool) {
	version.Feeds = maps.Clone(version.Feeds)
	t.with(name, func(s *UpdaterStatus) {
		s.Status = StatusIdle
		s.LastUpdate = at
		s.LastError = ""
		s.Failures = 0
		s.Version = version
		s.Ready = ready
	})
}

// AttemptFailed records a failed attempt while the run may still retry.
func (t *StatusTracker) AttemptFailed(name, msg string) {
	t.with(name, func(s *UpdaterStatus) {
		s.LastError = msg
		s.Failures++
	})
}

// GaveUp ends a run that never succeeded.
func (t *StatusTracker) GaveUp(name string) {
	t.with(name, func(s *UpdaterStatus) { s.Status = StatusFailed })
}

// Scheduled records when the next interval run is due.
func (t *StatusTracker) Scheduled(name string, at time.Time) {
	t.with(name, func(s *UpdaterStatus) { s.NextScheduled = at })
}

func (s *UpdaterStatus) clone() *UpdaterStatus {
	cp := *s
	cp.Version.Feeds = maps.Clone(s.Version.Feeds)
	return &cp
}

// Get returns a copy of name's status, or nil.
func (t *StatusTracker) Get(name string) *UpdaterStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.statuses[name]; ok {
		return s.clone()
	}
	return nil
}

// GetAll returns copies of every status keyed by name.
func (t *StatusTracker) GetAll() map[string]*UpdaterStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*UpdaterStatus, len(t.statuses))
	for name, s := range t.statuses {
		out[name] = s.clone()
	}
	return out
}
