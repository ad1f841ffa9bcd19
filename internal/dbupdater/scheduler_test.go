// ABOUTME: Tests for the update scheduler
// ABOUTME: Covers lifecycle, interval and trigger runs, retries and status snapshots

package dbupdater

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hikmaai-io/hikmaai-lens/internal/observability"
)

// fakeUpdater counts runs and fails the first failN of them with failErr,
// or with a plain error when failErr is nil.
type fakeUpdater struct {
	name    string
	failN   int32
	failErr error
	runs    atomic.Int32
	version VersionInfo
}

func (f *fakeUpdater) Name() string { return f.name }

func (f *fakeUpdater) Update(context.Context) (*UpdateResult, error) {
	n := f.runs.Add(1)
	if n <= f.failN {
		err := f.failErr
		if err == nil {
			err = errors.New("feed unreachable")
		}
		return &UpdateResult{Failed: 1, Error: err.Error()}, err
	}
	return &UpdateResult{Success: true, Installed: 1, Fingerprint: "abcdef0123456789"}, nil
}

func (f *fakeUpdater) CheckForUpdates(context.Context) (*CheckResult, error) {
	return &CheckResult{}, nil
}

func (f *fakeUpdater) GetVersionInfo() VersionInfo { return f.version }
func (f *fakeUpdater) IsReady() bool               { return true }

// eventually polls cond for up to two seconds.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fastRetry() BackoffConfig {
	return BackoffConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()

	s := NewScheduler(SchedulerConfig{})
	s.Register(&fakeUpdater{name: "signatures"}, time.Hour)

	if s.Running() {
		t.Error("Running() = true before Start")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if !s.Running() {
		t.Error("Running() = false after Start")
	}

	s.Stop()
	s.Stop()
	if s.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestScheduler_RunOnStart(t *testing.T) {
	t.Parallel()

	u := &fakeUpdater{name: "signatures"}
	s := NewScheduler(SchedulerConfig{RunOnStart: true})
	s.Register(u, time.Hour)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	eventually(t, "initial run", func() bool { return u.runs.Load() == 1 })

	status := s.UpdaterStatus("signatures")
	eventually(t, "idle status", func() bool {
		status = s.UpdaterStatus("signatures")
		return status.Status == StatusIdle && !status.NextScheduled.IsZero()
	})
	if status.LastUpdate.IsZero() {
		t.Error("LastUpdate not set after a successful run")
	}
}

func TestScheduler_Interval(t *testing.T) {
	t.Parallel()

	u := &fakeUpdater{name: "signatures"}
	s := NewScheduler(SchedulerConfig{})
	s.Register(u, 20*time.Millisecond)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	eventually(t, "two interval runs", func() bool { return u.runs.Load() >= 2 })
}

func TestScheduler_TriggerOnly(t *testing.T) {
	t.Parallel()

	u := &fakeUpdater{name: "signatures"}
	s := NewScheduler(SchedulerConfig{})
	s.Register(u, 0)

	if err := s.Trigger("missing"); err == nil {
		t.Error("Trigger(missing) should fail")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	time.Sleep(30 * time.Millisecond)
	if got := u.runs.Load(); got != 0 {
		t.Fatalf("runs before Trigger = %d, want 0", got)
	}

	if err := s.Trigger("signatures"); err != nil {
		t.Fatalf("Trigger() error: %v", err)
	}
	eventually(t, "triggered run", func() bool { return u.runs.Load() == 1 })

	time.Sleep(30 * time.Millisecond)
	if got := u.runs.Load(); got != 1 {
		t.Errorf("runs after one Trigger = %d, want 1", got)
	}
}

func TestScheduler_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	u := &fakeUpdater{name: "signatures", failN: 2}
	s := NewScheduler(SchedulerConfig{Retry: fastRetry(), RunOnStart: true})
	s.Register(u, time.Hour)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	eventually(t, "recovery", func() bool {
		st := s.UpdaterStatus("signatures")
		return st.Status == StatusIdle && u.runs.Load() == 3
	})
	if st := s.UpdaterStatus("signatures"); st.LastError != "" {
		t.Errorf("LastError = %q after recovery, want empty", st.LastError)
	}
}

func TestScheduler_RetriesExhausted(t *testing.T) {
	t.Parallel()

	u := &fakeUpdater{name: "signatures", failN: 100}
	s := NewScheduler(SchedulerConfig{Retry: fastRetry(), RunOnStart: true})
	s.Register(u, time.Hour)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	eventually(t, "failed status", func() bool {
		return s.UpdaterStatus("signatures").Status == StatusFailed
	})
	// One first attempt plus MaxRetries retries.
	if got := u.runs.Load(); got != 3 {
		t.Errorf("runs = %d, want 3", got)
	}
	if st := s.UpdaterStatus("signatures"); st.LastError != "feed unreachable" {
		t.Errorf("LastError = %q, want %q", st.LastError, "feed unreachable")
	}
}

func TestScheduler_PermanentFailureNotRetried(t *testing.T) {
	t.Parallel()

	bad := observability.Permanent(observability.CodeSignatureInvalid, "signatures.build", errors.New("duplicate name"))
	u := &fakeUpdater{name: "signatures", failN: 100, failErr: bad}
	s := NewScheduler(SchedulerConfig{Retry: fastRetry(), RunOnStart: true})
	s.Register(u, time.Hour)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	eventually(t, "failed status", func() bool {
		return s.UpdaterStatus("signatures").Status == StatusFailed
	})
	if got := u.runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestScheduler_Status(t *testing.T) {
	t.Parallel()

	s := NewScheduler(SchedulerConfig{})
	s.Register(&fakeUpdater{name: "signatures", version: VersionInfo{Fingerprint: "fp123", Count: 4}}, time.Hour)
	s.Register(&fakeUpdater{name: "rules"}, 0)

	all := s.Status()
	if len(all) != 2 {
		t.Fatalf("Status() = %d entries, want 2", len(all))
	}
	if all["signatures"].Status != StatusPending {
		t.Errorf("Status = %q before any run, want pending", all["signatures"].Status)
	}
	if got := s.UpdaterStatus("signatures").Version; got.Fingerprint != "fp123" || got.Count != 4 {
		t.Errorf("Version = %+v", got)
	}
	if s.UpdaterStatus("missing") != nil {
		t.Error("UpdaterStatus(missing) should be nil")
	}
}
