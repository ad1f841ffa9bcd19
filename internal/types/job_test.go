// ABOUTME: Tests for the async scan job lifecycle
// ABOUTME: Walks the transition table and checks timestamps and submission metadata

package types

import (
	"errors"
	"testing"
	"time"
)

func TestJobStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   JobStatus
		str      string
		terminal bool
	}{
		{JobStatusPending, "pending", false},
		{JobStatusRunning, "running", false},
		{JobStatusCompleted, "completed", true},
		{JobStatusFailed, "failed", true},
		{JobStatus("queued"), "unknown", false},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.str {
			t.Errorf("JobStatus(%q).String() = %q, want %q", string(tt.status), got, tt.str)
		}
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("JobStatus(%q).IsTerminal() = %v, want %v", string(tt.status), got, tt.terminal)
		}
	}
}

func TestNewJob(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC()
	job := NewJob("abc123hash", ScanRequest{Content: make([]byte, 2048), ContentName: "payload.ps1", AppName: "PowerShell"})

	if len(job.ID) != 36 {
		t.Errorf("ID = %q, want a UUID", job.ID)
	}
	if job.Status != JobStatusPending {
		t.Errorf("Status = %v, want pending", job.Status)
	}
	if job.ContentHash != "abc123hash" || job.ContentName != "payload.ps1" || job.AppName != "PowerShell" {
		t.Errorf("metadata = %+v", job)
	}
	if job.ContentSize != 2048 {
		t.Errorf("ContentSize = %d, want 2048", job.ContentSize)
	}
	if job.CreatedAt.Location() != time.UTC || job.CreatedAt.Before(before) {
		t.Errorf("CreatedAt = %v, want UTC and not before %v", job.CreatedAt, before)
	}
	if job.StartedAt != nil || job.CompletedAt != nil || job.Result != nil {
		t.Error("new job should have no timestamps or result")
	}
}

func TestJob_Transitions(t *testing.T) {
	t.Parallel()

	clean := NewCleanResult(EncodingUTF8, 13)
	actions := map[string]func(*Job) error{
		"start":    (*Job).Start,
		"complete": func(j *Job) error { return j.Complete(&clean) },
		"fail":     func(j *Job) error { return j.Fail("scan timeout") },
	}

	tests := []struct {
		from   JobStatus
		action string
		want   JobStatus
		ok     bool
	}{
		{JobStatusPending, "start", JobStatusRunning, true},
		{JobStatusPending, "fail", JobStatusFailed, true},
		{JobStatusPending, "complete", JobStatusPending, false},
		{JobStatusRunning, "complete", JobStatusCompleted, true},
		{JobStatusRunning, "fail", JobStatusFailed, true},
		{JobStatusRunning, "start", JobStatusRunning, false},
		{JobStatusCompleted, "start", JobStatusCompleted, false},
		{JobStatusCompleted, "fail", JobStatusCompleted, false},
		{JobStatusFailed, "complete", JobStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+tt.action, func(t *testing.T) {
			t.Parallel()

			job := NewJob("hash", ScanRequest{Content: []byte("Write-Host hi")})
			job.Status = tt.from

			err := actions[tt.action](job)
			if tt.ok && err != nil {
				t.Fatalf("%s error: %v", tt.action, err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s error = %v, want ErrInvalidTransition", tt.action, err)
			}
			if job.Status != tt.want {
				t.Errorf("Status = %v, want %v", job.Status, tt.want)
			}
		})
	}
}

func TestJob_Fields(t *testing.T) {
	t.Parallel()

	job := NewJob("hash", ScanRequest{Content: []byte("iex")})
	if err := job.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if job.StartedAt == nil {
		t.Fatal("StartedAt not set")
	}

	res := NewCleanResult(EncodingUTF8, 3)
	if err := job.Complete(&res); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if job.Result != &res || job.CompletedAt == nil {
		t.Errorf("Complete() did not record result and time: %+v", job)
	}

	failed := NewJob("hash", ScanRequest{})
	if err := failed.Fail("queue full"); err != nil {
		t.Fatalf("Fail() error: %v", err)
	}
	if failed.Error != "queue full" || failed.CompletedAt == nil {
		t.Errorf("Fail() = %+v", failed)
	}
}

func TestJob_Duration(t *testing.T) {
	t.Parallel()

	job := NewJob("hash", ScanRequest{Content: []byte("Write-Host hi")})
	if d := job.Duration(); d != 0 {
		t.Errorf("Duration() = %v before Start, want 0", d)
	}

	_ = job.Start()
	time.Sleep(10 * time.Millisecond)
	if job.Duration() <= 0 {
		t.Error("Duration() should grow while running")
	}

	res := NewCleanResult(EncodingUTF8, 13)
	_ = job.Complete(&res)
	final := job.Duration()
	time.Sleep(10 * time.Millisecond)
	if job.Duration() != final {
		t.Error("Duration() should be fixed once the job ends")
	}
}
