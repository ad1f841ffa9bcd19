// ABOUTME: Tests for JobStore that persists async scan jobs in BadgerDB
// ABOUTME: Covers CRUD, the content index, listing filters and retention TTLs

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

func newTestJob(hash string) *types.Job {
	return types.NewJob(hash, types.ScanRequest{
		Content:     []byte("payload"),
		ContentName: "script.ps1",
		AppName:     "PowerShell",
	})
}

func TestJobStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	store := setupTestJobStore(t, 0)
	ctx := context.Background()
	job := newTestJob("abc123")

	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil")
	}
	if got.ContentHash != "abc123" {
		t.Errorf("ContentHash = %q, want %q", got.ContentHash, "abc123")
	}
	if got.AppName != "PowerShell" {
		t.Errorf("AppName = %q, want %q", got.AppName, "PowerShell")
	}
	if got.ContentSize != int64(len("payload")) {
		t.Errorf("ContentSize = %d, want %d", got.ContentSize, len("payload"))
	}
	if got.Status != types.JobStatusPending {
		t.Errorf("Status = %v, want %v", got.Status, types.JobStatusPending)
	}
}

func TestJobStore_Get_NotFound(t *testing.T) {
	t.Parallel()

	store := setupTestJobStore(t, 0)

	job, err := store.Get(context.Background(), "nonexistent-id")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if job != nil {
		t.Error("Get() should return nil for nonexistent job")
	}
}

func TestJobStore_Create_Nil(t *testing.T) {
	t.Parallel()

	store := setupTestJobStore(t, 0)
	if err := store.Create(context.Background(), nil); err == nil {
		t.Error("Create(nil) should fail")
	}
	if err := store.Update(context.Background(), nil); err == nil {
		t.Error("Update(nil) should fail")
	}
}

func TestJobStore_Update(t *testing.T) {
	t.Parallel()

	store := setupTestJobStore(t, time.Hour)
	ctx := context.Background()
	job := newTestJob("abc123")
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	_ = job.Start()
	res := types.NewDetectedResult(testSig("Invoke-Expression", "x", "test"), types.EncodingUTF8, 7)
	_ = job.Complete(&res)
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != types.JobStatusCompleted {
		t.Errorf("Status = %v, want %v", got.Status, types.JobStatusCompleted)
	}
	if got.Result == nil || !got.Result.IsMalware() {
		t.Errorf("Result = %+v, want a malware verdict", got.Result)
	}
}

func TestJobStore_IndexFollowsLatest(t *testing.T) {
	t.Parallel()

	store := setupTestJobStore(t, 0)
	ctx := context.Background()
	older := newTestJob("same")
	newer := newTestJob("same")
	for _, j := range []*types.Job{older, newer} {
		if err := store.Create(ctx, j); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	// Finishing the older job must not move the index back to it.
	_ = older.Fail("timeout")
	if err := store.Update(ctx, older); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	got, err := store.GetByContentHash(ctx, "same")
	if err != nil {
		t.Fatalf("GetByContentHash() error: %v", err)
	}
	if got == nil || got.ID != newer.ID {
		t.Errorf("GetByContentHash() = %v, want job %s", got, newer.ID)
	}
}

func TestJobStore_RetentionTTL(t *testing.T) {
	t.Parallel()

	store := setupTestJobStore(t, time.Hour)
	ctx := context.Background()
	job := newTestJob("ttl")
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	expiry := func(key []byte) uint64 {
		t.Helper()
		var at uint64
		err := store.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if err != nil {
				return err
			}
			at = item.ExpiresAt()
			return nil
		})
		if err != nil {
			t.Fatalf("reading %s: %v", key, err)
		}
		return at
	}

	if expiry(jobKey(job.ID)) != 0 {
		t.Error("pending job should not expire")
	}

	_ = job.Start()
	_ = job.Fail("boom")
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if expiry(jobKey(job.ID)) == 0 {
		t.Error("terminal job should carry a TTL")
	}
	if expiry(contentIndexKey("ttl")) == 0 {
		t.Error("index of a terminal job should carry a TTL")
	}
}

func TestJobStore_List(t *testing.T) {
	t.Parallel()

	store := setupTestJobStore(t, 0)
	ctx := context.Background()

	pending := newTestJob("h1")
	running := newTestJob("h2")
	_ = running.Start()
	failed := newTestJob("h3")
	_ = failed.Fail("boom")

	for _, j := range []*types.Job{pending, running, failed} {
		if err := store.Create(ctx, j); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter JobFilter
		want   int
	}{
		{"all", JobFilter{}, 3},
		{"pending", JobFilter{Statuses: []types.JobStatus{types.JobStatusPending}}, 1},
		{"active", JobFilter{Statuses: []types.JobStatus{types.JobStatusPending, types.JobStatusRunning}}, 2},
		{"completed", JobFilter{Statuses: []types.JobStatus{types.JobStatusCompleted}}, 0},
		{"limited", JobFilter{Limit: 2}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := store.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error: %v", err)
			}
			if len(jobs) != tt.want {
				t.Errorf("List() returned %d jobs, want %d", len(jobs), tt.want)
			}
			for i := 1; i < len(jobs); i++ {
				if jobs[i].CreatedAt.After(jobs[i-1].CreatedAt) {
					t.Error("List() is not newest first")
				}
			}
		})
	}
}

func TestJobStore_GetByContentHash_NotFound(t *testing.T) {
	t.Parallel()

	store := setupTestJobStore(t, 0)

	job, err := store.GetByContentHash(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetByContentHash() error: %v", err)
	}
	if job != nil {
		t.Error("GetByContentHash() should return nil")
	}
}

func TestJobStore_Count(t *testing.T) {
	t.Parallel()

	store := setupTestJobStore(t, 0)
	ctx := context.Background()
	for _, h := range []string{"a", "b", "c"} {
		_ = store.Create(ctx, newTestJob(h))
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 3 {
		t.Errorf("Count() = %d, want 3", count)
	}
}

func setupTestJobStore(t *testing.T, retention time.Duration) *JobStore {
	t.Helper()

	store, err := NewJobStore(StoreConfig{InMemory: true}, retention)
	if err != nil {
		t.Fatalf("NewJobStore() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
