// ABOUTME: Tests for per-job Redis state hashes
// ABOUTME: Checks field merges, TTL refresh and missing jobs on miniredis

package redis

import (
	"context"
	"testing"
	"time"
)

func TestJobStateStore_SetGet(t *testing.T) {
	t.Parallel()

	client, mr := setupTestClient(t, "lens:")
	store := NewJobStateStore(client, time.Hour)
	ctx := context.Background()

	if got := store.Key("j1"); got != "lens:job_state:j1" {
		t.Errorf("Key() = %q, want %q", got, "lens:job_state:j1")
	}

	if err := store.Set(ctx, "j1", map[string]string{"status": "running"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "j1", map[string]string{"status": "completed", "verdict": "detected"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	fields, err := store.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if fields["status"] != "completed" || fields["verdict"] != "detected" {
		t.Errorf("Get() = %v, want merged completed/detected fields", fields)
	}
	if ttl := mr.TTL("lens:job_state:j1"); ttl != time.Hour {
		t.Errorf("TTL = %v, want %v", ttl, time.Hour)
	}

	if err := store.Set(ctx, "j1", nil); err != nil {
		t.Errorf("Set() with no fields error = %v", err)
	}
}

func TestJobStateStore_Missing(t *testing.T) {
	t.Parallel()

	client, _ := setupTestClient(t, "")
	store := NewJobStateStore(client, 0)
	ctx := context.Background()

	fields, err := store.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(fields) != 0 {
		t.Errorf("Get(missing) = %v, want empty", fields)
	}
}
