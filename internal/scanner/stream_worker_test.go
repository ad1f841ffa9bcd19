// ABOUTME: Tests for the Redis Streams scan worker
// ABOUTME: Uses miniredis with the real engine and an in-memory object opener

package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/hikmaai-io/hikmaai-lens/internal/engine"
	"github.com/hikmaai-io/hikmaai-lens/internal/redis"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

type memObjects map[string]string

func (m memObjects) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	data, ok := m[ref]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func setupStreamWorker(t *testing.T, objects ObjectOpener) (*StreamWorker, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := redis.NewClient(context.Background(), redis.Config{Addr: mr.Addr(), Prefix: "lens:"})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	w, err := NewStreamWorker(StreamWorkerConfig{
		TaskStream:     "scan_tasks",
		ConsumerGroup:  "lens",
		ConsumerName:   "test",
		Workers:        1,
		MaxContentSize: 64,
		Block:          20 * time.Millisecond,
	}, client, engine.NewEngine(engine.EngineConfig{}), objects, nil)
	if err != nil {
		t.Fatalf("NewStreamWorker() error: %v", err)
	}
	return w, client
}

func completions(t *testing.T, client *redis.Client) []StreamCompletion {
	t.Helper()

	entries, err := client.Raw().XRange(context.Background(), client.Key("scan_tasks_completions"), "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange() error: %v", err)
	}
	out := make([]StreamCompletion, 0, len(entries))
	for _, e := range entries {
		var c StreamCompletion
		if err := json.Unmarshal([]byte(e.Values["data"].(string)), &c); err != nil {
			t.Fatalf("unmarshaling completion: %v", err)
		}
		out = append(out, c)
	}
	return out
}

func TestStreamWorkerConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := StreamWorkerConfig{TaskStream: "tasks", ConsumerGroup: "g", ConsumerName: "c"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.CompletionStream != "tasks_completions" {
		t.Errorf("CompletionStream = %q, want tasks_completions", cfg.CompletionStream)
	}
	if cfg.Workers != 2 || cfg.MaxContentSize != 16<<20 || cfg.Block != 5*time.Second {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	for _, bad := range []StreamWorkerConfig{
		{ConsumerGroup: "g", ConsumerName: "c"},
		{TaskStream: "t", ConsumerName: "c"},
		{TaskStream: "t", ConsumerGroup: "g"},
	} {
		if err := bad.Validate(); err == nil {
			t.Errorf("Validate(%+v) expected error", bad)
		}
	}
}

func TestParseStreamTask(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{name: "content", data: `{"job_id":"j1","content":"YWJj"}`},
		{name: "text", data: `{"job_id":"j1","text":"hello"}`},
		{name: "empty text", data: `{"job_id":"j1","text":""}`},
		{name: "object", data: `{"job_id":"j1","object_uri":"gs://b/o"}`},
		{name: "empty", data: "", wantErr: true},
		{name: "bad json", data: "{", wantErr: true},
		{name: "no job id", data: `{"text":"x"}`, wantErr: true},
		{name: "no source", data: `{"job_id":"j1"}`, wantErr: true},
		{name: "two sources", data: `{"job_id":"j1","text":"x","object_uri":"gs://b/o"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseStreamTask(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseStreamTask() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStreamWorker_Process(t *testing.T) {
	t.Parallel()

	text := "Invoke-Expression"
	tests := []struct {
		name          string
		task          StreamTask
		wantStatus    types.JobStatus
		wantSignature string
	}{
		{
			name:          "inline content",
			task:          StreamTask{JobID: "j1", Content: []byte("iex (payload)")},
			wantStatus:    types.JobStatusCompleted,
			wantSignature: "PowerShell.IEX.Short",
		},
		{
			name:          "text",
			task:          StreamTask{JobID: "j2", Text: &text},
			wantStatus:    types.JobStatusCompleted,
			wantSignature: "PowerShell.IEX",
		},
		{
			name:       "clean object",
			task:       StreamTask{JobID: "j3", ObjectURI: "gs://bucket/clean.txt"},
			wantStatus: types.JobStatusCompleted,
		},
		{
			name:       "missing object",
			task:       StreamTask{JobID: "j4", ObjectURI: "gs://bucket/missing"},
			wantStatus: types.JobStatusFailed,
		},
		{
			name:       "oversized object",
			task:       StreamTask{JobID: "j5", ObjectURI: "gs://bucket/big"},
			wantStatus: types.JobStatusFailed,
		},
	}

	objects := memObjects{
		"gs://bucket/clean.txt": "hello world",
		"gs://bucket/big":       strings.Repeat("a", 65),
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w, client := setupStreamWorker(t, objects)
			ctx := context.Background()
			w.Process(ctx, &tt.task)

			state, err := w.State().Get(ctx, tt.task.JobID)
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if state["status"] != string(tt.wantStatus) {
				t.Fatalf("status = %q, want %q (error %q)", state["status"], tt.wantStatus, state["error"])
			}
			if state["signature_name"] != tt.wantSignature {
				t.Errorf("signature_name = %q, want %q", state["signature_name"], tt.wantSignature)
			}
			if tt.wantStatus == types.JobStatusFailed && state["error"] == "" {
				t.Error("failed job has no error field")
			}

			got := completions(t, client)
			if len(got) != 1 || got[0].JobID != tt.task.JobID || got[0].Status != tt.wantStatus {
				t.Fatalf("completions = %+v, want one %s entry", got, tt.wantStatus)
			}
			if tt.wantStatus == types.JobStatusCompleted && got[0].Result == nil {
				t.Error("completed entry carries no result")
			}
		})
	}
}

func TestStreamWorker_NoObjectStorage(t *testing.T) {
	t.Parallel()

	w, _ := setupStreamWorker(t, nil)
	ctx := context.Background()
	w.Process(ctx, &StreamTask{JobID: "j1", ObjectURI: "gs://bucket/o"})

	state, err := w.State().Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if state["status"] != string(types.JobStatusFailed) {
		t.Errorf("status = %q, want failed", state["status"])
	}
}

func TestStreamWorker_ConsumesStream(t *testing.T) {
	t.Parallel()

	w, client := setupStreamWorker(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer w.Stop()

	if _, err := client.XAdd(ctx, "scan_tasks", 0, map[string]any{"data": "not json"}); err != nil {
		t.Fatalf("XAdd() error: %v", err)
	}
	if _, err := client.XAdd(ctx, "scan_tasks", 0, map[string]any{
		"data": `{"job_id":"stream-1","text":"Invoke-Expression"}`,
	}); err != nil {
		t.Fatalf("XAdd() error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		state, err := w.State().Get(ctx, "stream-1")
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if state["status"] == string(types.JobStatusCompleted) {
			if state["verdict"] != "detected" || state["strength"] != "32768" {
				t.Errorf("state = %v, want a detection", state)
			}
			if got := completions(t, client); len(got) != 1 {
				t.Errorf("completions = %d, want 1 (invalid task is dropped)", len(got))
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("task was not processed")
}
