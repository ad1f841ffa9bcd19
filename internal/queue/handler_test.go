// ABOUTME: Tests for the queue scan handler and message payload rules
// ABOUTME: Runs requests through a real engine with the builtin signature set

package queue_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hikmaai-io/hikmaai-lens/internal/engine"
	"github.com/hikmaai-io/hikmaai-lens/internal/queue"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

func ptr(s string) *string { return &s }

func newHandler() *queue.Handler {
	return queue.NewHandler(engine.NewEngine(engine.EngineConfig{}))
}

func TestScanRequest_Payload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     queue.ScanRequest
		want    []byte
		wantErr bool
	}{
		{name: "content", req: queue.ScanRequest{Content: []byte("abc")}, want: []byte("abc")},
		{name: "text is utf-16le", req: queue.ScanRequest{Text: ptr("hi")}, want: []byte{'h', 0, 'i', 0}},
		{name: "content wins", req: queue.ScanRequest{Content: []byte("x"), Text: ptr("y")}, want: []byte("x")},
		{name: "empty text", req: queue.ScanRequest{Text: ptr("")}, want: []byte{}},
		{name: "neither", req: queue.ScanRequest{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := tt.req.Payload()
			if tt.wantErr {
				if err == nil {
					t.Error("Payload() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Payload() error: %v", err)
			}
			if string(got) != string(tt.want) {
				t.Errorf("Payload() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScanRequest_ContentIsBase64(t *testing.T) {
	t.Parallel()

	var req queue.ScanRequest
	if err := json.Unmarshal([]byte(`{"request_id":"r1","content":"SW52b2tlLUV4cHJlc3Npb24="}`), &req); err != nil {
		t.Fatalf("json.Unmarshal() error: %v", err)
	}
	if string(req.Content) != "Invoke-Expression" {
		t.Errorf("Content = %q, want %q", req.Content, "Invoke-Expression")
	}
}

func TestHandler_ProcessRequest(t *testing.T) {
	t.Parallel()

	h := newHandler()
	ctx := context.Background()

	tests := []struct {
		name          string
		req           queue.ScanRequest
		wantVerdict   string
		wantMalware   bool
		wantSignature string
	}{
		{
			name:          "detected bytes",
			req:           queue.ScanRequest{RequestID: "r1", Content: []byte("Invoke-Expression")},
			wantVerdict:   "detected",
			wantMalware:   true,
			wantSignature: "PowerShell.IEX",
		},
		{
			name:          "detected text",
			req:           queue.ScanRequest{RequestID: "r2", Text: ptr("Invoke-Expression")},
			wantVerdict:   "detected",
			wantMalware:   true,
			wantSignature: "PowerShell.IEX",
		},
		{
			name:        "clean",
			req:         queue.ScanRequest{RequestID: "r3", Content: []byte("hello world")},
			wantVerdict: "clean",
		},
		{
			name:        "no content",
			req:         queue.ScanRequest{RequestID: "r4"},
			wantVerdict: queue.VerdictError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp := h.ProcessRequest(ctx, tt.req)
			if resp.RequestID != tt.req.RequestID {
				t.Errorf("RequestID = %q, want %q", resp.RequestID, tt.req.RequestID)
			}
			if resp.Verdict != tt.wantVerdict {
				t.Errorf("Verdict = %q, want %q (error %q)", resp.Verdict, tt.wantVerdict, resp.Error)
			}
			if resp.IsMalware != tt.wantMalware {
				t.Errorf("IsMalware = %v, want %v", resp.IsMalware, tt.wantMalware)
			}
			if resp.SignatureName != tt.wantSignature {
				t.Errorf("SignatureName = %q, want %q", resp.SignatureName, tt.wantSignature)
			}
		})
	}
}

func TestHandler_ProcessBatch(t *testing.T) {
	t.Parallel()

	h := newHandler()
	reqs := []queue.ScanRequest{
		{RequestID: "a", Content: []byte("hello world")},
		{RequestID: "b", Content: []byte("Invoke-Expression")},
	}

	resps := h.ProcessBatch(context.Background(), reqs)
	if len(resps) != 2 {
		t.Fatalf("ProcessBatch() = %d responses, want 2", len(resps))
	}
	if resps[0].RequestID != "a" || resps[0].IsMalware {
		t.Errorf("first response = %+v, want clean a", resps[0])
	}
	if resps[1].RequestID != "b" || !resps[1].IsMalware {
		t.Errorf("second response = %+v, want detected b", resps[1])
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resps = h.ProcessBatch(ctx, reqs)
	if len(resps) != 2 {
		t.Fatalf("ProcessBatch() on canceled context = %d responses, want 2", len(resps))
	}
	for _, r := range resps {
		if r.Verdict != queue.VerdictError {
			t.Errorf("Verdict = %q on canceled context, want error", r.Verdict)
		}
	}
}

func TestResultToResponse(t *testing.T) {
	t.Parallel()

	sig := types.Signature{Pattern: "IEX", Name: "PowerShell.IEX.Short", Strength: types.StrengthDetected}
	res := types.NewDetectedResult(sig, types.EncodingUTF8, 3).WithContentHash("abc").WithTruncated(true)

	resp := queue.ResultToResponse(res, "req-1")
	if resp.Strength != types.StrengthDetected || !resp.IsMalware {
		t.Errorf("Strength = %d, IsMalware = %v", resp.Strength, resp.IsMalware)
	}
	if resp.ContentHash != "abc" || !resp.Truncated || resp.BytesExamined != 3 {
		t.Errorf("ResultToResponse() = %+v", resp)
	}
}
