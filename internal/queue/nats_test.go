// ABOUTME: Tests for the NATS responder routes without a server
// ABOUTME: Feeds raw message bodies to the route functions and checks the replies

package queue

import (
	"context"
	"testing"

	"github.com/hikmaai-io/hikmaai-lens/internal/engine"
)

func newTestClient() *Client {
	return NewClient(DefaultNATSConfig(), NewHandler(engine.NewEngine(engine.EngineConfig{})), nil)
}

func TestClient_Routes(t *testing.T) {
	t.Parallel()

	routes := newTestClient().routes()
	if len(routes) != 2 {
		t.Fatalf("routes() = %d, want 2", len(routes))
	}
	if routes[0].subject != "hikmaai.lens.scan" || routes[1].subject != "hikmaai.lens.scan.batch" {
		t.Errorf("subjects = %q, %q", routes[0].subject, routes[1].subject)
	}
}

func TestClient_ServeScan(t *testing.T) {
	t.Parallel()

	c := newTestClient()
	ctx := context.Background()

	tests := []struct {
		name    string
		body    string
		verdict string
	}{
		{"detected text", `{"request_id":"r1","text":"Invoke-Expression $x"}`, "detected"},
		{"clean text", `{"text":"Write-Host hello"}`, "clean"},
		{"no content", `{"request_id":"r2"}`, "error"},
		{"malformed", `{"text":`, "error"},
	}

	for _, tt := range tests {
		reply, attrs := c.serveScan(ctx, []byte(tt.body))
		resp, ok := reply.(ScanResponse)
		if !ok {
			t.Fatalf("%s: reply type %T", tt.name, reply)
		}
		if resp.Verdict != tt.verdict {
			t.Errorf("%s: Verdict = %q, want %q (error %q)", tt.name, resp.Verdict, tt.verdict, resp.Error)
		}
		if len(attrs) == 0 {
			t.Errorf("%s: no log attributes", tt.name)
		}
	}
}

func TestClient_ServeBatch(t *testing.T) {
	t.Parallel()

	c := newTestClient()
	body := `{"request_id":"b1","requests":[{"text":"Invoke-Expression"},{"text":"hello"},{}]}`

	reply, _ := c.serveBatch(context.Background(), []byte(body))
	resp, ok := reply.(BatchScanResponse)
	if !ok {
		t.Fatalf("reply type %T", reply)
	}
	if resp.RequestID != "b1" || len(resp.Results) != 3 {
		t.Fatalf("reply = %+v", resp)
	}
	want := []string{"detected", "clean", "error"}
	for i, r := range resp.Results {
		if r.Verdict != want[i] {
			t.Errorf("Results[%d].Verdict = %q, want %q", i, r.Verdict, want[i])
		}
	}

	bad, _ := c.serveBatch(context.Background(), []byte("not json"))
	if b := bad.(BatchScanResponse); len(b.Results) != 1 || b.Results[0].Verdict != "error" {
		t.Errorf("malformed batch reply = %+v", b)
	}
}

func TestClient_SubscribeRequiresConnection(t *testing.T) {
	t.Parallel()

	if err := newTestClient().Subscribe(context.Background()); err == nil {
		t.Error("Subscribe() before Connect() should fail")
	}
	if err := newTestClient().Close(); err != nil {
		t.Errorf("Close() before Connect() error: %v", err)
	}
}
