// ABOUTME: Message types for NATS scan request/reply
// ABOUTME: Content travels as base64 bytes or as text that is encoded UTF-16LE like ScanString

package queue

import (
	"time"

	"github.com/hikmaai-io/hikmaai-lens/internal/amsi"
	"github.com/hikmaai-io/hikmaai-lens/internal/classifier"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// ScanRequest is the message sent to request a content scan.
// Exactly one of Content or Text should be set; Content wins when both are.
type ScanRequest struct {
	// Optional request ID for correlation.
	RequestID string `json:"request_id,omitempty"`

	// Raw bytes, base64 in JSON.
	Content []byte `json:"content,omitempty"`

	// Text is encoded UTF-16LE before scanning.
	Text *string `json:"text,omitempty"`

	ContentName string `json:"content_name,omitempty"`
	AppName     string `json:"app_name,omitempty"`
}

// Payload returns the bytes to classify.
func (r ScanRequest) Payload() ([]byte, error) {
	switch {
	case r.Content != nil:
		return r.Content, nil
	case r.Text != nil:
		return amsi.EncodeUTF16LE(*r.Text)
	default:
		return nil, classifier.ErrInvalidArgument
	}
}

// ScanResponse is the reply to a ScanRequest.
type ScanResponse struct {
	RequestID string `json:"request_id,omitempty"`

	// "clean", "detected" or "error".
	Verdict   string         `json:"verdict"`
	Strength  types.Strength `json:"strength"`
	IsMalware bool           `json:"is_malware"`

	SignatureName string `json:"signature_name,omitempty"`
	ContentHash   string `json:"content_hash,omitempty"`
	BytesExamined int    `json:"bytes_examined"`
	Truncated     bool   `json:"truncated,omitempty"`
	CacheHit      bool   `json:"cache_hit,omitempty"`

	ScanTimeMs float64   `json:"scan_time_ms"`
	ScannedAt  time.Time `json:"scanned_at"`

	// Set when Verdict is "error".
	Error string `json:"error,omitempty"`
}

// BatchScanRequest carries several scans in one message.
type BatchScanRequest struct {
	RequestID string        `json:"request_id,omitempty"`
	Requests  []ScanRequest `json:"requests"`
}

// BatchScanResponse is the reply to a BatchScanRequest, one result per request in order.
type BatchScanResponse struct {
	RequestID   string         `json:"request_id,omitempty"`
	Results     []ScanResponse `json:"results"`
	TotalTimeMs float64        `json:"total_time_ms"`
}
