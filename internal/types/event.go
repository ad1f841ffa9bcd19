// ABOUTME: Detection event emitted to downstream consumers when a scan hits
// ABOUTME: Carries the threat name and content identity, never the matched pattern

package types

import "time"

// DetectionEvent describes one Detected scan.
type DetectionEvent struct {
	SignatureName string    `json:"signature_name"`
	Strength      Strength  `json:"strength"`
	ContentHash   string    `json:"content_hash"`
	ContentName   string    `json:"content_name,omitempty"`
	AppName       string    `json:"app_name,omitempty"`
	Channel       string    `json:"channel,omitempty"`
	Fingerprint   string    `json:"fingerprint"`
	DetectedAt    time.Time `json:"detected_at"`
}

// NewDetectionEvent builds the event for a Detected result.
func NewDetectionEvent(req ScanRequest, res ScanResult, fingerprint string) DetectionEvent {
	return DetectionEvent{
		SignatureName: res.SignatureName,
		Strength:      res.Strength,
		ContentHash:   res.ContentHash,
		ContentName:   req.ContentName,
		AppName:       req.AppName,
		Channel:       req.Channel,
		Fingerprint:   fingerprint,
		DetectedAt:    res.ScannedAt,
	}
}
