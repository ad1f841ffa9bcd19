// ABOUTME: ScanRequest describing one buffer submitted for classification
// ABOUTME: Carries host-supplied attributes alongside the borrowed content bytes

package types

// ScanRequest is a buffer plus the attributes a scanning host attaches to it.
type ScanRequest struct {
	// Content is borrowed for the duration of the scan only.
	Content []byte `json:"content"`

	ContentName string `json:"content_name,omitempty"`
	AppName     string `json:"app_name,omitempty"`
	SessionID   string `json:"session_id,omitempty"`

	// Channel names the surface that received the request (cli, http, nats, amsi).
	Channel string `json:"-"`
}
