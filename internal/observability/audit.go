// ABOUTME: Audit logging for signature set lifecycle and detection events
// ABOUTME: Records loads, swaps, rejections, scan submissions and detections

package observability

import (
	"context"
	"log/slog"
	"time"
)

// Audit event type constants.
const (
	EventTypeScan      = "SCAN"
	EventTypeDetection = "DETECTION"
	EventTypeSignature = "SIGNATURE_SET"
)

// Audit action constants.
const (
	ActionCreate = "CREATE"
	ActionLoad   = "LOAD"
	ActionSwap   = "SWAP"
	ActionReject = "REJECT"
)

// Audit result constants.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// AuditLogger provides structured audit logging.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

func (a *AuditLogger) log(ctx context.Context, level slog.Level, eventType, action, result string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event_type", eventType),
		slog.String("action", action),
		slog.String("result", result),
		slog.String("correlation_id", FromContext(ctx).String()),
		slog.Time("timestamp", time.Now().UTC()),
	}
	a.logger.LogAttrs(ctx, level, "audit_event", append(base, attrs...)...)
}

// LogSignatureSetLoaded records a signature set read from a source.
func (a *AuditLogger) LogSignatureSetLoaded(ctx context.Context, source, fingerprint string, count int) {
	a.log(ctx, slog.LevelInfo, EventTypeSignature, ActionLoad, ResultSuccess,
		slog.String("source", source),
		slog.String("fingerprint", fingerprint),
		slog.Int("signature_count", count),
	)
}

// LogSignatureSetSwapped records the active set being replaced.
func (a *AuditLogger) LogSignatureSetSwapped(ctx context.Context, previous, current string, count int) {
	a.log(ctx, slog.LevelInfo, EventTypeSignature, ActionSwap, ResultSuccess,
		slog.String("previous_fingerprint", previous),
		slog.String("fingerprint", current),
		slog.Int("signature_count", count),
	)
}

// LogSignatureSetRejected records a candidate set that failed validation.
// The previously active set stays in place.
func (a *AuditLogger) LogSignatureSetRejected(ctx context.Context, source, reason string) {
	a.log(ctx, slog.LevelWarn, EventTypeSignature, ActionReject, ResultFailure,
		slog.String("source", source),
		slog.String("reason", reason),
	)
}

// LogScanRequest records an accepted asynchronous scan submission.
func (a *AuditLogger) LogScanRequest(ctx context.Context, jobID, contentHash string, size int64) {
	a.log(ctx, slog.LevelInfo, EventTypeScan, ActionCreate, ResultSuccess,
		slog.String("resource", jobID),
		slog.String("content_hash", contentHash),
		slog.Int64("content_size", size),
	)
}

// LogDetection records a positive verdict. The pattern is never included.
func (a *AuditLogger) LogDetection(ctx context.Context, signatureName, contentHash, appName, contentName string) {
	a.log(ctx, slog.LevelWarn, EventTypeDetection, ActionCreate, ResultSuccess,
		slog.String("signature", signatureName),
		slog.String("content_hash", contentHash),
		slog.String("app_name", appName),
		slog.String("content_name", contentName),
	)
}
