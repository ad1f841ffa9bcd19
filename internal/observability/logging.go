// ABOUTME: slog logger construction for the CLI and the daemon
// ABOUTME: JSON or text handlers with redaction, service attributes and request IDs from context

package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LoggingConfig is the [logging] section.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Anything else means info.
	Level string `toml:"level"`
	// Format is json or text.
	Format    string `toml:"format"`
	AddSource bool   `toml:"add_source"`

	ServiceName string `toml:"-"`
	Version     string `toml:"-"`
}

// NewLogger builds a logger writing to w, or stderr when w is nil. Every
// record passes through RedactAttr.
func NewLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:       ParseLogLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: RedactAttr,
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(h)
	if cfg.ServiceName != "" {
		logger = logger.With(slog.String("service", cfg.ServiceName))
	}
	if cfg.Version != "" {
		logger = logger.With(slog.String("version", cfg.Version))
	}
	return logger
}

// ParseLogLevel maps a config level name to a slog.Level.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// requestAttrs returns the trace, span and correlation IDs carried by ctx.
func requestAttrs(ctx context.Context) []any {
	var attrs []any
	if id := ExtractTraceID(ctx); id != "" {
		attrs = append(attrs, slog.String("trace_id", id))
	}
	if id := ExtractSpanID(ctx); id != "" {
		attrs = append(attrs, slog.String("span_id", id))
	}
	if id := FromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("correlation_id", id.String()))
	}
	return attrs
}

// LogWithContext logs msg at level with the request IDs found in ctx
// appended to args.
func LogWithContext(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, args ...any) {
	if !logger.Enabled(ctx, level) {
		return
	}
	logger.Log(ctx, level, msg, append(args, requestAttrs(ctx)...)...)
}
