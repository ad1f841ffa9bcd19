// ABOUTME: Adapter routing BadgerDB internal logs into slog
// ABOUTME: Keeps storage warnings in the service's structured log stream

package engine

import (
	"fmt"
	"log/slog"
	"strings"
)

// BadgerLogger implements badger.Logger on top of slog.
type BadgerLogger struct {
	logger *slog.Logger
}

// NewBadgerLogger returns a badger logger writing to logger under component=badger.
func NewBadgerLogger(logger *slog.Logger) *BadgerLogger {
	return &BadgerLogger{logger: logger.With(slog.String("component", "badger"))}
}

func (l *BadgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(trimmed(format, args))
}

func (l *BadgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(trimmed(format, args))
}

func (l *BadgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(trimmed(format, args))
}

func (l *BadgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(trimmed(format, args))
}

func trimmed(format string, args []any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
