package internal

import "log/slog"

// Logger wraps a *slog.Logger with the short, lower-case method names used
// throughout the stack's packages, routed through LogAttrs so the
// debugheaplog build tag keeps working for non-allocating logging.
type Logger struct {
	log *slog.Logger
}

// NewLogger wraps l. A nil l is valid and silently discards all logging.
func NewLogger(l *slog.Logger) Logger { return Logger{log: l} }

func (l Logger) Error(msg string, attrs ...slog.Attr) { LogAttrs(l.log, slog.LevelError, msg, attrs...) }
func (l Logger) Warn(msg string, attrs ...slog.Attr)  { LogAttrs(l.log, slog.LevelWarn, msg, attrs...) }
func (l Logger) Info(msg string, attrs ...slog.Attr)  { LogAttrs(l.log, slog.LevelInfo, msg, attrs...) }
func (l Logger) Debug(msg string, attrs ...slog.Attr) { LogAttrs(l.log, slog.LevelDebug, msg, attrs...) }

// Enabled reports whether a message at lvl would be logged.
func (l Logger) Enabled(lvl slog.Level) bool { return LogEnabled(l.log, lvl) }
