// Package kernlog implements the kernel log sink: a log/slog logger with a
// TRACE level below slog's built-in Debug, a text or JSON handler chosen by
// configuration, and an optional lumberjack-rotated file output — grounded
// on the teacher's internal/logger package (same severity ladder, same
// text/JSON handler split) with the HTTP-trace-specific fields dropped.
package kernlog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/maestro-os/maestro/cfg"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// levelTrace sits one step below slog.LevelDebug, matching the teacher's
// five-level TRACE/DEBUG/INFO/WARNING/ERROR ladder rather than slog's
// four-level default.
const levelTrace = slog.LevelDebug - 4

var severityToLevel = map[cfg.LogSeverity]slog.Level{
	cfg.TraceLogSeverity:   levelTrace,
	cfg.DebugLogSeverity:   slog.LevelDebug,
	cfg.InfoLogSeverity:    slog.LevelInfo,
	cfg.WarningLogSeverity: slog.LevelWarn,
	cfg.ErrorLogSeverity:   slog.LevelError,
	cfg.OffLogSeverity:     slog.Level(1 << 20),
}

// Logger wraps *slog.Logger with the kernel's five-level severity naming
// and a leveler that can be adjusted after construction (used when a boot
// manifest reloads logging config mid-boot).
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New builds a Logger per config. When config.LogRotate.MaxFileSizeMb is
// positive, output
// is written through a lumberjack.Logger so the kernel log file rotates
// without the kernel ever needing to reopen it itself.
func New(config cfg.LoggingConfig) *Logger {
	levelVar := new(slog.LevelVar)
	levelVar.Set(severityFor(config.Severity))

	var w io.Writer = os.Stderr
	if config.LogRotate.MaxFileSizeMb > 0 {
		w = &lumberjack.Logger{
			Filename:   "/var/log/maestro.log",
			MaxSize:    config.LogRotate.MaxFileSizeMb,
			MaxBackups: config.LogRotate.BackupFileCount,
			Compress:   config.LogRotate.Compress,
		}
	}

	handler := newHandler(config.Format, w, levelVar)
	return &Logger{Logger: slog.New(handler), level: levelVar}
}

func severityFor(s cfg.LogSeverity) slog.Level {
	if lvl, ok := severityToLevel[s]; ok {
		return lvl
	}
	return slog.LevelInfo
}

func newHandler(format string, w io.Writer, level *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				a.Value = slog.StringValue(severityName(a.Value.Any().(slog.Level)))
				a.Key = "severity"
			}
			return a
		},
	}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func severityName(l slog.Level) string {
	switch {
	case l < slog.LevelDebug:
		return "TRACE"
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// SetSeverity adjusts the logger's active threshold without rebuilding the
// handler, for a runtime "sysctl"-style log-level change.
func (l *Logger) SetSeverity(s cfg.LogSeverity) { l.level.Set(severityFor(s)) }

// Trace logs at the kernel's lowest severity, below slog's Debug.
func (l *Logger) Trace(ctx context.Context, msg string, args ...any) {
	l.Logger.Log(ctx, levelTrace, msg, args...)
}

// WithSubsystem returns a Logger whose every record carries a "subsystem"
// attribute, the way each kernel module tags its own log lines.
func (l *Logger) WithSubsystem(name string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("subsystem", name)), level: l.level}
}

// TimeSince is a small helper for logging elapsed-time attributes without
// every call site repeating time.Since(start).
func TimeSince(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}
