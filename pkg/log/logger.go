// Package log provides structured logging for the pool payout verifier.
// It wraps the standard library's slog package with domain helpers.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey string

// RunIDKey is the context key carrying a verification run identifier
const RunIDKey ctxKey = "run_id"

// Logger wraps slog.Logger with service context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: parseLevel(level) == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger:  slog.New(handler).With("service", service, "version", version),
		service: service,
		version: version,
	}
}

// Discard returns a logger that drops everything, for tests and library defaults
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext returns a logger carrying the run id stored in ctx, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if runID := ctx.Value(RunIDKey); runID != nil {
		return l.WithFields("run_id", runID)
	}
	return l
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithPool returns a logger scoped to one pool endpoint and login
func (l *Logger) WithPool(host string, port int, user string) *Logger {
	return l.WithFields("pool_host", host, "pool_port", port, "pool_user", user)
}

// WithMiner returns a logger scoped to one miner's pool slot
func (l *Logger) WithMiner(name string, slot int) *Logger {
	return l.WithFields("miner", name, "pool_slot", slot)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogConnection logs connection events
func (l *Logger) LogConnection(event, remoteAddr string) {
	l.Info("connection event",
		"event", event,
		"remote_addr", remoteAddr,
	)
}

// LogStratumMessage logs raw stratum lines (debug level)
func (l *Logger) LogStratumMessage(direction, message string) {
	l.Debug("stratum message",
		"direction", direction,
		"message", message,
	)
}

// LogProbeState logs a prober state transition (debug level)
func (l *Logger) LogProbeState(from, to string) {
	l.Debug("probe state",
		"from", from,
		"to", to,
	)
}

// LogVerification logs the outcome of one verification run
func (l *Logger) LogVerification(host string, port, score int, label string, sharePct float64, latencyMs int64) {
	l.Info("pool verified",
		"pool_host", host,
		"pool_port", port,
		"risk_score", score,
		"risk_label", label,
		"your_share_pct", sharePct,
		"latency_ms", latencyMs,
	)
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, durationNs int64) {
	l.Info("operation completed",
		"operation", operation,
		"duration_ms", float64(durationNs)/1e6,
	)
}
