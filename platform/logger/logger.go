// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// LeadIDKey is the context key for the lead being processed
	LeadIDKey contextKey = "lead_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports request_id and lead_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{
			Logger: newLogger.With(slog.String("request_id", requestID)),
		}
	}

	if leadID, ok := ctx.Value(LeadIDKey).(string); ok && leadID != "" {
		newLogger = &Logger{
			Logger: newLogger.With(slog.String("lead_id", leadID)),
		}
	}

	return newLogger
}

// WithLeadID returns a logger with the lead ID attached.
func (l *Logger) WithLeadID(leadID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("lead_id", leadID)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// DispatchRun logs the summary of one dispatch cycle.
func (l *Logger) DispatchRun(selected, claimed, generated, sent, failed, skipped int, durationMs float64) {
	l.Info("dispatch_run",
		slog.Int("selected", selected),
		slog.Int("claimed", claimed),
		slog.Int("generated", generated),
		slog.Int("sent", sent),
		slog.Int("failed", failed),
		slog.Int("skipped", skipped),
		slog.Float64("duration_ms", durationMs),
	)
}

// SendFailure logs a delivery failure for a lead.
func (l *Logger) SendFailure(leadID string, attempts int, err error) {
	l.Error("send_failure",
		slog.String("lead_id", leadID),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// Anomaly logs a recovered data anomaly (never fatal, always worth noticing).
func (l *Logger) Anomaly(kind, leadID, detail string) {
	l.Warn("anomaly",
		slog.String("kind", kind),
		slog.String("lead_id", leadID),
		slog.String("detail", detail),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}
