// Package testutil provides log-capture helpers for tests that assert
// on structured logging output.
package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// LogRecord is a captured slog record
type LogRecord struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// CaptureHandler is an slog.Handler that records everything it is
// handed. Safe for concurrent use.
type CaptureHandler struct {
	mu      sync.Mutex
	records []LogRecord
	t       *testing.T
}

// NewCaptureHandler creates a capture handler. Records are also echoed
// to the test log when t is non-nil.
func NewCaptureHandler(t *testing.T) *CaptureHandler {
	return &CaptureHandler{t: t}
}

// NewCaptureLogger returns a logger writing into a fresh capture handler
func NewCaptureLogger(t *testing.T) (*slog.Logger, *CaptureHandler) {
	h := NewCaptureHandler(t)
	return slog.New(h), h
}

// Handle implements slog.Handler
func (h *CaptureHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	h.records = append(h.records, LogRecord{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})
	h.mu.Unlock()

	if h.t != nil {
		h.t.Logf("[%s] %s %v", r.Level, r.Message, attrs)
	}
	return nil
}

// Enabled captures all levels
func (h *CaptureHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

// WithAttrs returns the handler unchanged; tests assert on per-record
// attrs, not handler-scoped ones.
func (h *CaptureHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

// WithGroup returns the handler unchanged
func (h *CaptureHandler) WithGroup(_ string) slog.Handler { return h }

// Records returns a copy of everything captured so far
func (h *CaptureHandler) Records() []LogRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]LogRecord, len(h.records))
	copy(out, h.records)
	return out
}

// RecordsAtLevel returns captured records at the given level
func (h *CaptureHandler) RecordsAtLevel(level slog.Level) []LogRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	var filtered []LogRecord
	for _, r := range h.records {
		if r.Level == level {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// ContainsMessage reports whether any record's message contains s
func (h *CaptureHandler) ContainsMessage(s string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if strings.Contains(r.Message, s) {
			return true
		}
	}
	return false
}

// ContainsAttr reports whether any record carries the attribute
func (h *CaptureHandler) ContainsAttr(key string, value any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if v, ok := r.Attrs[key]; ok && v == value {
			return true
		}
	}
	return false
}
