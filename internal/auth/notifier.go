package auth

import (
	"context"
	"log/slog"
)

// Notifier is the user-facing notification facility. The host application
// owns the actual presentation; the controller only decides what crosses
// this channel.
type Notifier interface {
	Success(ctx context.Context, message string)
	Error(ctx context.Context, message string)
}

// NopNotifier drops all notifications
type NopNotifier struct{}

func (NopNotifier) Success(ctx context.Context, message string) {}
func (NopNotifier) Error(ctx context.Context, message string)   {}

// SlogNotifier records notifications in the structured log, for headless
// runs without a UI channel attached.
type SlogNotifier struct {
	Logger *slog.Logger
}

// NewSlogNotifier creates a log-backed notifier
func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogNotifier{Logger: logger.With(slog.String("component", "notifier"))}
}

func (n *SlogNotifier) Success(ctx context.Context, message string) {
	n.Logger.InfoContext(ctx, "notification",
		slog.String("level", "success"),
		slog.String("message", message))
}

func (n *SlogNotifier) Error(ctx context.Context, message string) {
	n.Logger.WarnContext(ctx, "notification",
		slog.String("level", "error"),
		slog.String("message", message))
}

// MultiNotifier fans a notification out to several channels
type MultiNotifier []Notifier

func (m MultiNotifier) Success(ctx context.Context, message string) {
	for _, n := range m {
		n.Success(ctx, message)
	}
}

func (m MultiNotifier) Error(ctx context.Context, message string) {
	for _, n := range m {
		n.Error(ctx, message)
	}
}
