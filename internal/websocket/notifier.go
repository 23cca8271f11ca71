package websocket

import "context"

// notificationPayload mirrors the toast shape the UI renders
type notificationPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Notifier forwards auth notifications to connected clients as
// notification messages. It satisfies auth.Notifier.
type Notifier struct {
	hub *Hub
}

// NewNotifier creates a hub-backed notifier
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

// Success broadcasts a success-level notification
func (n *Notifier) Success(_ context.Context, msg string) {
	n.hub.Broadcast(TypeNotification, notificationPayload{
		Level:   LevelSuccess,
		Message: msg,
	})
}

// Error broadcasts an error-level notification
func (n *Notifier) Error(_ context.Context, msg string) {
	n.hub.Broadcast(TypeNotification, notificationPayload{
		Level:   LevelError,
		Message: msg,
	})
}
