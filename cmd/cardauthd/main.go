// Command cardauthd runs the local card authorization daemon. It exposes
// the auth API on loopback and pushes session state to connected UIs
// over WebSocket.
package main

import (
	"log/slog"
	"os"

	"cardauth/internal/app"
)

func main() {
	application, err := app.NewApplication()
	if err != nil {
		slog.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
