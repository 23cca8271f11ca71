// Package app wires the auth daemon together: configuration, logging,
// observability, the entitlement cache, the verification client, the
// auth controller and the local HTTP/WebSocket surface.
//
// # Initialization Flow
//
// The typical initialization sequence:
//
//  1. Load configuration from environment and file
//  2. Initialize logging and OpenTelemetry
//  3. Acquire the machine code and derive the cache signing key
//  4. Open the entitlement store and restore any cached session
//  5. Wire the controller to the verifier, notifiers and hub
//  6. Configure and start the HTTP server
//
// # Graceful Shutdown
//
// The package handles SIGINT and SIGTERM to ensure active requests
// drain, WebSocket clients disconnect cleanly and the observability
// providers flush.
//
// # Error Handling
//
// All initialization errors are returned to the caller. The app does
// not call os.Exit() directly, allowing main to control the exit
// process.
package app
