// Package http implements the local HTTP API for the auth daemon.
// It is a thin layer between transport and the auth controller: handlers
// parse and validate requests, delegate to the controller, and map
// controller errors to HTTP responses.
//
// # Request Flow
//
//	HTTP Request → Chi Router → Middleware → Handler → Controller
//	                                              ↓
//	HTTP Response ← Handler ← Controller Result ←─┘
//
// # Error Handling
//
// Controller errors are mapped to stable error codes via
// errors.MapAuthError and rendered as JSON with go-chi/render.
package http
