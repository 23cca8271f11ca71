// Package auth orchestrates card-code login into an authorization state
// machine.
//
// A Controller owns the single session for the process. Login resolves the
// machine code, exchanges the activation code with the remote verifier,
// persists the resulting entitlement, and notifies the host UI; Logout
// clears both the in-memory record and the persisted entry. At startup,
// Restore rebuilds the session from the entitlement cache without touching
// the network.
//
// States move LoggedOut -> LoggingIn -> LoggedIn on success and back to
// LoggedOut on failure or logout. IsExpired is advisory: a session that
// expires mid-run stays logged in until the next restart or an explicit
// logout.
//
// Failure handling follows a strict visibility policy: structured verifier
// rejections reach the user through the Notifier, transport failures are
// only recorded in the queryable last-error field, and cache corruption or
// expiry is recovered silently.
package auth
