// Package shared holds utilities used across the codebase that belong
// to no specific domain or layer. Currently that is only the testutil
// subpackage with log-capture helpers for asserting on slog output.
package shared
