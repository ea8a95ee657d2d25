// Package internal contains helpers that are intentionally private to tokengate,
// chiefly secure random generation for token ids, opaque tokens and challenge codes.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators for login and logout
//   - rate: Redis-backed fixed-window login throttle
//   - logging: slog handler construction for binaries
//
// # What this package must NOT do
//
//   - Export types that appear in the public tokengate API.
//   - Be imported by any package outside the tokengate module.
package internal
