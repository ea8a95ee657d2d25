// Package middleware exposes HTTP adapters around tokengate.Engine.
//
// # Guards
//
//   - [RequireToken] resolves the bearer token through a [TokenResolver], normally
//     the Engine, and injects the session into the request context.
//   - [ClientIP] records the caller address so login throttling and audit events can
//     see it.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT implement
// authentication logic itself; every decision is delegated to the Engine.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Distinguish failure reasons in responses. Every rejection is a bare 401.
package middleware
