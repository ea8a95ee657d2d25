// Package session keeps the single active session token per principal.
//
// # Invariant
//
// A principal maps to at most one token id, and only that id resolves back to the
// principal. [Store.Issue] replaces the previous mapping atomically: a concurrent
// reader sees either the old token or the new one, never both, and two concurrent
// issues for one principal leave exactly one of them resolvable.
//
// # Tokens and ids
//
// Stores only ever see token ids. A [Codec] turns ids into the bearer strings handed
// to clients: [OpaqueCodec] stores a hash of a random token, [JWTCodec] signs the id
// into the "jti" claim.
//
// # What this package must NOT do
//
//   - Import tokengate (no upward imports).
//   - Store bearer strings that could be replayed from a store dump.
package session
