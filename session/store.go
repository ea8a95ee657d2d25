package session

import (
	"context"
	"errors"
)

var (
	// ErrTokenNotFound is returned when a token id or principal has no active session.
	ErrTokenNotFound = errors.New("session token not found")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Store is the token store. Implementations must be safe for concurrent use and keep
// the one-token-per-principal invariant under concurrent Issue calls.
type Store interface {
	// Issue makes rec the only active session of rec.Principal, dropping any previous
	// token id of that principal in the same atomic step.
	Issue(ctx context.Context, rec Record) error
	// Revoke removes the active session of principal. It reports whether one existed;
	// revoking nothing is not an error.
	Revoke(ctx context.Context, principal string) (bool, error)
	// Lookup resolves a token id to its record, or [ErrTokenNotFound].
	Lookup(ctx context.Context, tokenID string) (*Record, error)
	// Active returns the current token id of principal, or [ErrTokenNotFound].
	Active(ctx context.Context, principal string) (string, error)
}
