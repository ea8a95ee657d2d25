package captcha

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"
)

var (
	// ErrStoreUnavailable wraps backend failures of a [Store].
	ErrStoreUnavailable = errors.New("captcha store unavailable")
	// ErrInvalidCode is returned by Save for codes without id, value or a future expiry.
	ErrInvalidCode = errors.New("invalid captcha code")
)

// Code is an issued verification code.
type Code struct {
	ID        string
	Value     string
	ExpiresAt time.Time
}

// MatchPolicy controls how a supplied value is compared with the stored one.
type MatchPolicy uint8

const (
	// MatchExact compares byte for byte.
	MatchExact MatchPolicy = iota
	// MatchFold ignores letter case.
	MatchFold
)

// Store is the verification code store consumed by the login flow.
type Store interface {
	// Save stores code until code.ExpiresAt, replacing any code with the same id.
	Save(ctx context.Context, code Code) error
	// Validate reports whether an unexpired code exists for id and matches value.
	// It does not consume the code.
	Validate(ctx context.Context, id, value string) (bool, error)
	// Invalidate removes the code for id. Removing an absent code is not an error.
	Invalidate(ctx context.Context, id string) error
	// Consume is Validate followed by Invalidate as one atomic step.
	Consume(ctx context.Context, id, value string) (bool, error)
}

func (p MatchPolicy) matches(stored, supplied string) bool {
	if p == MatchFold {
		stored = strings.ToUpper(stored)
		supplied = strings.ToUpper(supplied)
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

func validateCode(code Code, now time.Time) error {
	if code.ID == "" || code.Value == "" {
		return ErrInvalidCode
	}
	if !code.ExpiresAt.After(now) {
		return ErrInvalidCode
	}
	return nil
}
