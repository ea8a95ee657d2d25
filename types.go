package tokengate

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/tokengate/internal/audit"
)

// LoginMode selects which identifier type a login request carries.
type LoginMode uint8

const (
	// ModeUsername resolves the identity by username.
	ModeUsername LoginMode = iota + 1
	// ModePhone resolves the identity by phone number.
	ModePhone
	// ModeEmail resolves the identity by email address.
	ModeEmail
)

func (m LoginMode) String() string {
	switch m {
	case ModeUsername:
		return "username"
	case ModePhone:
		return "phone"
	case ModeEmail:
		return "email"
	default:
		return "unknown"
	}
}

// ParseLoginMode maps "username", "phone" or "email" (any case) to a LoginMode.
func ParseLoginMode(s string) (LoginMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "username":
		return ModeUsername, nil
	case "phone":
		return ModePhone, nil
	case "email":
		return ModeEmail, nil
	}
	return 0, fmt.Errorf("%w: unknown login mode %q", ErrValidationFailed, s)
}

// IdentityStatus is the lifecycle state of a stored account.
type IdentityStatus uint8

const (
	// StatusActive accounts may log in.
	StatusActive IdentityStatus = iota
	// StatusUnactivated accounts have not completed activation.
	StatusUnactivated
	// StatusForbidden accounts were blocked by an operator.
	StatusForbidden
)

func (s IdentityStatus) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusUnactivated:
		return "UNACTIVATED"
	case StatusForbidden:
		return "FORBIDDEN"
	default:
		return "UNKNOWN"
	}
}

// LoginRequest is the request-scoped input of [Engine.Login].
type LoginRequest struct {
	Mode         LoginMode
	Identifier   string
	Password     string
	CaptchaID    string
	CaptchaValue string
}

// Validate checks the request shape. Every field is required.
func (r LoginRequest) Validate() error {
	switch r.Mode {
	case ModeUsername, ModePhone, ModeEmail:
	default:
		return fmt.Errorf("%w: mode", ErrValidationFailed)
	}
	if r.Identifier == "" {
		return fmt.Errorf("%w: identifier", ErrValidationFailed)
	}
	if r.Password == "" {
		return fmt.Errorf("%w: password", ErrValidationFailed)
	}
	if r.CaptchaID == "" {
		return fmt.Errorf("%w: captcha id", ErrValidationFailed)
	}
	if r.CaptchaValue == "" {
		return fmt.Errorf("%w: captcha value", ErrValidationFailed)
	}
	return nil
}

// Identity is a stored account record. The engine never mutates it.
type Identity struct {
	ID           int64
	Username     string
	PasswordHash string
	Status       IdentityStatus
	Roles        []string
}

// SessionToken is returned by a successful [Engine.Login].
type SessionToken struct {
	Principal string
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Challenge is a freshly issued verification code as presented to the user.
// The answer itself is never returned.
type Challenge struct {
	ID        string
	Image     string
	ExpiresAt time.Time
}

// IdentityLookup locates identities in the external identity store. Implementations
// return [ErrIdentityNotFound] (possibly wrapped) when nothing matches.
type IdentityLookup interface {
	ByUsername(ctx context.Context, username string) (*Identity, error)
	ByPhone(ctx context.Context, phone string) (*Identity, error)
	ByEmail(ctx context.Context, email string) (*Identity, error)
}

// PasswordHasher verifies supplied secrets against stored hashes. Verify must compare
// in constant time.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) (bool, error)
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes JSON-encoded events to an [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink forwards audit events to a structured logger.
type SlogSink = internalaudit.SlogSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
