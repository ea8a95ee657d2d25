package tokengate

import (
	"errors"
	"fmt"
)

var (
	// ErrValidationFailed is returned when a login request is malformed.
	ErrValidationFailed = errors.New("login request validation failed")
	// ErrCaptchaInvalid is returned when the verification code is wrong, expired or missing.
	ErrCaptchaInvalid = errors.New("captcha invalid")
	// ErrLoginInfoInvalid is returned for unknown identities and password mismatches alike.
	ErrLoginInfoInvalid = errors.New("login info invalid")
	// ErrUserStatusInvalid matches every *UserStatusError through errors.Is.
	ErrUserStatusInvalid = errors.New("user status invalid")
	// ErrLoginRateLimited is returned when login throttling rejects the attempt.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrCaptchaUnavailable is returned when the verification code backend fails.
	ErrCaptchaUnavailable = errors.New("captcha backend unavailable")
	// ErrSessionUnavailable is returned when the token backend fails.
	ErrSessionUnavailable = errors.New("session backend unavailable")
	// ErrIdentityUnavailable is returned when the identity lookup backend fails.
	ErrIdentityUnavailable = errors.New("identity backend unavailable")
	// ErrThrottleUnavailable is returned when the login throttle backend fails.
	ErrThrottleUnavailable = errors.New("login throttle unavailable")
	// ErrIdentityNotFound is returned by IdentityLookup and LoginHandler implementations
	// when no identity matches.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrHandlerNotRegistered is a configuration error: no LoginHandler serves the mode.
	ErrHandlerNotRegistered = errors.New("login handler not registered")
	// ErrTokenInvalid is returned by Lookup for unknown, superseded, revoked or malformed tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrEngineNotReady is returned when the engine is missing a dependency.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// UserStatusError reports an identity whose credentials were correct enough to reach
// the status gate but whose account may not log in.
type UserStatusError struct {
	Reason IdentityStatus
}

func (e *UserStatusError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUserStatusInvalid.Error(), e.Reason)
}

// Is makes errors.Is(err, ErrUserStatusInvalid) hold for every status error.
func (e *UserStatusError) Is(target error) bool {
	return target == ErrUserStatusInvalid
}
