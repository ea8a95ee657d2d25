package password

import "errors"

var (
	// ErrMalformedHash is returned by Verify when the stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrUnsupportedHash is returned when no scheme recognizes a hash.
	ErrUnsupportedHash = errors.New("unsupported password hash")
	// ErrPasswordTooShort is returned by Hash for passwords under the configured minimum.
	ErrPasswordTooShort = errors.New("password too short")
	// ErrPasswordTooLong is returned by Hash for passwords over the configured maximum.
	ErrPasswordTooLong = errors.New("password too long")
)
