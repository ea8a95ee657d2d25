// Package jwt signs and verifies self-contained session tokens. A token carries the
// principal as "sub" and the stored session id as "jti"; whether that id is still the
// active one is decided by the session store, not here.
package jwt
