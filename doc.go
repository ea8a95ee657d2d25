// Package tokengate is a login core: verification-code checking, identity resolution
// by username, phone or email, password and account-status verification, and
// single-token-per-principal session issuance.
//
// Engine methods are safe to call from multiple goroutines after [Builder.Build].
//
// # Login sequence
//
// [Engine.Login] validates the request shape, consumes the verification code (a code
// is single-use whatever the outcome), dispatches to the [LoginHandler] registered for
// the request mode, verifies the password (unknown identities are verified against a
// dummy hash), gates on account status and finally replaces the principal's active
// token. Errors are the sentinels in errors.go and *[UserStatusError].
//
// # Architecture boundaries
//
// tokengate is the public surface. It exposes [Engine], [Builder], [Config] and value
// types. The state machine lives in internal/flows; stores live in the captcha and
// session packages; hashing in password; JWT handling in jwt.
//
// # What this package must NOT do
//
//   - Persist or mutate identities, apart from optional rehash-on-login through
//     [PasswordUpdater].
//   - Keep any per-principal state in process memory outside the configured stores.
//   - Tell an unknown identifier apart from a wrong password in any returned error.
package tokengate
