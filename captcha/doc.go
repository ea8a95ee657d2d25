// Package captcha stores short-lived verification codes and issues new challenges.
//
// # Consumption contract
//
// A code is usable at most once. [Store.Consume] compares the supplied value and
// removes the stored code in one atomic step, whatever the outcome, so two
// concurrent requests can never both succeed on one issued code and a failed
// guess burns the code. Expired codes behave exactly like absent ones.
//
// # Architecture boundaries
//
// This package owns code storage and challenge generation. It does NOT decide
// what happens after a failed check; that belongs to the Engine.
//
// # What this package must NOT do
//
//   - Import tokengate (no upward imports).
//   - Return or log the stored answer of a challenge.
package captcha
