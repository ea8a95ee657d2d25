// Package flows contains the orchestration bodies of Engine operations.
//
// Each flow function (RunLogin, RunLogout) accepts a typed dependency struct and
// returns results without side-effects beyond those dependencies. This keeps the
// Engine type thin and lets the state machine be tested with plain closures.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the captcha store, identity lookup, password
// hasher, session store, throttle, audit dispatcher and metrics. They do NOT own any
// of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import tokengate (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency closures.
package flows
