// Package rate provides the Redis-backed fixed-window throttle applied to failed
// login attempts.
//
// Counters live under <prefix>:rl:id:<identifier> (case-folded) and, when IP
// throttling is on, <prefix>:rl:ip:<ip>. The first failure in a window sets the
// expiry; later failures only increment. Callers decide what counts as a failure.
package rate
