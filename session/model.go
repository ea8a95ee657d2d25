package session

import "time"

// Record is what a store keeps for an active session.
type Record struct {
	Principal string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TTL returns the remaining lifetime at now, or zero when already expired.
func (r Record) TTL(now time.Time) time.Duration {
	d := r.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
