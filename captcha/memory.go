package captcha

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// sweepInterval bounds how often Save walks the map for expired codes.
const sweepInterval = time.Minute

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-process [Store]. Every operation is atomic per code id;
// no lock is shared across ids. Expired codes are dropped by Save at most once
// per sweepInterval, so abandoned codes do not accumulate.
type MemoryStore struct {
	codes     sync.Map
	policy    MatchPolicy
	now       func() time.Time
	lastSweep atomic.Int64 // unix nanos of the last inline sweep
}

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore(policy MatchPolicy) *MemoryStore {
	return &MemoryStore{
		policy: policy,
		now:    time.Now,
	}
}

// WithClock replaces the time source; tests use it to move past expiry.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryStore) Save(_ context.Context, code Code) error {
	now := s.now()
	if err := validateCode(code, now); err != nil {
		return err
	}
	s.codes.Store(code.ID, memoryEntry{value: code.Value, expiresAt: code.ExpiresAt})
	s.sweepIfDue(now)
	return nil
}

func (s *MemoryStore) Validate(_ context.Context, id, value string) (bool, error) {
	raw, ok := s.codes.Load(id)
	if !ok {
		return false, nil
	}
	return s.check(raw.(memoryEntry), value), nil
}

func (s *MemoryStore) Invalidate(_ context.Context, id string) error {
	s.codes.Delete(id)
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, id, value string) (bool, error) {
	raw, ok := s.codes.LoadAndDelete(id)
	if !ok {
		return false, nil
	}
	return s.check(raw.(memoryEntry), value), nil
}

// Sweep drops expired codes and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	return s.sweep(s.now())
}

// sweepIfDue lets a single caller sweep once the interval has passed.
func (s *MemoryStore) sweepIfDue(now time.Time) {
	last := s.lastSweep.Load()
	if now.UnixNano()-last < int64(sweepInterval) {
		return
	}
	if s.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		s.sweep(now)
	}
}

func (s *MemoryStore) sweep(now time.Time) int {
	removed := 0
	s.codes.Range(func(key, raw any) bool {
		if !raw.(memoryEntry).expiresAt.After(now) {
			if s.codes.CompareAndDelete(key, raw) {
				removed++
			}
		}
		return true
	})
	return removed
}

func (s *MemoryStore) check(entry memoryEntry, value string) bool {
	if !entry.expiresAt.After(s.now()) {
		return false
	}
	return s.policy.matches(entry.value, value)
}
