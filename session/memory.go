package session

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	memoryStripes = 64
	// sweepInterval bounds how often Issue walks the map for expired records.
	sweepInterval = time.Minute
)

// MemoryStore is an in-process [Store]. Writes for one principal serialize on a
// striped lock; Lookup never blocks. Issue drops expired records at most once
// per sweepInterval.
type MemoryStore struct {
	stripes    [memoryStripes]sync.Mutex
	principals sync.Map // principal -> token id
	tokens     sync.Map // token id -> Record
	now        func() time.Time
	lastSweep  atomic.Int64
}

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// WithClock replaces the time source used for expiry checks.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryStore) lock(principal string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(principal))
	return &s.stripes[h.Sum32()%memoryStripes]
}

func (s *MemoryStore) Issue(_ context.Context, rec Record) error {
	if rec.Principal == "" || rec.TokenID == "" {
		return errors.New("principal and token id are required")
	}
	now := s.now()
	if rec.TTL(now) <= 0 {
		return errors.New("session record already expired")
	}
	// Before taking the stripe: sweeping locks stripes of other principals.
	s.sweepIfDue(now)

	mu := s.lock(rec.Principal)
	mu.Lock()
	defer mu.Unlock()

	s.tokens.Store(rec.TokenID, rec)
	if old, ok := s.principals.Swap(rec.Principal, rec.TokenID); ok && old.(string) != rec.TokenID {
		s.tokens.Delete(old)
	}
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, principal string) (bool, error) {
	mu := s.lock(principal)
	mu.Lock()
	defer mu.Unlock()

	old, ok := s.principals.LoadAndDelete(principal)
	if !ok {
		return false, nil
	}
	_, existed := s.tokens.LoadAndDelete(old)
	return existed, nil
}

func (s *MemoryStore) Lookup(_ context.Context, tokenID string) (*Record, error) {
	raw, ok := s.tokens.Load(tokenID)
	if !ok {
		return nil, ErrTokenNotFound
	}
	rec := raw.(Record)
	if rec.TTL(s.now()) <= 0 {
		return nil, ErrTokenNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) Active(_ context.Context, principal string) (string, error) {
	raw, ok := s.principals.Load(principal)
	if !ok {
		return "", ErrTokenNotFound
	}
	id := raw.(string)
	if _, err := s.Lookup(context.Background(), id); err != nil {
		return "", ErrTokenNotFound
	}
	return id, nil
}

// Sweep drops expired records and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	return s.sweep(s.now())
}

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
	s.tokens.Range(func(key, raw any) bool {
		rec := raw.(Record)
		if rec.TTL(now) > 0 {
			return true
		}
		mu := s.lock(rec.Principal)
		mu.Lock()
		if s.tokens.CompareAndDelete(key, raw) {
			s.principals.CompareAndDelete(rec.Principal, rec.TokenID)
			removed++
		}
		mu.Unlock()
		return true
	})
	return removed
}
