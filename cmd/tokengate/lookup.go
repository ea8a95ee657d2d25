package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/MrEthical07/tokengate"
)

// memoryLookup is the identity store used when no database is configured.
type memoryLookup struct {
	mu       sync.RWMutex
	byName   map[string]tokengate.Identity
	byPhone  map[string]string
	byEmail  map[string]string
	sequence int64
}

func newMemoryLookup() *memoryLookup {
	return &memoryLookup{
		byName:  make(map[string]tokengate.Identity),
		byPhone: make(map[string]string),
		byEmail: make(map[string]string),
	}
}

// seed hashes each user's password with hasher and stores the result.
func (m *memoryLookup) seed(users []seedUser, hasher tokengate.PasswordHasher) error {
	for _, u := range users {
		if u.Username == "" || u.Password == "" {
			return oops.Code("CONFIG_INVALID").Errorf("seed users need a username and a password")
		}
		status, err := parseStatus(u.Status)
		if err != nil {
			return oops.Code("CONFIG_INVALID").With("username", u.Username).Wrap(err)
		}
		hash, err := hasher.Hash(u.Password)
		if err != nil {
			return oops.Code("CONFIG_INVALID").With("username", u.Username).Wrap(err)
		}
		m.put(tokengate.Identity{
			Username:     u.Username,
			PasswordHash: hash,
			Status:       status,
			Roles:        append([]string(nil), u.Roles...),
		}, u.Phone, u.Email)
	}
	return nil
}

func (m *memoryLookup) put(id tokengate.Identity, phone, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequence++
	id.ID = m.sequence
	m.byName[id.Username] = id
	if phone != "" {
		m.byPhone[phone] = id.Username
	}
	if email != "" {
		m.byEmail[strings.ToLower(email)] = id.Username
	}
}

func (m *memoryLookup) ByUsername(_ context.Context, username string) (*tokengate.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(username)
}

func (m *memoryLookup) ByPhone(_ context.Context, phone string) (*tokengate.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.byPhone[phone]
	if !ok {
		return nil, tokengate.ErrIdentityNotFound
	}
	return m.get(name)
}

func (m *memoryLookup) ByEmail(_ context.Context, email string) (*tokengate.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, tokengate.ErrIdentityNotFound
	}
	return m.get(name)
}

// get requires m.mu held.
func (m *memoryLookup) get(username string) (*tokengate.Identity, error) {
	id, ok := m.byName[username]
	if !ok {
		return nil, tokengate.ErrIdentityNotFound
	}
	id.Roles = append([]string(nil), id.Roles...)
	return &id, nil
}

func (m *memoryLookup) UpdatePasswordHash(_ context.Context, principal, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byName[principal]
	if !ok {
		return tokengate.ErrIdentityNotFound
	}
	id.PasswordHash = hash
	m.byName[principal] = id
	return nil
}

func parseStatus(s string) (tokengate.IdentityStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ACTIVE":
		return tokengate.StatusActive, nil
	case "UNACTIVATED":
		return tokengate.StatusUnactivated, nil
	case "FORBIDDEN":
		return tokengate.StatusForbidden, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}
