package tokengate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// LoginHandler resolves the identity named by a login request. Each implementation
// serves exactly one [LoginMode] and uses one lookup strategy. It returns
// [ErrIdentityNotFound] (possibly wrapped) when nothing matches; any other error is
// treated as a backend failure.
type LoginHandler interface {
	Handle(ctx context.Context, req LoginRequest) (*Identity, error)
}

// LoginHandlerFunc adapts a function to [LoginHandler].
type LoginHandlerFunc func(ctx context.Context, req LoginRequest) (*Identity, error)

func (f LoginHandlerFunc) Handle(ctx context.Context, req LoginRequest) (*Identity, error) {
	return f(ctx, req)
}

// PasswordUpdater is implemented by identity stores that accept rehashed passwords.
// When the configured [IdentityLookup] implements it and
// PasswordConfig.UpgradeOnLogin is set, a successful login against an outdated hash
// writes a fresh one.
type PasswordUpdater interface {
	UpdatePasswordHash(ctx context.Context, principal, hash string) error
}

// UsernameHandler resolves identities by username.
type UsernameHandler struct {
	Lookup IdentityLookup
}

func (h UsernameHandler) Handle(ctx context.Context, req LoginRequest) (*Identity, error) {
	return h.Lookup.ByUsername(ctx, req.Identifier)
}

// PhoneHandler resolves identities by phone number.
type PhoneHandler struct {
	Lookup IdentityLookup
}

func (h PhoneHandler) Handle(ctx context.Context, req LoginRequest) (*Identity, error) {
	return h.Lookup.ByPhone(ctx, req.Identifier)
}

// EmailHandler resolves identities by email address.
type EmailHandler struct {
	Lookup IdentityLookup
}

func (h EmailHandler) Handle(ctx context.Context, req LoginRequest) (*Identity, error) {
	return h.Lookup.ByEmail(ctx, req.Identifier)
}

var errRegistryFrozen = errors.New("handler registry is frozen")

// HandlerRegistry maps login modes to handlers. It is populated at build time and
// read-only afterwards.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[LoginMode]LoginHandler
	frozen   bool
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[LoginMode]LoginHandler, 3),
	}
}

// Register binds h to mode. Registering a mode twice replaces the handler.
func (r *HandlerRegistry) Register(mode LoginMode, h LoginHandler) error {
	switch mode {
	case ModeUsername, ModePhone, ModeEmail:
	default:
		return fmt.Errorf("register handler: unknown login mode %d", mode)
	}
	if h == nil {
		return fmt.Errorf("register handler: nil handler for %s", mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errRegistryFrozen
	}
	r.handlers[mode] = h
	return nil
}

// Freeze makes the registry read-only.
func (r *HandlerRegistry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Handler returns the handler bound to mode, or [ErrHandlerNotRegistered].
func (r *HandlerRegistry) Handler(mode LoginMode) (LoginHandler, error) {
	r.mu.RLock()
	h, ok := r.handlers[mode]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotRegistered, mode)
	}
	return h, nil
}

// Modes lists the registered modes in ascending order.
func (r *HandlerRegistry) Modes() []LoginMode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LoginMode, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
