package tokengate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/tokengate/captcha"
	"github.com/MrEthical07/tokengate/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type mockLookup struct {
	mu         sync.Mutex
	users      map[string]Identity
	byPhone    map[string]string
	byEmail    map[string]string
	err        error
	calls      atomic.Int64
	hashWrites map[string]string
}

func newMockLookup() *mockLookup {
	return &mockLookup{
		users:      map[string]Identity{},
		byPhone:    map[string]string{},
		byEmail:    map[string]string{},
		hashWrites: map[string]string{},
	}
}

func (m *mockLookup) add(id Identity, phone, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id.Username] = id
	if phone != "" {
		m.byPhone[phone] = id.Username
	}
	if email != "" {
		m.byEmail[email] = id.Username
	}
}

func (m *mockLookup) get(username string) (*Identity, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	id, ok := m.users[username]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, ErrIdentityNotFound)
	}
	return &id, nil
}

func (m *mockLookup) ByUsername(_ context.Context, username string) (*Identity, error) {
	return m.get(username)
}

func (m *mockLookup) ByPhone(_ context.Context, phone string) (*Identity, error) {
	m.mu.Lock()
	username := m.byPhone[phone]
	m.mu.Unlock()
	return m.get(username)
}

func (m *mockLookup) ByEmail(_ context.Context, email string) (*Identity, error) {
	m.mu.Lock()
	username := m.byEmail[email]
	m.mu.Unlock()
	return m.get(username)
}

func (m *mockLookup) UpdatePasswordHash(_ context.Context, principal, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.users[principal]
	id.PasswordHash = hash
	m.users[principal] = id
	m.hashWrites[principal] = hash
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.MinLength = 0
	cfg.Password.BcryptCost = 4
	cfg.Captcha.RenderImage = false
	return cfg
}

func newTestHasher(t testing.TB) *password.Argon2 {
	t.Helper()

	h, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return h
}

func mustHash(t testing.TB, plain string) string {
	t.Helper()

	hash, err := newTestHasher(t).Hash(plain)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	return hash
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

// testBackend is one store wiring an engine test runs against.
type testBackend struct {
	name  string
	build func(t testing.TB, b *Builder) (*Builder, captcha.Store)
}

func backends() []testBackend {
	return []testBackend{
		{
			name: "memory",
			build: func(_ testing.TB, b *Builder) (*Builder, captcha.Store) {
				store := captcha.NewMemoryStore(captcha.MatchExact)
				return b.WithCaptchaStore(store), store
			},
		},
		{
			name: "redis",
			build: func(t testing.TB, b *Builder) (*Builder, captcha.Store) {
				_, rdb := newTestRedis(t)
				return b.WithRedis(rdb), captcha.NewRedisStore(rdb, "tg", captcha.MatchExact)
			},
		},
	}
}

type testEngine struct {
	*Engine
	captcha captcha.Store
	lookup  *mockLookup
}

func buildTestEngine(t testing.TB, backend testBackend, cfg Config, configure func(*Builder)) *testEngine {
	t.Helper()

	lookup := newMockLookup()
	b := New().WithConfig(cfg).WithIdentityLookup(lookup)
	if configure != nil {
		configure(b)
	}
	b, store := backend.build(t, b)

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, captcha: store, lookup: lookup}
}

func (te *testEngine) saveCaptcha(t testing.TB, id, value string) {
	t.Helper()

	if err := te.captcha.Save(context.Background(), captcha.Code{
		ID:        id,
		Value:     value,
		ExpiresAt: time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("save captcha failed: %v", err)
	}
}

func aliceRequest() LoginRequest {
	return LoginRequest{
		Mode:         ModeUsername,
		Identifier:   "alice",
		Password:     "p1",
		CaptchaID:    "c1",
		CaptchaValue: "XYZ9",
	}
}

func activeAlice(t testing.TB) Identity {
	return Identity{
		ID:           1,
		Username:     "alice",
		PasswordHash: mustHash(t, "p1"),
		Status:       StatusActive,
		Roles:        []string{"member"},
	}
}
