package tokengate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tokengate/captcha"
	"github.com/MrEthical07/tokengate/password"
	"github.com/MrEthical07/tokengate/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLoginScenarioConsumesCaptcha(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend.name, func(t *testing.T) {
			te := buildTestEngine(t, backend, testConfig(), nil)
			te.lookup.add(activeAlice(t), "", "")
			te.saveCaptcha(t, "c1", "XYZ9")

			tok, err := te.Login(context.Background(), aliceRequest())
			if err != nil {
				t.Fatalf("login failed: %v", err)
			}
			if tok.Token == "" || tok.Principal != "alice" {
				t.Fatalf("unexpected token %+v", tok)
			}

			_, err = te.Login(context.Background(), aliceRequest())
			if !errors.Is(err, ErrCaptchaInvalid) {
				t.Fatalf("expected ErrCaptchaInvalid on replay, got %v", err)
			}

			// The replay must not disturb the issued token.
			sess, err := te.Lookup(context.Background(), tok.Token)
			if err != nil {
				t.Fatalf("lookup failed: %v", err)
			}
			if sess.Principal != "alice" {
				t.Fatalf("expected principal alice, got %q", sess.Principal)
			}
		})
	}
}

func TestCaptchaUnusableAfterEveryOutcome(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, te *testEngine)
		req     func() LoginRequest
		wantErr error
	}{
		{
			name:  "success",
			setup: func(t *testing.T, te *testEngine) { te.lookup.add(activeAlice(t), "", "") },
			req:   aliceRequest,
		},
		{
			name:  "wrong captcha value",
			setup: func(t *testing.T, te *testEngine) { te.lookup.add(activeAlice(t), "", "") },
			req: func() LoginRequest {
				r := aliceRequest()
				r.CaptchaValue = "0000"
				return r
			},
			wantErr: ErrCaptchaInvalid,
		},
		{
			name:  "wrong password",
			setup: func(t *testing.T, te *testEngine) { te.lookup.add(activeAlice(t), "", "") },
			req: func() LoginRequest {
				r := aliceRequest()
				r.Password = "p2"
				return r
			},
			wantErr: ErrLoginInfoInvalid,
		},
		{
			name:    "unknown identity",
			setup:   func(*testing.T, *testEngine) {},
			req:     aliceRequest,
			wantErr: ErrLoginInfoInvalid,
		},
		{
			name: "forbidden",
			setup: func(t *testing.T, te *testEngine) {
				id := activeAlice(t)
				id.Status = StatusForbidden
				te.lookup.add(id, "", "")
			},
			req:     aliceRequest,
			wantErr: ErrUserStatusInvalid,
		},
		{
			name: "backend failure",
			setup: func(t *testing.T, te *testEngine) {
				te.lookup.err = errors.New("db down")
			},
			req:     aliceRequest,
			wantErr: ErrIdentityUnavailable,
		},
	}

	for _, backend := range backends() {
		for _, tt := range tests {
			t.Run(backend.name+"/"+tt.name, func(t *testing.T) {
				te := buildTestEngine(t, backend, testConfig(), nil)
				tt.setup(t, te)
				te.saveCaptcha(t, "c1", "XYZ9")

				_, err := te.Login(context.Background(), tt.req())
				if tt.wantErr == nil && err != nil {
					t.Fatalf("first attempt failed: %v", err)
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}

				te.lookup.err = nil
				te.lookup.add(activeAlice(t), "", "")
				_, err = te.Login(context.Background(), aliceRequest())
				if !errors.Is(err, ErrCaptchaInvalid) {
					t.Fatalf("expected ErrCaptchaInvalid on second attempt, got %v", err)
				}
			})
		}
	}
}

func TestValidationFailureLeavesCaptchaAndStores(t *testing.T) {
	te := buildTestEngine(t, backends()[0], testConfig(), nil)
	te.lookup.add(activeAlice(t), "", "")
	te.saveCaptcha(t, "c1", "XYZ9")

	for _, mutate := range []func(*LoginRequest){
		func(r *LoginRequest) { r.Identifier = "" },
		func(r *LoginRequest) { r.Password = "" },
		func(r *LoginRequest) { r.CaptchaValue = "" },
		func(r *LoginRequest) { r.Mode = 0 },
	} {
		req := aliceRequest()
		mutate(&req)
		if _, err := te.Login(context.Background(), req); !errors.Is(err, ErrValidationFailed) {
			t.Fatalf("expected ErrValidationFailed, got %v", err)
		}
	}
	if te.lookup.calls.Load() != 0 {
		t.Fatal("malformed requests must not reach the identity store")
	}

	if _, err := te.Login(context.Background(), aliceRequest()); err != nil {
		t.Fatalf("valid login after malformed ones failed: %v", err)
	}
}

func TestSecondLoginSupersedesFirstToken(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend.name, func(t *testing.T) {
			te := buildTestEngine(t, backend, testConfig(), nil)
			te.lookup.add(activeAlice(t), "", "")

			te.saveCaptcha(t, "c1", "XYZ9")
			first, err := te.Login(context.Background(), aliceRequest())
			if err != nil {
				t.Fatalf("first login failed: %v", err)
			}

			te.saveCaptcha(t, "c2", "1234")
			req := aliceRequest()
			req.CaptchaID, req.CaptchaValue = "c2", "1234"
			second, err := te.Login(context.Background(), req)
			if err != nil {
				t.Fatalf("second login failed: %v", err)
			}
			if first.Token == second.Token {
				t.Fatal("expected a fresh token")
			}

			if _, err := te.Lookup(context.Background(), first.Token); !errors.Is(err, ErrTokenInvalid) {
				t.Fatalf("expected superseded token to be invalid, got %v", err)
			}
			if _, err := te.Lookup(context.Background(), second.Token); err != nil {
				t.Fatalf("expected current token to resolve, got %v", err)
			}
			if got := te.Metrics().Value(MetricSessionReplaced); got != 1 {
				t.Fatalf("expected one replaced session, got %d", got)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend.name, func(t *testing.T) {
			te := buildTestEngine(t, backend, testConfig(), nil)
			te.lookup.add(activeAlice(t), "", "")

			if err := te.Logout(context.Background(), "alice"); err != nil {
				t.Fatalf("logout without session failed: %v", err)
			}

			te.saveCaptcha(t, "c1", "XYZ9")
			tok, err := te.Login(context.Background(), aliceRequest())
			if err != nil {
				t.Fatalf("login failed: %v", err)
			}

			if err := te.Logout(context.Background(), "alice"); err != nil {
				t.Fatalf("logout failed: %v", err)
			}
			if _, err := te.Lookup(context.Background(), tok.Token); !errors.Is(err, ErrTokenInvalid) {
				t.Fatalf("expected ErrTokenInvalid after logout, got %v", err)
			}
			if err := te.Logout(context.Background(), "alice"); err != nil {
				t.Fatalf("second logout failed: %v", err)
			}

			snap := te.MetricsSnapshot()
			if snap.Counters[MetricLogout] != 3 || snap.Counters[MetricSessionRevoked] != 1 {
				t.Fatalf("unexpected logout counters %v", snap.Counters)
			}
		})
	}
}

func TestLogoutToken(t *testing.T) {
	te := buildTestEngine(t, backends()[0], testConfig(), nil)
	te.lookup.add(activeAlice(t), "", "")
	te.saveCaptcha(t, "c1", "XYZ9")

	tok, err := te.Login(context.Background(), aliceRequest())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := te.LogoutToken(context.Background(), tok.Token); err != nil {
		t.Fatalf("logout by token failed: %v", err)
	}
	if err := te.LogoutToken(context.Background(), tok.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for revoked token, got %v", err)
	}
}

func TestStatusGating(t *testing.T) {
	for _, status := range []IdentityStatus{StatusForbidden, StatusUnactivated} {
		t.Run(status.String(), func(t *testing.T) {
			te := buildTestEngine(t, backends()[0], testConfig(), nil)
			id := activeAlice(t)
			id.Status = status
			te.lookup.add(id, "", "")
			te.saveCaptcha(t, "c1", "XYZ9")

			_, err := te.Login(context.Background(), aliceRequest())
			var statusErr *UserStatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("expected *UserStatusError, got %v", err)
			}
			if statusErr.Reason != status {
				t.Fatalf("expected reason %s, got %s", status, statusErr.Reason)
			}
			if !errors.Is(err, ErrUserStatusInvalid) {
				t.Fatal("status errors must match ErrUserStatusInvalid")
			}
			if errors.Is(err, ErrLoginInfoInvalid) {
				t.Fatal("status errors must stay distinct from ErrLoginInfoInvalid")
			}
			if _, err := te.tokenStore.Active(context.Background(), "alice"); !errors.Is(err, session.ErrTokenNotFound) {
				t.Fatalf("status rejection must not issue a token, got %v", err)
			}
		})
	}
}

func TestWrongPasswordOnBlockedIdentityDoesNotRevealStatus(t *testing.T) {
	te := buildTestEngine(t, backends()[0], testConfig(), nil)
	id := activeAlice(t)
	id.Status = StatusForbidden
	te.lookup.add(id, "", "")
	te.saveCaptcha(t, "c1", "XYZ9")

	req := aliceRequest()
	req.Password = "guess"
	if _, err := te.Login(context.Background(), req); !errors.Is(err, ErrLoginInfoInvalid) {
		t.Fatalf("expected ErrLoginInfoInvalid, got %v", err)
	}
}

func TestUnknownAndWrongPasswordAreIndistinguishable(t *testing.T) {
	te := buildTestEngine(t, backends()[0], testConfig(), nil)
	te.lookup.add(activeAlice(t), "", "")

	te.saveCaptcha(t, "c1", "XYZ9")
	wrong := aliceRequest()
	wrong.Password = "p2"
	_, errWrong := te.Login(context.Background(), wrong)

	te.saveCaptcha(t, "c2", "XYZ9")
	unknown := aliceRequest()
	unknown.Identifier = "mallory"
	unknown.CaptchaID = "c2"
	_, errUnknown := te.Login(context.Background(), unknown)

	if !errors.Is(errWrong, ErrLoginInfoInvalid) || !errors.Is(errUnknown, ErrLoginInfoInvalid) {
		t.Fatalf("expected ErrLoginInfoInvalid for both, got %v and %v", errWrong, errUnknown)
	}
	if errWrong.Error() != errUnknown.Error() {
		t.Fatalf("error text leaks the difference: %q vs %q", errWrong, errUnknown)
	}
	if got := te.Metrics().Value(MetricCredentialsInvalid); got != 2 {
		t.Fatalf("expected 2 credential failures, got %d", got)
	}
}

func TestIdentityWithoutRolesIsNotFound(t *testing.T) {
	te := buildTestEngine(t, backends()[0], testConfig(), nil)
	id := activeAlice(t)
	id.Roles = nil
	te.lookup.add(id, "", "")
	te.saveCaptcha(t, "c1", "XYZ9")

	if _, err := te.Login(context.Background(), aliceRequest()); !errors.Is(err, ErrLoginInfoInvalid) {
		t.Fatalf("expected ErrLoginInfoInvalid, got %v", err)
	}
}

func TestLoginModes(t *testing.T) {
	te := buildTestEngine(t, backends()[0], testConfig(), nil)
	te.lookup.add(activeAlice(t), "+15550100", "alice@example.com")

	tests := []struct {
		mode       LoginMode
		identifier string
	}{
		{ModeUsername, "alice"},
		{ModePhone, "+15550100"},
		{ModeEmail, "alice@example.com"},
	}
	for i, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			captchaID := fmt.Sprintf("c%d", i)
			te.saveCaptcha(t, captchaID, "XYZ9")
			tok, err := te.Login(context.Background(), LoginRequest{
				Mode:         tt.mode,
				Identifier:   tt.identifier,
				Password:     "p1",
				CaptchaID:    captchaID,
				CaptchaValue: "XYZ9",
			})
			if err != nil {
				t.Fatalf("login failed: %v", err)
			}
			if tok.Principal != "alice" {
				t.Fatalf("expected principal alice, got %q", tok.Principal)
			}
		})
	}
}

func TestNoCrossModeFallback(t *testing.T) {
	te := buildTestEngine(t, backends()[0], testConfig(), nil)
	te.lookup.add(activeAlice(t), "+15550100", "alice@example.com")
	te.saveCaptcha(t, "c1", "XYZ9")

	req := aliceRequest()
	req.Mode = ModeEmail
	if _, err := te.Login(context.Background(), req); !errors.Is(err, ErrLoginInfoInvalid) {
		t.Fatalf("a username sent as email must not resolve, got %v", err)
	}
}

func TestUnregisteredModeIsConfigurationError(t *testing.T) {
	lookup := newMockLookup()
	lookup.add(activeAlice(t), "", "")
	engine, err := New().
		WithConfig(testConfig()).
		WithLoginHandler(ModeUsername, UsernameHandler{Lookup: lookup}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if got := engine.Modes(); len(got) != 1 || got[0] != ModeUsername {
		t.Fatalf("unexpected modes %v", got)
	}

	req := aliceRequest()
	req.Mode = ModePhone
	_, err = engine.Login(context.Background(), req)
	if !errors.Is(err, ErrHandlerNotRegistered) {
		t.Fatalf("expected ErrHandlerNotRegistered, got %v", err)
	}
	if errors.Is(err, ErrLoginInfoInvalid) {
		t.Fatal("a missing handler is not a credential failure")
	}
}

func TestCustomHandlerOverridesLookup(t *testing.T) {
	var called bool
	configure := func(b *Builder) {
		b.WithLoginHandler(ModeEmail, LoginHandlerFunc(func(ctx context.Context, req LoginRequest) (*Identity, error) {
			called = true
			return nil, ErrIdentityNotFound
		}))
	}
	te := buildTestEngine(t, backends()[0], testConfig(), configure)
	te.lookup.add(activeAlice(t), "", "alice@example.com")
	te.saveCaptcha(t, "c1", "XYZ9")

	req := aliceRequest()
	req.Mode, req.Identifier = ModeEmail, "alice@example.com"
	if _, err := te.Login(context.Background(), req); !errors.Is(err, ErrLoginInfoInvalid) {
		t.Fatalf("expected ErrLoginInfoInvalid, got %v", err)
	}
	if !called {
		t.Fatal("expected custom handler to run")
	}
}

func TestConcurrentLoginsLeaveOneActiveToken(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend.name, func(t *testing.T) {
			te := buildTestEngine(t, backend, testConfig(), nil)
			te.lookup.add(activeAlice(t), "", "")

			const workers = 8
			tokens := make([]string, workers)
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				id := fmt.Sprintf("c%d", i)
				te.saveCaptcha(t, id, "XYZ9")
				wg.Add(1)
				go func(i int, id string) {
					defer wg.Done()
					req := aliceRequest()
					req.CaptchaID = id
					tok, err := te.Login(context.Background(), req)
					if err != nil {
						t.Errorf("login %d failed: %v", i, err)
						return
					}
					tokens[i] = tok.Token
				}(i, id)
			}
			wg.Wait()

			valid := 0
			for _, tok := range tokens {
				if _, err := te.Lookup(context.Background(), tok); err == nil {
					valid++
				}
			}
			if valid != 1 {
				t.Fatalf("expected exactly one active token, got %d", valid)
			}
		})
	}
}

func TestConcurrentCaptchaUseHasOneWinner(t *testing.T) {
	te := buildTestEngine(t, backends()[1], testConfig(), nil)
	te.lookup.add(activeAlice(t), "", "")
	te.saveCaptcha(t, "c1", "XYZ9")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := te.Login(context.Background(), aliceRequest())
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrCaptchaInvalid) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected one successful login, got %d", successes)
	}
}

func TestExpiredCaptchaIsInvalid(t *testing.T) {
	current := time.Now()
	store := captcha.NewMemoryStore(captcha.MatchExact).WithClock(func() time.Time { return current })
	lookup := newMockLookup()
	lookup.add(activeAlice(t), "", "")

	engine, err := New().WithConfig(testConfig()).WithIdentityLookup(lookup).WithCaptchaStore(store).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if err := store.Save(context.Background(), captcha.Code{ID: "c1", Value: "XYZ9", ExpiresAt: current.Add(time.Minute)}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	current = current.Add(2 * time.Minute)

	if _, err := engine.Login(context.Background(), aliceRequest()); !errors.Is(err, ErrCaptchaInvalid) {
		t.Fatalf("expected ErrCaptchaInvalid for expired code, got %v", err)
	}
}

func TestLookupRejectsGarbage(t *testing.T) {
	te := buildTestEngine(t, backends()[0], testConfig(), nil)
	for _, tok := range []string{"", "short", strings.Repeat("a", 43)} {
		if _, err := te.Lookup(context.Background(), tok); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid for %q, got %v", tok, err)
		}
	}
}

func TestPasswordUpgradeOnLogin(t *testing.T) {
	cfg := testConfig()
	cfg.Password.UpgradeOnLogin = true
	te := buildTestEngine(t, backends()[0], cfg, nil)

	legacy, err := password.NewBcrypt(4)
	if err != nil {
		t.Fatalf("NewBcrypt failed: %v", err)
	}
	hash, err := legacy.Hash("p1")
	if err != nil {
		t.Fatalf("bcrypt hash failed: %v", err)
	}
	id := activeAlice(t)
	id.PasswordHash = hash
	te.lookup.add(id, "", "")
	te.saveCaptcha(t, "c1", "XYZ9")

	if _, err := te.Login(context.Background(), aliceRequest()); err != nil {
		t.Fatalf("login with bcrypt hash failed: %v", err)
	}
	upgraded := te.lookup.hashWrites["alice"]
	if !strings.HasPrefix(upgraded, "$argon2id$") {
		t.Fatalf("expected argon2id rewrite, got %q", upgraded)
	}
	if got := te.Metrics().Value(MetricPasswordUpgraded); got != 1 {
		t.Fatalf("expected one upgrade, got %d", got)
	}
}

func TestIssueCaptchaFeedsLogin(t *testing.T) {
	cfg := testConfig()
	cfg.Captcha.RenderImage = true
	te := buildTestEngine(t, backends()[0], cfg, nil)

	ch, err := te.IssueCaptcha(context.Background())
	if err != nil {
		t.Fatalf("IssueCaptcha failed: %v", err)
	}
	if ch.ID == "" || !strings.HasPrefix(ch.Image, "data:image/png;base64,") {
		t.Fatalf("unexpected challenge %+v", ch)
	}
	if !ch.ExpiresAt.After(time.Now()) {
		t.Fatal("challenge must expire in the future")
	}

	// A guess is still a single use of the challenge.
	req := aliceRequest()
	req.CaptchaID = ch.ID
	req.CaptchaValue = "not-a-digit-code"
	if _, err := te.Login(context.Background(), req); !errors.Is(err, ErrCaptchaInvalid) {
		t.Fatalf("expected ErrCaptchaInvalid, got %v", err)
	}
	if got := te.Metrics().Value(MetricCaptchaIssued); got != 1 {
		t.Fatalf("expected one issued captcha, got %d", got)
	}
}

func TestLoginThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.Security.EnableLoginThrottle = true
	cfg.Security.MaxLoginAttempts = 2
	te := buildTestEngine(t, backends()[1], cfg, nil)
	te.lookup.add(activeAlice(t), "", "")

	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("w%d", i)
		te.saveCaptcha(t, id, "XYZ9")
		req := aliceRequest()
		req.CaptchaID, req.Password = id, "wrong"
		if _, err := te.Login(context.Background(), req); !errors.Is(err, ErrLoginInfoInvalid) {
			t.Fatalf("attempt %d: expected ErrLoginInfoInvalid, got %v", i, err)
		}
	}

	te.saveCaptcha(t, "c1", "XYZ9")
	if _, err := te.Login(context.Background(), aliceRequest()); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}
	// The throttle runs after the captcha, so the code is gone.
	if _, err := te.Login(context.Background(), aliceRequest()); !errors.Is(err, ErrCaptchaInvalid) {
		t.Fatalf("expected ErrCaptchaInvalid, got %v", err)
	}
}

func TestBuilderRules(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected error without lookup or handlers")
	}

	cfg := testConfig()
	cfg.Security.EnableLoginThrottle = true
	if _, err := New().WithConfig(cfg).WithIdentityLookup(newMockLookup()).Build(); err == nil {
		t.Fatal("expected throttle without redis to be rejected")
	}

	b := New().WithConfig(testConfig()).WithIdentityLookup(newMockLookup())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestJWTTokens(t *testing.T) {
	cfg := testConfig()
	cfg.Token.Format = TokenJWT
	cfg.Token.PrivateKey = []byte(strings.Repeat("k", 32))
	cfg.Token.Issuer = "tokengate-test"

	for _, backend := range backends() {
		t.Run(backend.name, func(t *testing.T) {
			te := buildTestEngine(t, backend, cfg, nil)
			te.lookup.add(activeAlice(t), "", "")
			te.saveCaptcha(t, "c1", "XYZ9")

			tok, err := te.Login(context.Background(), aliceRequest())
			if err != nil {
				t.Fatalf("login failed: %v", err)
			}
			if strings.Count(tok.Token, ".") != 2 {
				t.Fatalf("expected a JWT, got %q", tok.Token)
			}
			sess, err := te.Lookup(context.Background(), tok.Token)
			if err != nil || sess.Principal != "alice" {
				t.Fatalf("lookup failed: %v %+v", err, sess)
			}

			if err := te.Logout(context.Background(), "alice"); err != nil {
				t.Fatalf("logout failed: %v", err)
			}
			if _, err := te.Lookup(context.Background(), tok.Token); !errors.Is(err, ErrTokenInvalid) {
				t.Fatalf("a signed but revoked token must be invalid, got %v", err)
			}
		})
	}
}

func TestLoginCaptchaBackendFailure(t *testing.T) {
	mr, rdb := newTestRedis(t)
	lookup := newMockLookup()
	lookup.add(activeAlice(t), "", "")
	engine, err := New().WithConfig(testConfig()).WithIdentityLookup(lookup).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	mr.Close()
	_, err = engine.Login(context.Background(), aliceRequest())
	if !errors.Is(err, ErrCaptchaUnavailable) {
		t.Fatalf("expected ErrCaptchaUnavailable, got %v", err)
	}
}

func TestLoginAttemptsFollowThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.Security.EnableLoginThrottle = true
	cfg.Security.MaxLoginAttempts = 5
	te := buildTestEngine(t, backends()[1], cfg, nil)
	te.lookup.add(activeAlice(t), "", "")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("w%d", i)
		te.saveCaptcha(t, id, "XYZ9")
		req := aliceRequest()
		req.CaptchaID, req.Password = id, "wrong"
		_, _ = te.Login(ctx, req)
	}
	if n, err := te.LoginAttempts(ctx, "ALICE"); err != nil || n != 2 {
		t.Fatalf("expected 2 attempts, got %d (err=%v)", n, err)
	}

	te.saveCaptcha(t, "c1", "XYZ9")
	if _, err := te.Login(ctx, aliceRequest()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if n, err := te.LoginAttempts(ctx, "alice"); err != nil || n != 0 {
		t.Fatalf("expected attempts reset after success, got %d (err=%v)", n, err)
	}

	off := buildTestEngine(t, backends()[0], testConfig(), nil)
	if n, err := off.LoginAttempts(ctx, "alice"); err != nil || n != 0 {
		t.Fatalf("expected 0 with throttle off, got %d (err=%v)", n, err)
	}
}

func TestLoginThrottleOutageIsNotRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Security.EnableLoginThrottle = true
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	lookup := newMockLookup()
	lookup.add(activeAlice(t), "", "")
	store := captcha.NewMemoryStore(captcha.MatchExact)
	engine, err := New().WithConfig(cfg).
		WithIdentityLookup(lookup).
		WithRedis(rdb).
		WithCaptchaStore(store).
		WithTokenStore(session.NewMemoryStore()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	mr.Close()
	te := &testEngine{Engine: engine, captcha: store, lookup: lookup}
	te.saveCaptcha(t, "c1", "XYZ9")

	_, err = te.Login(context.Background(), aliceRequest())
	if errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("throttle outage reported as rate limit: %v", err)
	}
	if !errors.Is(err, ErrThrottleUnavailable) {
		t.Fatalf("expected ErrThrottleUnavailable, got %v", err)
	}
	if got := te.MetricsSnapshot().Counters[MetricLoginRateLimited]; got != 0 {
		t.Fatalf("expected no rate-limited count, got %d", got)
	}
	if _, err := te.LoginAttempts(context.Background(), "alice"); !errors.Is(err, ErrThrottleUnavailable) {
		t.Fatalf("expected LoginAttempts to report the outage, got %v", err)
	}
}

func TestBuilderClockDrivesDefaultStores(t *testing.T) {
	fixed := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return fixed }

	cases := []struct {
		name  string
		redis bool
		jwt   bool
	}{
		{name: "memory"},
		{name: "redis", redis: true},
		{name: "memory jwt", jwt: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			if tc.jwt {
				cfg.Token.Format = TokenJWT
				cfg.Token.PrivateKey = []byte(strings.Repeat("k", 32))
			}
			lookup := newMockLookup()
			lookup.add(activeAlice(t), "", "")
			b := New().WithConfig(cfg).WithIdentityLookup(lookup).WithClock(clock)
			if tc.redis {
				_, rdb := newTestRedis(t)
				b = b.WithRedis(rdb)
			}
			engine, err := b.Build()
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			t.Cleanup(engine.Close)
			ctx := context.Background()

			ch, err := engine.IssueCaptcha(ctx)
			if err != nil {
				t.Fatalf("IssueCaptcha failed: %v", err)
			}
			if want := fixed.Add(cfg.Captcha.TTL); !ch.ExpiresAt.Equal(want) {
				t.Fatalf("challenge expiry = %v, want %v", ch.ExpiresAt, want)
			}

			if err := engine.captchaStore.Save(ctx, captcha.Code{ID: "c1", Value: "XYZ9", ExpiresAt: fixed.Add(time.Minute)}); err != nil {
				t.Fatalf("save captcha failed: %v", err)
			}
			tok, err := engine.Login(ctx, aliceRequest())
			if err != nil {
				t.Fatalf("Login failed: %v", err)
			}
			if want := fixed.Add(cfg.Token.TTL); !tok.ExpiresAt.Equal(want) {
				t.Fatalf("token expiry = %v, want %v", tok.ExpiresAt, want)
			}

			sess, err := engine.Lookup(ctx, tok.Token)
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			if sess.Principal != "alice" {
				t.Fatalf("principal = %q, want alice", sess.Principal)
			}
		})
	}
}
