package tokengate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/tokengate/captcha"
	internalaudit "github.com/MrEthical07/tokengate/internal/audit"
	"github.com/MrEthical07/tokengate/internal/flows"
	"github.com/MrEthical07/tokengate/internal/rate"
	"github.com/MrEthical07/tokengate/session"
)

type passwordUpgradeChecker interface {
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Engine is the authentication coordinator. It is safe for concurrent use; all
// per-principal state lives in the configured stores.
type Engine struct {
	config         Config
	handlers       *HandlerRegistry
	hasher         PasswordHasher
	upgradeChecker passwordUpgradeChecker
	updater        PasswordUpdater
	dummyHash      string
	captchaStore   captcha.Store
	issuer         *captcha.Issuer
	tokenStore     session.Store
	codec          session.Codec
	rateLimiter    *rate.Limiter
	audit          *internalaudit.Dispatcher
	metrics        *Metrics
	logger         *slog.Logger
	clock          func() time.Time
}

// Close stops the audit dispatcher after draining queued events. It does not close
// the Redis client passed to the builder.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events discarded because the buffer
// was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// LoginAttempts returns the failed logins counted against identifier in the
// current throttle window. It is 0 when the throttle is off.
func (e *Engine) LoginAttempts(ctx context.Context, identifier string) (int, error) {
	if e == nil || e.rateLimiter == nil {
		return 0, nil
	}
	n, err := e.rateLimiter.GetLoginAttempts(ctx, identifier)
	if err != nil {
		return 0, errors.Join(ErrThrottleUnavailable, err)
	}
	return n, nil
}

// Metrics returns the live counters, for exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// MetricsSnapshot copies the current counters and histograms. It never returns
// nil maps, even on a nil engine.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Modes lists the login modes that have a handler.
func (e *Engine) Modes() []LoginMode {
	if e == nil || e.handlers == nil {
		return nil
	}
	return e.handlers.Modes()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login authenticates req and issues the single active token of the resolved
// principal, superseding any previous one.
//
// The verification code is consumed before any other check, so a failed attempt
// always burns it. Unknown identifiers, identities without roles and wrong
// passwords all yield [ErrLoginInfoInvalid]. A blocked or unactivated identity
// yields a *[UserStatusError] matching [ErrUserStatusInvalid].
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*SessionToken, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	deps := flows.LoginDeps{
		PasswordUpgradeOnLogin: e.config.Password.UpgradeOnLogin,
		DummyHash:              e.dummyHash,
		ClientIPFromContext:    ClientIPFromContext,
		Now:                    e.now,
		ValidateInput: func(flows.LoginInput) error {
			return req.Validate()
		},
		ConsumeCaptcha: e.captchaStore.Consume,
		ResolveIdentity: func(ctx context.Context, _ uint8, _ string) (*flows.LoginIdentity, error) {
			return e.resolveIdentity(ctx, req)
		},
		StatusError:    statusError,
		VerifyPassword: e.hasher.Verify,
		HashPassword:   e.hasher.Hash,
		RevokeSession:  e.tokenStore.Revoke,
		IssueSession:   e.issueSession,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		ObserveLatency: func(d time.Duration) {
			e.metrics.Observe(MetricLoginLatency, d)
		},
		EmitAudit: func(ctx context.Context, event string, success bool, principal, mode, _ string, err error, metadata func() map[string]string) {
			e.emitAudit(ctx, event, success, principal, mode, err, metadata)
		},
		Warn: e.logger.Warn,
		Metrics: flows.LoginMetrics{
			LoginSuccess:       int(MetricLoginSuccess),
			LoginFailure:       int(MetricLoginFailure),
			LoginRateLimited:   int(MetricLoginRateLimited),
			CaptchaInvalid:     int(MetricCaptchaInvalid),
			CredentialsInvalid: int(MetricCredentialsInvalid),
			StatusRejected:     int(MetricStatusRejected),
			SessionIssued:      int(MetricSessionIssued),
			SessionReplaced:    int(MetricSessionReplaced),
			PasswordUpgraded:   int(MetricPasswordUpgraded),
		},
		Events: flows.LoginEvents{
			LoginSuccess:     auditEventLoginSuccess,
			LoginFailure:     auditEventLoginFailure,
			LoginRateLimited: auditEventLoginRateLimited,
		},
		Errors: flows.LoginErrors{
			EngineNotReady:      ErrEngineNotReady,
			CaptchaInvalid:      ErrCaptchaInvalid,
			CaptchaUnavailable:  ErrCaptchaUnavailable,
			LoginInfoInvalid:    ErrLoginInfoInvalid,
			LoginRateLimited:    ErrLoginRateLimited,
			SessionUnavailable:  ErrSessionUnavailable,
			ThrottleUnavailable: ErrThrottleUnavailable,
		},
	}

	if e.upgradeChecker != nil {
		deps.PasswordNeedsUpgrade = e.upgradeChecker.NeedsUpgrade
	}
	if e.updater != nil {
		deps.UpdatePasswordHash = e.updater.UpdatePasswordHash
	}
	if e.rateLimiter != nil {
		deps.CheckLoginRate = func(ctx context.Context, identifier, ip string) error {
			err := e.rateLimiter.CheckLogin(ctx, identifier, ip)
			if errors.Is(err, rate.ErrRateLimited) {
				return ErrLoginRateLimited
			}
			return err
		}
		deps.IncrementLoginRate = e.rateLimiter.IncrementLogin
		deps.ResetLoginRate = e.rateLimiter.ResetLogin
	}

	result, err := flows.RunLogin(ctx, flows.LoginInput{
		Mode:         uint8(req.Mode),
		ModeName:     req.Mode.String(),
		Identifier:   req.Identifier,
		Password:     req.Password,
		CaptchaID:    req.CaptchaID,
		CaptchaValue: req.CaptchaValue,
	}, deps)
	if err != nil {
		return nil, err
	}

	return &SessionToken{
		Principal: result.Principal,
		Token:     result.Token,
		IssuedAt:  result.IssuedAt,
		ExpiresAt: result.ExpiresAt,
	}, nil
}

func (e *Engine) resolveIdentity(ctx context.Context, req LoginRequest) (*flows.LoginIdentity, error) {
	h, err := e.handlers.Handler(req.Mode)
	if err != nil {
		return nil, err
	}

	identity, err := h.Handle(ctx, req)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, nil
		}
		return nil, errors.Join(ErrIdentityUnavailable, err)
	}
	if identity == nil {
		return nil, nil
	}

	return &flows.LoginIdentity{
		Principal:    identity.Username,
		PasswordHash: identity.PasswordHash,
		Status:       uint8(identity.Status),
		RoleCount:    len(identity.Roles),
	}, nil
}

func statusError(status uint8) error {
	if IdentityStatus(status) == StatusActive {
		return nil
	}
	return &UserStatusError{Reason: IdentityStatus(status)}
}

func (e *Engine) issueSession(ctx context.Context, principal string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(e.config.Token.TTL)

	minted, err := e.codec.Mint(principal, now, expiresAt)
	if err != nil {
		return "", time.Time{}, err
	}

	if err := e.tokenStore.Issue(ctx, session.Record{
		Principal: principal,
		TokenID:   minted.TokenID,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}); err != nil {
		return "", time.Time{}, err
	}

	return minted.Token, expiresAt, nil
}

// Logout removes the active token of principal. Logging out a principal without
// an active token succeeds.
func (e *Engine) Logout(ctx context.Context, principal string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	return flows.RunLogout(ctx, principal, flows.LogoutDeps{
		RevokeSession: e.tokenStore.Revoke,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: func(ctx context.Context, event string, success bool, principal string, err error) {
			e.emitAudit(ctx, event, success, principal, "", err, nil)
		},
		SessionRevokedMetric: int(MetricSessionRevoked),
		LogoutMetric:         int(MetricLogout),
		LogoutEvent:          auditEventLogout,
		EngineNotReady:       ErrEngineNotReady,
		SessionUnavailable:   ErrSessionUnavailable,
	})
}

// Lookup resolves a bearer token to its session. Unknown, superseded, revoked,
// expired and malformed tokens all yield [ErrTokenInvalid].
func (e *Engine) Lookup(ctx context.Context, token string) (*SessionToken, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	tokenID, claimed, err := e.codec.Resolve(token)
	if err != nil {
		e.metricInc(MetricLookupFailure)
		return nil, ErrTokenInvalid
	}

	rec, err := e.tokenStore.Lookup(ctx, tokenID)
	if err != nil {
		if errors.Is(err, session.ErrTokenNotFound) {
			e.metricInc(MetricLookupFailure)
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	if (claimed != "" && claimed != rec.Principal) || !e.now().Before(rec.ExpiresAt) {
		e.metricInc(MetricLookupFailure)
		return nil, ErrTokenInvalid
	}

	return &SessionToken{
		Principal: rec.Principal,
		Token:     token,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// LogoutToken resolves token and logs its principal out.
func (e *Engine) LogoutToken(ctx context.Context, token string) error {
	sess, err := e.Lookup(ctx, token)
	if err != nil {
		return err
	}
	return e.Logout(ctx, sess.Principal)
}

// IssueCaptcha creates a verification code, stores it and returns the challenge to
// show the user.
func (e *Engine) IssueCaptcha(ctx context.Context) (*Challenge, error) {
	if e == nil || e.issuer == nil {
		return nil, ErrEngineNotReady
	}

	issued, err := e.issuer.Issue(ctx)
	if err != nil {
		if errors.Is(err, captcha.ErrStoreUnavailable) {
			return nil, errors.Join(ErrCaptchaUnavailable, err)
		}
		return nil, err
	}

	e.metricInc(MetricCaptchaIssued)
	e.emitAudit(ctx, auditEventCaptchaIssued, true, "", "", nil, func() map[string]string {
		return map[string]string{
			"captcha_id": issued.ID,
		}
	})

	return &Challenge{
		ID:        issued.ID,
		Image:     issued.Image,
		ExpiresAt: issued.ExpiresAt,
	}, nil
}
