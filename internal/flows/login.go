package flows

import (
	"context"
	"errors"
	"time"
)

// LoginInput is the flow-local login request.
type LoginInput struct {
	Mode         uint8
	ModeName     string
	Identifier   string
	Password     string
	CaptchaID    string
	CaptchaValue string
}

// LoginIdentity is the flow-local view of a resolved identity.
type LoginIdentity struct {
	Principal    string
	PasswordHash string
	Status       uint8
	RoleCount    int
}

// LoginResult is the flow-local login response shape.
type LoginResult struct {
	Principal string
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Replaced  bool
}

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	LoginSuccess       int
	LoginFailure       int
	LoginRateLimited   int
	CaptchaInvalid     int
	CredentialsInvalid int
	StatusRejected     int
	SessionIssued      int
	SessionReplaced    int
	PasswordUpgraded   int
}

// LoginEvents carries audit event names used by the login flow.
type LoginEvents struct {
	LoginSuccess     string
	LoginFailure     string
	LoginRateLimited string
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady     error
	CaptchaInvalid     error
	CaptchaUnavailable error
	LoginInfoInvalid   error
	LoginRateLimited   error
	SessionUnavailable error
	// ThrottleUnavailable is joined with any CheckLoginRate error that is not
	// LoginRateLimited.
	ThrottleUnavailable error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	PasswordUpgradeOnLogin bool
	// DummyHash is verified when no usable identity was found so that unknown and
	// known identifiers cost the same.
	DummyHash string

	ClientIPFromContext func(context.Context) string
	Now                 func() time.Time

	ValidateInput  func(LoginInput) error
	ConsumeCaptcha func(ctx context.Context, id, value string) (bool, error)

	CheckLoginRate     func(context.Context, string, string) error
	IncrementLoginRate func(context.Context, string, string) error
	ResetLoginRate     func(context.Context, string, string) error

	// ResolveIdentity returns (nil, nil) when nothing matches.
	ResolveIdentity func(ctx context.Context, mode uint8, identifier string) (*LoginIdentity, error)
	// StatusError returns nil for statuses allowed to log in.
	StatusError func(status uint8) error

	VerifyPassword       func(string, string) (bool, error)
	PasswordNeedsUpgrade func(string) (bool, error)
	HashPassword         func(string) (string, error)
	UpdatePasswordHash   func(context.Context, string, string) error

	RevokeSession func(ctx context.Context, principal string) (bool, error)
	IssueSession  func(ctx context.Context, principal string, now time.Time) (token string, expiresAt time.Time, err error)

	MetricInc      func(int)
	ObserveLatency func(time.Duration)
	EmitAudit      func(ctx context.Context, event string, success bool, principal, mode, ip string, err error, metadata func() map[string]string)
	Warn           func(string, ...any)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin walks a login attempt through captcha, identity, credential, status and
// token stages. The captcha is consumed before anything else can fail.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) (*LoginResult, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.ObserveLatency == nil {
		deps.ObserveLatency = func(time.Duration) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, string, error, func() map[string]string) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.ValidateInput == nil ||
		deps.ConsumeCaptcha == nil ||
		deps.ResolveIdentity == nil ||
		deps.StatusError == nil ||
		deps.VerifyPassword == nil ||
		deps.RevokeSession == nil ||
		deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	start := deps.Now()
	defer func() { deps.ObserveLatency(deps.Now().Sub(start)) }()

	ip := deps.ClientIPFromContext(ctx)

	fail := func(principal string, err error, reason string) error {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, principal, in.ModeName, ip, err, func() map[string]string {
			return map[string]string{
				"identifier": in.Identifier,
				"reason":     reason,
			}
		})
		return err
	}

	// START
	if err := deps.ValidateInput(in); err != nil {
		return nil, fail("", err, "validation_failed")
	}

	// CAPTCHA_CHECKED: the code is gone after this call whatever it returns.
	ok, err := deps.ConsumeCaptcha(ctx, in.CaptchaID, in.CaptchaValue)
	if err != nil {
		deps.Warn("tokengate: captcha store failed", "error", err)
		return nil, fail("", errors.Join(deps.Errors.CaptchaUnavailable, err), "captcha_unavailable")
	}
	if !ok {
		deps.MetricInc(deps.Metrics.CaptchaInvalid)
		return nil, fail("", deps.Errors.CaptchaInvalid, "captcha_invalid")
	}

	if deps.CheckLoginRate != nil {
		if err := deps.CheckLoginRate(ctx, in.Identifier, ip); err != nil && !errors.Is(err, deps.Errors.LoginRateLimited) {
			deps.Warn("tokengate: login throttle check failed", "error", err)
			return nil, fail("", errors.Join(deps.Errors.ThrottleUnavailable, err), "throttle_unavailable")
		} else if err != nil {
			deps.MetricInc(deps.Metrics.LoginRateLimited)
			deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, "", in.ModeName, ip, deps.Errors.LoginRateLimited, func() map[string]string {
				return map[string]string{
					"identifier": in.Identifier,
				}
			})
			return nil, deps.Errors.LoginRateLimited
		}
	}

	// IDENTITY_RESOLVED: absence is not short-circuited, it merges into the
	// credential step below.
	identity, err := deps.ResolveIdentity(ctx, in.Mode, in.Identifier)
	if err != nil {
		return nil, fail("", err, "identity_unavailable")
	}
	if identity != nil && identity.RoleCount == 0 {
		identity = nil
	}

	// CREDENTIAL_VERIFIED
	hash := deps.DummyHash
	if identity != nil {
		hash = identity.PasswordHash
	}
	matched, verifyErr := deps.VerifyPassword(in.Password, hash)
	if verifyErr != nil && identity != nil {
		deps.Warn("tokengate: stored password hash unusable", "principal", identity.Principal, "error", verifyErr)
	}

	credentialFailure := func(principal, reason string) error {
		deps.MetricInc(deps.Metrics.CredentialsInvalid)
		if deps.IncrementLoginRate != nil {
			if err := deps.IncrementLoginRate(ctx, in.Identifier, ip); err != nil {
				deps.Warn("tokengate: login throttle increment failed", "error", err)
			}
		}
		return fail(principal, deps.Errors.LoginInfoInvalid, reason)
	}

	if identity == nil {
		return nil, credentialFailure("", "identity_not_found")
	}

	if verifyErr != nil || !matched {
		return nil, credentialFailure(identity.Principal, "password_mismatch")
	}

	// STATUS_GATED: only reached with the right password, so status never leaks to
	// a caller who does not hold the credentials.
	if statusErr := deps.StatusError(identity.Status); statusErr != nil {
		deps.MetricInc(deps.Metrics.StatusRejected)
		return nil, fail(identity.Principal, statusErr, "account_status")
	}

	if deps.ResetLoginRate != nil {
		if err := deps.ResetLoginRate(ctx, in.Identifier, ip); err != nil {
			deps.Warn("tokengate: login throttle reset failed", "error", err)
		}
	}

	if deps.PasswordUpgradeOnLogin && deps.PasswordNeedsUpgrade != nil && deps.HashPassword != nil && deps.UpdatePasswordHash != nil {
		if needsUpgrade, err := deps.PasswordNeedsUpgrade(identity.PasswordHash); err == nil && needsUpgrade {
			if upgradedHash, err := deps.HashPassword(in.Password); err == nil {
				if err := deps.UpdatePasswordHash(ctx, identity.Principal, upgradedHash); err != nil {
					deps.Warn("tokengate: password hash upgrade update failed", "principal", identity.Principal, "error", err)
				} else {
					deps.MetricInc(deps.Metrics.PasswordUpgraded)
				}
			} else {
				deps.Warn("tokengate: password hash upgrade generation failed", "error", err)
			}
		}
	}
	in.Password = ""

	// TOKEN_ISSUED
	replaced, err := deps.RevokeSession(ctx, identity.Principal)
	if err != nil {
		return nil, fail(identity.Principal, errors.Join(deps.Errors.SessionUnavailable, err), "session_unavailable")
	}

	now := deps.Now()
	token, expiresAt, err := deps.IssueSession(ctx, identity.Principal, now)
	if err != nil {
		return nil, fail(identity.Principal, errors.Join(deps.Errors.SessionUnavailable, err), "session_unavailable")
	}

	if replaced {
		deps.MetricInc(deps.Metrics.SessionReplaced)
	}
	deps.MetricInc(deps.Metrics.SessionIssued)
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, identity.Principal, in.ModeName, ip, nil, func() map[string]string {
		return map[string]string{
			"identifier": in.Identifier,
		}
	})

	return &LoginResult{
		Principal: identity.Principal,
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		Replaced:  replaced,
	}, nil
}
