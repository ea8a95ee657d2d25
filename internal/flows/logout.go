package flows

import (
	"context"
	"errors"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	RevokeSession func(ctx context.Context, principal string) (bool, error)

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, principal string, err error)

	SessionRevokedMetric int
	LogoutMetric         int
	LogoutEvent          string
	EngineNotReady       error
	SessionUnavailable   error
}

// RunLogout drops the active session of principal. An absent session is success.
func RunLogout(ctx context.Context, principal string, deps LogoutDeps) error {
	if deps.RevokeSession == nil {
		return deps.EngineNotReady
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error) {}
	}
	if principal == "" {
		return nil
	}

	revoked, err := deps.RevokeSession(ctx, principal)
	if err != nil {
		err = errors.Join(deps.SessionUnavailable, err)
		deps.EmitAudit(ctx, deps.LogoutEvent, false, principal, err)
		return err
	}

	if revoked {
		deps.MetricInc(deps.SessionRevokedMetric)
	}
	deps.MetricInc(deps.LogoutMetric)
	deps.EmitAudit(ctx, deps.LogoutEvent, true, principal, nil)
	return nil
}
