package tokengate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/tokengate/internal/audit"
)

const (
	auditEventLoginSuccess     = "login_success"
	auditEventLoginFailure     = "login_failure"
	auditEventLoginRateLimited = "login_rate_limited"
	auditEventLogout           = "logout"
	auditEventCaptchaIssued    = "captcha_issued"
)

// AuditErrorCode is the stable, non-sensitive error classification written to
// [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrValidation         AuditErrorCode = "validation_failed"
	auditErrCaptchaInvalid     AuditErrorCode = "captcha_invalid"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountForbidden   AuditErrorCode = "account_forbidden"
	auditErrAccountUnactivated AuditErrorCode = "account_unactivated"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrHandlerMissing     AuditErrorCode = "handler_not_registered"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// NewSlogSink returns an [AuditSink] that logs each event at INFO, or WARN for
// failures, on logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principal string,
	mode string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Principal: principal,
		Mode:      mode,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	var statusErr *UserStatusError
	switch {
	case errors.As(err, &statusErr):
		if statusErr.Reason == StatusForbidden {
			return auditErrAccountForbidden
		}
		return auditErrAccountUnactivated
	case errors.Is(err, ErrValidationFailed):
		return auditErrValidation
	case errors.Is(err, ErrCaptchaInvalid):
		return auditErrCaptchaInvalid
	case errors.Is(err, ErrLoginInfoInvalid):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrHandlerNotRegistered):
		return auditErrHandlerMissing
	case errors.Is(err, ErrCaptchaUnavailable),
		errors.Is(err, ErrSessionUnavailable),
		errors.Is(err, ErrIdentityUnavailable),
		errors.Is(err, ErrThrottleUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

func (e *Engine) now() time.Time {
	if e != nil && e.clock != nil {
		return e.clock()
	}
	return time.Now()
}
