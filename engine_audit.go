package goIdentity

import (
	"context"
	"errors"
)

const (
	auditEventRegisterSuccess     = "register_success"
	auditEventRegisterFailure     = "register_failure"
	auditEventRegisterDuplicate   = "register_duplicate"
	auditEventRegisterCompensated = "register_compensated"
	auditEventRegisterOrphan      = "register_orphan"
	auditEventConfirmSuccess      = "email_confirm_success"
	auditEventConfirmFailure      = "email_confirm_failure"
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventLoginRateLimited    = "login_rate_limited"
	auditEventRefreshSuccess      = "refresh_success"
	auditEventRefreshInvalid      = "refresh_invalid"
	auditEventRefreshRateLimited  = "refresh_rate_limited"
	auditEventRefreshReuse        = "refresh_reuse_detected"
	auditEventLogoutSession       = "logout_session"
	auditEventLogoutAll           = "logout_all"
	auditEventResetRequest        = "reset_request"
	auditEventOTPVerify           = "reset_otp_verify"
	auditEventResetConsume        = "reset_consume"
)

// AuditErrorCode is the coarse failure reason recorded on an AuditEvent.
type AuditErrorCode string

const (
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrProfileFailed      AuditErrorCode = "profile_creation_failed"
	auditErrInvalidOrExpired   AuditErrorCode = "invalid_or_expired"
	auditErrExpired            AuditErrorCode = "expired"
	auditErrInvalidOTP         AuditErrorCode = "invalid_otp"
	auditErrInvalidSession     AuditErrorCode = "invalid_session"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrUnconfirmed        AuditErrorCode = "email_unconfirmed"
	auditErrSessionInvalid     AuditErrorCode = "session_invalid"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrConfirmation       AuditErrorCode = "confirmation_invalid"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID string,
	sessionID string,
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
		Timestamp:  e.clock().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		SessionID:  sessionID,
		IP:         ClientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
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

	switch {
	case errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrWeakCredential),
		errors.Is(err, ErrWeakPassword),
		errors.Is(err, ErrProfileInvalid):
		return auditErrInvalidInput
	case errors.Is(err, ErrDuplicateEmail),
		errors.Is(err, ErrIdentityConflict),
		errors.Is(err, ErrProfileConflict):
		return auditErrDuplicate
	case errors.Is(err, ErrProfileCreationFailed):
		return auditErrProfileFailed
	case errors.Is(err, ErrInvalidOrExpired):
		return auditErrInvalidOrExpired
	case errors.Is(err, ErrExpired):
		return auditErrExpired
	case errors.Is(err, ErrInvalidOtp):
		return auditErrInvalidOTP
	case errors.Is(err, ErrInvalidSession):
		return auditErrInvalidSession
	case errors.Is(err, ErrRecoveryRateLimited),
		errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrEmailNotConfirmed):
		return auditErrUnconfirmed
	case errors.Is(err, ErrSessionInvalid):
		return auditErrSessionInvalid
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrConfirmationInvalid):
		return auditErrConfirmation
	case errors.Is(err, ErrUpstreamUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
