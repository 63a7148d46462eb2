package goIdentity

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/internal/stores"
)

// RequestReset starts password recovery for email. The answer is the same
// ResetAck whether or not the address is registered, whether or not the
// request was throttled, and whether or not the backing stores answered.
// An error is returned only for a cancelled context or an unbuilt Engine.
func (e *Engine) RequestReset(ctx context.Context, email string) (ResetAck, error) {
	if !e.ready() || e.recoveryStore == nil {
		return ResetAck{}, ErrEngineNotReady
	}

	if err := flows.RunRequestReset(ctx, email, e.recoveryDeps()); err != nil {
		return ResetAck{}, err
	}
	return ResetAck{Message: resetAckMessage}, nil
}

// VerifyOTP checks a mailed code and returns a short-lived reset-session
// token. A second call with the same code fails with ErrInvalidOrExpired.
func (e *Engine) VerifyOTP(ctx context.Context, email, otp string) (string, error) {
	if !e.ready() || e.recoveryStore == nil {
		return "", ErrEngineNotReady
	}
	return flows.RunVerifyOTP(ctx, email, otp, e.recoveryDeps())
}

// ResetPassword spends a reset-session token, replaces the credential and
// signs the identity out everywhere. The token is single use even when the
// call fails after it was claimed.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if !e.ready() || e.recoveryStore == nil {
		return ErrEngineNotReady
	}
	return flows.RunResetPassword(ctx, token, newPassword, e.recoveryDeps())
}

// HasResetEvidence reports whether token is a live reset-session token. It
// does not consume it.
func (e *Engine) HasResetEvidence(ctx context.Context, token string) bool {
	if !e.ready() || e.recoveryStore == nil {
		return false
	}
	return flows.RunHasResetEvidence(ctx, token, e.recoveryDeps())
}

func (e *Engine) recoveryDeps() flows.RecoveryDeps {
	cfg := e.config.Recovery

	return flows.RecoveryDeps{
		Hooks:            e.hooks(),
		OTPDigits:        cfg.OTPDigits,
		OTPTTL:           cfg.OTPTTL,
		EnumerationDelay: e.enumerationDelay,
		CheckRequestLimiter: func(ctx context.Context, email, ip string) error {
			if e.recoveryLimiter == nil {
				return nil
			}
			return e.recoveryLimiter.CheckRequest(ctx, email, ip)
		},
		IsRateLimited: func(err error) bool {
			return errors.Is(err, limiters.ErrRecoveryRateLimited)
		},
		LookupIdentity: e.lookupIdentity,
		IsIdentityNotFound: func(err error) bool {
			return errors.Is(err, ErrProfileNotFound)
		},
		GenerateOTP:   internal.NewOTP,
		NewResetToken: internal.NewResetToken,
		HashSecret:    internal.HashSecret,
		UpsertRecord: func(ctx context.Context, email, identityID string, otpHash [32]byte, expiresAt time.Time) error {
			return e.recoveryStore.Upsert(ctx, email, &stores.RecoveryRecord{
				IdentityID:   identityID,
				OTPHash:      otpHash,
				OTPExpiresAt: expiresAt.Unix(),
			}, e.clock())
		},
		VerifyRecord: func(ctx context.Context, email string, otpHash, tokenHash [32]byte) (string, error) {
			record, err := e.recoveryStore.Verify(ctx, email, otpHash, tokenHash,
				cfg.ResetSessionTTL, cfg.MaxVerifyAttempts, e.clock())
			if err != nil {
				return "", err
			}
			return record.IdentityID, nil
		},
		ConsumeRecord: func(ctx context.Context, tokenHash [32]byte) (string, error) {
			record, err := e.recoveryStore.Consume(ctx, tokenHash, e.clock())
			if err != nil {
				return "", err
			}
			return record.IdentityID, nil
		},
		PeekRecord: func(ctx context.Context, tokenHash [32]byte) error {
			_, err := e.recoveryStore.Peek(ctx, tokenHash, e.clock())
			return err
		},
		ClassifyStoreError:    classifyRecoveryError,
		CheckPasswordPolicy:   e.policy.Check,
		HashPassword:          e.hashPassword,
		UpdateCredential:      e.updateCredential,
		InvalidateAllSessions: e.invalidateSessions,
		Notify:                e.notify,
		TemplateOTP:           string(TemplateOTPCode),
		Metrics: flows.RecoveryMetrics{
			ResetRequest:        int(MetricResetRequest),
			ResetRequestUnknown: int(MetricResetRequestUnknown),
			ResetRateLimited:    int(MetricResetRateLimited),
			ResetRequestLatency: int(MetricRequestResetLatency),
			OTPVerifySuccess:    int(MetricOTPVerifySuccess),
			OTPVerifyFailure:    int(MetricOTPVerifyFailure),
			OTPAttemptsExceeded: int(MetricOTPAttemptsExceeded),
			ResetConfirmSuccess: int(MetricResetConfirmSuccess),
			ResetConfirmFailure: int(MetricResetConfirmFailure),
			NotificationFailure: int(MetricNotificationFailure),
		},
		Events: flows.RecoveryEvents{
			ResetRequest: auditEventResetRequest,
			OTPVerify:    auditEventOTPVerify,
			ResetConsume: auditEventResetConsume,
		},
		Errors: flows.RecoveryErrors{
			EngineNotReady:      ErrEngineNotReady,
			InvalidOrExpired:    ErrInvalidOrExpired,
			Expired:             ErrExpired,
			InvalidOtp:          ErrInvalidOtp,
			InvalidSession:      ErrInvalidSession,
			WeakPassword:        ErrWeakPassword,
			UpstreamUnavailable: ErrUpstreamUnavailable,
		},
	}
}

// enumerationDelay holds a reset request until since plus a random duration
// in the configured window. Work already spent counts toward the wait, so
// the answer time does not depend on which path the request took. Only a
// cancelled context cuts it short.
func (e *Engine) enumerationDelay(ctx context.Context, since time.Time) error {
	lo := e.config.Recovery.EnumerationDelayMin
	hi := e.config.Recovery.EnumerationDelayMax
	if hi <= 0 {
		return ctx.Err()
	}

	d := lo
	if hi > lo {
		d += rand.N(hi - lo + 1)
	}
	remaining := d - e.clock().Sub(since)
	if remaining <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func classifyRecoveryError(err error) flows.RecoveryStoreOutcome {
	switch {
	case errors.Is(err, stores.ErrRecoveryNotFound):
		return flows.RecoveryStoreNotFound
	case errors.Is(err, stores.ErrRecoveryExpired):
		return flows.RecoveryStoreExpired
	case errors.Is(err, stores.ErrRecoveryOTPMismatch):
		return flows.RecoveryStoreMismatch
	case errors.Is(err, stores.ErrRecoveryAttemptsExceeded):
		return flows.RecoveryStoreAttemptsExceeded
	default:
		return flows.RecoveryStoreUnavailable
	}
}
