package flows

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RecoveryStoreOutcome classifies recovery store errors for flow mapping.
type RecoveryStoreOutcome int

const (
	RecoveryStoreUnavailable RecoveryStoreOutcome = iota
	RecoveryStoreNotFound
	RecoveryStoreExpired
	RecoveryStoreMismatch
	RecoveryStoreAttemptsExceeded
)

// RecoveryMetrics carries metric IDs used by the recovery flows.
type RecoveryMetrics struct {
	ResetRequest        int
	ResetRequestUnknown int
	ResetRateLimited    int
	ResetRequestLatency int
	OTPVerifySuccess    int
	OTPVerifyFailure    int
	OTPAttemptsExceeded int
	ResetConfirmSuccess int
	ResetConfirmFailure int
	NotificationFailure int
}

// RecoveryEvents carries audit event names used by the recovery flows.
type RecoveryEvents struct {
	ResetRequest string
	OTPVerify    string
	ResetConsume string
}

// RecoveryErrors carries host-level sentinel errors used by the recovery flows.
type RecoveryErrors struct {
	EngineNotReady      error
	InvalidOrExpired    error
	Expired             error
	InvalidOtp          error
	InvalidSession      error
	WeakPassword        error
	UpstreamUnavailable error
}

// RecoveryDeps captures the OTP reset dependencies.
type RecoveryDeps struct {
	Hooks

	OTPDigits int
	OTPTTL    time.Duration
	// EnumerationDelay blocks until a randomized deadline measured from
	// since. Every RunRequestReset outcome waits on it, so registered and
	// unknown addresses answer in the same window.
	EnumerationDelay func(ctx context.Context, since time.Time) error

	CheckRequestLimiter func(ctx context.Context, email, ip string) error
	IsRateLimited       func(error) bool

	LookupIdentity     func(ctx context.Context, email string) (string, error)
	IsIdentityNotFound func(error) bool

	GenerateOTP   func(digits int) (string, error)
	NewResetToken func() (string, error)
	HashSecret    func(string) [32]byte

	UpsertRecord       func(ctx context.Context, email, identityID string, otpHash [32]byte, expiresAt time.Time) error
	VerifyRecord       func(ctx context.Context, email string, otpHash, tokenHash [32]byte) (string, error)
	ConsumeRecord      func(ctx context.Context, tokenHash [32]byte) (string, error)
	PeekRecord         func(ctx context.Context, tokenHash [32]byte) error
	ClassifyStoreError func(error) RecoveryStoreOutcome

	CheckPasswordPolicy   func(string) error
	HashPassword          func(string) (string, error)
	UpdateCredential      func(ctx context.Context, identityID, credentialHash string) error
	InvalidateAllSessions func(ctx context.Context, identityID string) error

	Notify      Notifier
	TemplateOTP string

	Metrics RecoveryMetrics
	Events  RecoveryEvents
	Errors  RecoveryErrors
}

func normalizeRecoveryDeps(deps *RecoveryDeps) {
	deps.Hooks.normalize()
	if deps.OTPDigits == 0 {
		deps.OTPDigits = 6
	}
	if deps.EnumerationDelay == nil {
		deps.EnumerationDelay = func(context.Context, time.Time) error { return nil }
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.IsIdentityNotFound == nil {
		deps.IsIdentityNotFound = func(error) bool { return false }
	}
	if deps.ClassifyStoreError == nil {
		deps.ClassifyStoreError = func(error) RecoveryStoreOutcome { return RecoveryStoreUnavailable }
	}
	if deps.CheckPasswordPolicy == nil {
		deps.CheckPasswordPolicy = func(string) error { return nil }
	}
	if deps.Notify == nil {
		deps.Notify = func(context.Context, string, string, map[string]string) error { return nil }
	}
}

// RunRequestReset starts recovery for email. The caller cannot tell from
// the result whether the address is registered: unknown addresses, limiter
// rejections and store failures all end in the same silent success. Only a
// cancelled context or missing wiring produce an error.
func RunRequestReset(ctx context.Context, email string, deps RecoveryDeps) error {
	normalizeRecoveryDeps(&deps)
	if deps.LookupIdentity == nil ||
		deps.GenerateOTP == nil ||
		deps.HashSecret == nil ||
		deps.UpsertRecord == nil {
		return deps.Errors.EngineNotReady
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := deps.Now()
	defer func() {
		deps.MetricObserve(deps.Metrics.ResetRequestLatency, deps.Now().Sub(start))
	}()

	email = NormalizeEmail(email)
	ip := deps.ClientIPFromContext(ctx)
	deps.MetricInc(deps.Metrics.ResetRequest)

	silent := func(reason string, err error) error {
		deps.EmitAudit(ctx, deps.Events.ResetRequest, false, "", "", err, func() map[string]string {
			return map[string]string{
				"reason":           reason,
				"enumeration_safe": "true",
			}
		})
		return deps.EnumerationDelay(ctx, start)
	}

	if !ValidEmail(email) {
		return silent("invalid_email", nil)
	}

	if deps.CheckRequestLimiter != nil {
		if err := deps.CheckRequestLimiter(ctx, email, ip); err != nil {
			if deps.IsRateLimited(err) {
				deps.MetricInc(deps.Metrics.ResetRateLimited)
				return silent("rate_limited", err)
			}
			deps.Logger.WarnContext(ctx, "recovery limiter unavailable", "error", err)
		}
	}

	identityID, err := deps.LookupIdentity(ctx, email)
	if err != nil {
		if deps.IsIdentityNotFound(err) {
			deps.MetricInc(deps.Metrics.ResetRequestUnknown)
			deps.Logger.DebugContext(ctx, "reset requested for unknown email")
			// Spend the same CSPRNG and hash work as a real request.
			if otp, genErr := deps.GenerateOTP(deps.OTPDigits); genErr == nil {
				_ = deps.HashSecret(otp)
			}
			return silent("not_found", nil)
		}
		deps.Logger.ErrorContext(ctx, "reset identity lookup failed", "error", err)
		return silent("lookup_failed", err)
	}

	otp, err := deps.GenerateOTP(deps.OTPDigits)
	if err != nil {
		deps.Logger.ErrorContext(ctx, "otp generation failed", "error", err)
		return silent("otp_generation_failed", err)
	}

	expiresAt := start.Add(deps.OTPTTL)
	if err := deps.UpsertRecord(ctx, email, identityID, deps.HashSecret(otp), expiresAt); err != nil {
		deps.Logger.ErrorContext(ctx, "recovery record write failed", "identity_id", identityID, "error", err)
		return silent("store_failed", err)
	}

	if !dispatch(ctx, &deps.Hooks, deps.Notify, email, deps.TemplateOTP, map[string]string{
		"code":       otp,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	}, deps.Metrics.NotificationFailure) {
		deps.EmitAudit(ctx, deps.Events.ResetRequest, false, identityID, "", nil, func() map[string]string {
			return map[string]string{"reason": "dispatch_failed"}
		})
		return deps.EnumerationDelay(ctx, start)
	}

	deps.EmitAudit(ctx, deps.Events.ResetRequest, true, identityID, "", nil, nil)
	return deps.EnumerationDelay(ctx, start)
}

// RunVerifyOTP checks otp against the pending record for email and returns
// a reset-session token exactly once.
func RunVerifyOTP(ctx context.Context, email, otp string, deps RecoveryDeps) (string, error) {
	normalizeRecoveryDeps(&deps)
	if deps.NewResetToken == nil ||
		deps.HashSecret == nil ||
		deps.VerifyRecord == nil {
		return "", deps.Errors.EngineNotReady
	}

	email = NormalizeEmail(email)
	otp = strings.TrimSpace(otp)

	fail := func(identityID, reason string, err error) (string, error) {
		deps.MetricInc(deps.Metrics.OTPVerifyFailure)
		deps.EmitAudit(ctx, deps.Events.OTPVerify, false, identityID, "", err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return "", err
	}

	if !validOTP(otp, deps.OTPDigits) {
		return fail("", "invalid_format", deps.Errors.InvalidOtp)
	}

	token, err := deps.NewResetToken()
	if err != nil {
		deps.Logger.ErrorContext(ctx, "reset token generation failed", "error", err)
		return "", deps.Errors.UpstreamUnavailable
	}

	identityID, err := deps.VerifyRecord(ctx, email, deps.HashSecret(otp), deps.HashSecret(token))
	if err != nil {
		switch deps.ClassifyStoreError(err) {
		case RecoveryStoreNotFound:
			return fail("", "not_found", deps.Errors.InvalidOrExpired)
		case RecoveryStoreExpired:
			return fail("", "expired", deps.Errors.Expired)
		case RecoveryStoreMismatch:
			return fail("", "mismatch", deps.Errors.InvalidOtp)
		case RecoveryStoreAttemptsExceeded:
			deps.MetricInc(deps.Metrics.OTPAttemptsExceeded)
			return fail("", "attempts_exceeded", deps.Errors.InvalidOtp)
		default:
			deps.Logger.ErrorContext(ctx, "otp verify failed", "error", err)
			return fail("", "store_unavailable", deps.Errors.UpstreamUnavailable)
		}
	}

	deps.MetricInc(deps.Metrics.OTPVerifySuccess)
	deps.EmitAudit(ctx, deps.Events.OTPVerify, true, identityID, "", nil, nil)
	return token, nil
}

// RunResetPassword spends a reset-session token: the record is claimed and
// deleted first, then the credential is replaced and every login session of
// the identity is revoked.
func RunResetPassword(ctx context.Context, token, newPassword string, deps RecoveryDeps) error {
	normalizeRecoveryDeps(&deps)
	if deps.HashSecret == nil ||
		deps.ConsumeRecord == nil ||
		deps.HashPassword == nil ||
		deps.UpdateCredential == nil ||
		deps.InvalidateAllSessions == nil {
		return deps.Errors.EngineNotReady
	}

	fail := func(identityID, reason string, err error) error {
		deps.MetricInc(deps.Metrics.ResetConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.ResetConsume, false, identityID, "", err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return fail("", "empty_token", deps.Errors.InvalidSession)
	}
	if err := deps.CheckPasswordPolicy(newPassword); err != nil {
		return fail("", "weak_password", fmt.Errorf("%w: %v", deps.Errors.WeakPassword, err))
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		deps.Logger.ErrorContext(ctx, "password hash failed", "error", err)
		return fail("", "hash_failed", deps.Errors.UpstreamUnavailable)
	}

	identityID, err := deps.ConsumeRecord(ctx, deps.HashSecret(token))
	if err != nil {
		switch deps.ClassifyStoreError(err) {
		case RecoveryStoreNotFound:
			return fail("", "invalid_session", deps.Errors.InvalidSession)
		case RecoveryStoreExpired:
			return fail("", "expired", deps.Errors.Expired)
		default:
			deps.Logger.ErrorContext(ctx, "reset record claim failed", "error", err)
			return fail("", "store_unavailable", deps.Errors.UpstreamUnavailable)
		}
	}

	// From here on the token is spent; failures send the user back to the
	// start of recovery.
	if err := deps.UpdateCredential(ctx, identityID, hash); err != nil {
		deps.Logger.ErrorContext(ctx, "credential update failed", "identity_id", identityID, "error", err)
		return fail(identityID, "credential_update_failed", deps.Errors.UpstreamUnavailable)
	}
	if err := deps.InvalidateAllSessions(ctx, identityID); err != nil {
		deps.Logger.ErrorContext(ctx, "session invalidation after reset failed", "identity_id", identityID, "error", err)
		return fail(identityID, "session_invalidation_failed", deps.Errors.UpstreamUnavailable)
	}

	deps.MetricInc(deps.Metrics.ResetConfirmSuccess)
	deps.EmitAudit(ctx, deps.Events.ResetConsume, true, identityID, "", nil, nil)
	return nil
}

// RunHasResetEvidence reports whether token names a Verified record whose
// reset session is still live. It never changes the record.
func RunHasResetEvidence(ctx context.Context, token string, deps RecoveryDeps) bool {
	if deps.HashSecret == nil || deps.PeekRecord == nil {
		return false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	return deps.PeekRecord(ctx, deps.HashSecret(token)) == nil
}

func validOTP(otp string, digits int) bool {
	if len(otp) != digits {
		return false
	}
	for i := 0; i < len(otp); i++ {
		if otp[i] < '0' || otp[i] > '9' {
			return false
		}
	}
	return true
}
