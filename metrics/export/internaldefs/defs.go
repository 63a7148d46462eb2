package internaldefs

import (
	goIdentity "github.com/MrEthical07/goIdentity"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

const AuditDroppedName = "goidentity_audit_dropped_total"

const AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."

const AuditDeliveredName = "goidentity_audit_delivered_total"

const AuditDeliveredHelp = "Audit events handed to the sink."

var CounterDefs = []CounterDef{
	{ID: goIdentity.MetricRegisterSuccess, Name: "goidentity_register_success_total", Help: "Completed registrations."},
	{ID: goIdentity.MetricRegisterDuplicate, Name: "goidentity_register_duplicate_total", Help: "Registrations rejected because the email was taken."},
	{ID: goIdentity.MetricRegisterCompensated, Name: "goidentity_register_compensated_total", Help: "Registrations rolled back after the profile write failed."},
	{ID: goIdentity.MetricRegisterOrphan, Name: "goidentity_register_orphan_total", Help: "Identities left behind by a failed rollback."},
	{ID: goIdentity.MetricConfirmSuccess, Name: "goidentity_confirm_success_total", Help: "Confirmed email addresses."},
	{ID: goIdentity.MetricNotificationFailure, Name: "goidentity_notification_failure_total", Help: "Notification dispatches that failed."},
	{ID: goIdentity.MetricLoginSuccess, Name: "goidentity_login_success_total", Help: "Successful logins."},
	{ID: goIdentity.MetricLoginFailure, Name: "goidentity_login_failure_total", Help: "Failed logins."},
	{ID: goIdentity.MetricLoginRateLimited, Name: "goidentity_login_rate_limited_total", Help: "Logins refused by the rate limiter."},
	{ID: goIdentity.MetricRefreshSuccess, Name: "goidentity_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: goIdentity.MetricRefreshFailure, Name: "goidentity_refresh_failure_total", Help: "Failed refresh rotations."},
	{ID: goIdentity.MetricRefreshReuseDetected, Name: "goidentity_refresh_reuse_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: goIdentity.MetricRefreshRateLimited, Name: "goidentity_refresh_rate_limited_total", Help: "Refreshes refused by the rate limiter."},
	{ID: goIdentity.MetricSessionCreated, Name: "goidentity_session_created_total", Help: "Sessions issued."},
	{ID: goIdentity.MetricSessionInvalidated, Name: "goidentity_session_invalidated_total", Help: "Sessions invalidated."},
	{ID: goIdentity.MetricLogout, Name: "goidentity_logout_total", Help: "Single-session logouts."},
	{ID: goIdentity.MetricLogoutAll, Name: "goidentity_logout_all_total", Help: "Invalidate-all operations."},
	{ID: goIdentity.MetricResetRequest, Name: "goidentity_reset_request_total", Help: "Password reset requests acknowledged."},
	{ID: goIdentity.MetricResetRequestUnknown, Name: "goidentity_reset_request_unknown_total", Help: "Reset requests for addresses with no profile."},
	{ID: goIdentity.MetricResetRateLimited, Name: "goidentity_reset_rate_limited_total", Help: "Reset requests silently throttled."},
	{ID: goIdentity.MetricOTPVerifySuccess, Name: "goidentity_otp_verify_success_total", Help: "One-time codes accepted."},
	{ID: goIdentity.MetricOTPVerifyFailure, Name: "goidentity_otp_verify_failure_total", Help: "One-time codes rejected."},
	{ID: goIdentity.MetricOTPAttemptsExceeded, Name: "goidentity_otp_attempts_exceeded_total", Help: "Codes invalidated after too many wrong guesses."},
	{ID: goIdentity.MetricResetConfirmSuccess, Name: "goidentity_reset_confirm_success_total", Help: "Passwords replaced through recovery."},
	{ID: goIdentity.MetricResetConfirmFailure, Name: "goidentity_reset_confirm_failure_total", Help: "Failed reset confirmations."},
}

var HistogramDefs = []HistogramDef{
	{ID: goIdentity.MetricRequestResetLatency, Name: "goidentity_request_reset_latency_seconds", Help: "Reset request latency including the enumeration delay."},
	{ID: goIdentity.MetricValidateLatency, Name: "goidentity_validate_latency_seconds", Help: "Session validation latency."},
}

// HistogramUpperBounds match the engine's fixed buckets in seconds. The
// last engine bucket is +Inf and has no entry here.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// flatten buckets into separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the engine's bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
