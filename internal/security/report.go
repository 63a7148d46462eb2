package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

// Report summarizes the protections a running engine has switched on.
type Report struct {
	SigningAlgorithm string
	AccessTTL        time.Duration
	SessionLifetime  time.Duration
	Argon2           PasswordReport

	ConfirmationRequired  bool
	LoginThrottleActive   bool
	RefreshThrottleActive bool

	// RecoveryThrottleActive is true when either the per-email or the
	// per-IP request throttle is on.
	RecoveryThrottleActive bool
	OTPDigits              int
	OTPTTL                 time.Duration
	ResetSessionTTL        time.Duration
	MaxVerifyAttempts      int
	EnumerationDelay       bool
	AuditEnabled           bool

	Warnings []string
}

type ReportInput struct {
	SigningAlgorithm string
	AccessTTL        time.Duration
	SessionLifetime  time.Duration
	Password         PasswordReport

	RequireConfirmation bool
	MaxLoginFailures    int
	LoginFailureWindow  time.Duration
	RefreshThrottle     bool
	MaxRefreshAttempts  int

	EmailThrottle       bool
	IPThrottle          bool
	MaxResetRequests    int
	OTPDigits           int
	OTPTTL              time.Duration
	ResetSessionTTL     time.Duration
	MaxVerifyAttempts   int
	EnumerationDelayMax time.Duration

	AuditEnabled bool
}

func BuildReport(input ReportInput) Report {
	r := Report{
		SigningAlgorithm:       input.SigningAlgorithm,
		AccessTTL:              input.AccessTTL,
		SessionLifetime:        input.SessionLifetime,
		Argon2:                 input.Password,
		ConfirmationRequired:   input.RequireConfirmation,
		LoginThrottleActive:    input.MaxLoginFailures > 0 && input.LoginFailureWindow > 0,
		RefreshThrottleActive:  input.RefreshThrottle && input.MaxRefreshAttempts > 0,
		RecoveryThrottleActive: (input.EmailThrottle || input.IPThrottle) && input.MaxResetRequests > 0,
		OTPDigits:              input.OTPDigits,
		OTPTTL:                 input.OTPTTL,
		ResetSessionTTL:        input.ResetSessionTTL,
		MaxVerifyAttempts:      input.MaxVerifyAttempts,
		EnumerationDelay:       input.EnumerationDelayMax > 0,
		AuditEnabled:           input.AuditEnabled,
	}

	if input.SigningAlgorithm == "hs256" {
		r.Warnings = append(r.Warnings, "hs256 shares the signing secret with every verifier")
	}
	if !r.LoginThrottleActive {
		r.Warnings = append(r.Warnings, "login throttling disabled")
	}
	if !r.RecoveryThrottleActive {
		r.Warnings = append(r.Warnings, "reset request throttling disabled")
	}
	if !r.EnumerationDelay {
		r.Warnings = append(r.Warnings, "reset requests answer without an enumeration delay")
	}
	if input.OTPDigits < 6 {
		r.Warnings = append(r.Warnings, "one-time codes shorter than 6 digits")
	}
	return r
}
