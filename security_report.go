package goIdentity

import "github.com/MrEthical07/goIdentity/internal/security"

// SecurityReport is a read-only view of the protections the Engine runs
// with. Warnings lists weakened settings.
type SecurityReport = security.Report

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	c := e.config
	return security.BuildReport(security.ReportInput{
		SigningAlgorithm: c.JWT.SigningMethod,
		AccessTTL:        c.JWT.AccessTTL,
		SessionLifetime:  c.Session.Lifetime,
		Password: security.PasswordReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
			MinLength:   c.Password.MinLength,
		},
		RequireConfirmation: c.Registration.RequireConfirmation,
		MaxLoginFailures:    c.Login.MaxFailures,
		LoginFailureWindow:  c.Login.FailureWindow,
		RefreshThrottle:     c.Login.EnableRefreshThrottle,
		MaxRefreshAttempts:  c.Login.MaxRefreshAttempts,
		EmailThrottle:       c.Recovery.EnableEmailThrottle,
		IPThrottle:          c.Recovery.EnableIPThrottle,
		MaxResetRequests:    c.Recovery.MaxRequests,
		OTPDigits:           c.Recovery.OTPDigits,
		OTPTTL:              c.Recovery.OTPTTL,
		ResetSessionTTL:     c.Recovery.ResetSessionTTL,
		MaxVerifyAttempts:   c.Recovery.MaxVerifyAttempts,
		EnumerationDelayMax: c.Recovery.EnumerationDelayMax,
		AuditEnabled:        c.Audit.Enabled,
	})
}
