package goIdentity

import (
	"errors"
	"fmt"
	"time"
)

// Config is the full Engine configuration. Build a copy with
// DefaultConfig, adjust it, and hand it to Builder.WithConfig. The Engine
// keeps its own clone, so later changes to the caller's value have no effect.
type Config struct {
	JWT          JWTConfig
	Session      SessionConfig
	Password     PasswordConfig
	Registration RegistrationConfig
	Recovery     RecoveryConfig
	Login        LoginConfig
	Upstream     UpstreamConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the server-side half of a login session. Lifetime
// is the refresh token lifetime; AbsoluteSessionLifetime caps sliding
// renewal.
type SessionConfig struct {
	RedisPrefix             string
	Lifetime                time.Duration
	SlidingExpiration       bool
	AbsoluteSessionLifetime time.Duration
	JitterEnabled           bool
	JitterRange             time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool

	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

/*
====================================
REGISTRATION CONFIG
====================================
*/

// RegistrationConfig selects what Register returns. With
// RequireConfirmation a confirmation code is mailed and no session is
// issued until ConfirmEmail.
type RegistrationConfig struct {
	RequireConfirmation bool
	SendWelcome         bool
	ConfirmationTTL     time.Duration
	ConfirmationPrefix  string
}

/*
====================================
RECOVERY CONFIG
====================================
*/

type RecoveryConfig struct {
	RedisPrefix     string
	OTPDigits       int
	OTPTTL          time.Duration
	ResetSessionTTL time.Duration
	// ExpiryGrace keeps expired records in Redis long enough to answer
	// Expired instead of InvalidOrExpired.
	ExpiryGrace       time.Duration
	MaxVerifyAttempts int

	EnableEmailThrottle bool
	EnableIPThrottle    bool
	MaxRequests         int
	RequestWindow       time.Duration

	EnumerationDelayMin time.Duration
	EnumerationDelayMax time.Duration
}

/*
====================================
LOGIN CONFIG
====================================
*/

type LoginConfig struct {
	EnableIPThrottle      bool
	MaxFailures           int
	FailureWindow         time.Duration
	EnableRefreshThrottle bool
	MaxRefreshAttempts    int
	RefreshWindow         time.Duration
}

/*
====================================
UPSTREAM CONFIG
====================================
*/

// UpstreamConfig bounds every call to the identity store, the profile store
// and the notification dispatcher.
type UpstreamConfig struct {
	Timeout   time.Duration
	Retries   uint64
	BaseDelay time.Duration
	MaxJitter time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults. JWT keys are left empty
// and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     5 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "goidentity",
		},
		Session: SessionConfig{
			RedisPrefix:             "as",
			Lifetime:                7 * 24 * time.Hour,
			SlidingExpiration:       true,
			AbsoluteSessionLifetime: 30 * 24 * time.Hour,
			JitterEnabled:           true,
			JitterRange:             30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
			MinLength:      8,
			MaxLength:      128,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			RequireSpecial: true,
		},
		Registration: RegistrationConfig{
			RequireConfirmation: false,
			SendWelcome:         true,
			ConfirmationTTL:     24 * time.Hour,
			ConfirmationPrefix:  "cc",
		},
		Recovery: RecoveryConfig{
			RedisPrefix:         "rr",
			OTPDigits:           6,
			OTPTTL:              10 * time.Minute,
			ResetSessionTTL:     5 * time.Minute,
			ExpiryGrace:         10 * time.Minute,
			MaxVerifyAttempts:   5,
			EnableEmailThrottle: true,
			EnableIPThrottle:    true,
			MaxRequests:         5,
			RequestWindow:       15 * time.Minute,
			EnumerationDelayMin: 20 * time.Millisecond,
			EnumerationDelayMax: 40 * time.Millisecond,
		},
		Login: LoginConfig{
			EnableIPThrottle:      true,
			MaxFailures:           10,
			FailureWindow:         15 * time.Minute,
			EnableRefreshThrottle: true,
			MaxRefreshAttempts:    30,
			RefreshWindow:         time.Minute,
		},
		Upstream: UpstreamConfig{
			Timeout:   5 * time.Second,
			Retries:   1,
			BaseDelay: 100 * time.Millisecond,
			MaxJitter: 25 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first setting that would make the Engine unsafe or
// unusable.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}
	if c.Session.AbsoluteSessionLifetime < c.Session.Lifetime {
		return errors.New("Session AbsoluteSessionLifetime must be >= Lifetime")
	}
	if c.Session.JitterRange < 0 {
		return errors.New("Session JitterRange must be >= 0")
	}
	if c.Session.JitterEnabled && c.Session.JitterRange <= 0 {
		return errors.New("Session JitterRange must be > 0 when JitterEnabled is true")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Registration
	if c.Registration.RequireConfirmation && c.Registration.ConfirmationTTL <= 0 {
		return errors.New("Registration ConfirmationTTL must be > 0 when confirmation is required")
	}

	// Recovery
	if c.Recovery.OTPDigits < 6 || c.Recovery.OTPDigits > 10 {
		return errors.New("Recovery OTPDigits must be between 6 and 10")
	}
	if c.Recovery.OTPTTL <= 0 {
		return errors.New("Recovery OTPTTL must be > 0")
	}
	if c.Recovery.ResetSessionTTL <= 0 {
		return errors.New("Recovery ResetSessionTTL must be > 0")
	}
	if c.Recovery.ExpiryGrace < 0 {
		return errors.New("Recovery ExpiryGrace must be >= 0")
	}
	if c.Recovery.MaxVerifyAttempts <= 0 {
		return errors.New("Recovery MaxVerifyAttempts must be > 0")
	}
	if (c.Recovery.EnableEmailThrottle || c.Recovery.EnableIPThrottle) &&
		(c.Recovery.MaxRequests <= 0 || c.Recovery.RequestWindow <= 0) {
		return errors.New("Recovery MaxRequests and RequestWindow must be > 0 when throttling is enabled")
	}
	if c.Recovery.EnumerationDelayMin < 0 || c.Recovery.EnumerationDelayMax < c.Recovery.EnumerationDelayMin {
		return fmt.Errorf("Recovery enumeration delay range [%s, %s] is invalid",
			c.Recovery.EnumerationDelayMin, c.Recovery.EnumerationDelayMax)
	}

	// Login
	if c.Login.MaxFailures <= 0 || c.Login.FailureWindow <= 0 {
		return errors.New("Login MaxFailures and FailureWindow must be > 0")
	}
	if c.Login.EnableRefreshThrottle && (c.Login.MaxRefreshAttempts <= 0 || c.Login.RefreshWindow <= 0) {
		return errors.New("Login MaxRefreshAttempts and RefreshWindow must be > 0 when refresh throttling is enabled")
	}

	// Upstream
	if c.Upstream.Timeout <= 0 {
		return errors.New("Upstream Timeout must be > 0")
	}
	if c.Upstream.Retries > 3 {
		return errors.New("Upstream Retries must be <= 3")
	}
	if c.Upstream.BaseDelay < 0 || c.Upstream.MaxJitter < 0 {
		return errors.New("Upstream BaseDelay and MaxJitter must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
