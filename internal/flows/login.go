package flows

import "context"

// LoginMetrics carries metric IDs used by the login flow.
type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
}

// LoginEvents carries audit event names used by the login flow.
type LoginEvents struct {
	LoginSuccess     string
	LoginFailure     string
	LoginRateLimited string
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady      error
	InvalidCredentials  error
	EmailNotConfirmed   error
	LoginRateLimited    error
	UpstreamUnavailable error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Hooks

	RequireConfirmation    bool
	PasswordUpgradeOnLogin bool
	// DummyHash is verified against when the email is unknown so both paths
	// spend an argon2 computation.
	DummyHash string

	CheckLoginRate     func(ctx context.Context, email, ip string) error
	IncrementLoginRate func(ctx context.Context, email, ip string) error
	ResetLoginRate     func(ctx context.Context, email, ip string) error
	IsRateLimited      func(error) bool

	GetIdentityByEmail   func(ctx context.Context, email string) (IdentityRecord, error)
	UpdateCredential     func(ctx context.Context, identityID, credentialHash string) error
	IsIdentityNotFound   func(error) bool
	VerifyPassword       func(password, encodedHash string) (bool, error)
	PasswordNeedsUpgrade func(encodedHash string) (bool, error)
	HashPassword         func(password string) (string, error)
	IssueSession         func(ctx context.Context, identityID, email string) (*SessionTokens, error)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

func normalizeLoginDeps(deps *LoginDeps) {
	deps.Hooks.normalize()
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.IsIdentityNotFound == nil {
		deps.IsIdentityNotFound = func(error) bool { return false }
	}
}

// RunLogin authenticates an email and password and issues a session. Every
// credential failure collapses into InvalidCredentials and is counted by
// the login limiter.
func RunLogin(ctx context.Context, email, password string, deps LoginDeps) (*SessionTokens, error) {
	normalizeLoginDeps(&deps)
	if deps.GetIdentityByEmail == nil ||
		deps.VerifyPassword == nil ||
		deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email = NormalizeEmail(email)
	ip := deps.ClientIPFromContext(ctx)

	if deps.CheckLoginRate != nil {
		if err := deps.CheckLoginRate(ctx, email, ip); err != nil {
			if deps.IsRateLimited(err) {
				deps.MetricInc(deps.Metrics.LoginRateLimited)
				deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, "", "", deps.Errors.LoginRateLimited, func() map[string]string {
					return map[string]string{"email": email}
				})
				return nil, deps.Errors.LoginRateLimited
			}
			deps.Logger.WarnContext(ctx, "login limiter unavailable", "error", err)
			return nil, deps.Errors.UpstreamUnavailable
		}
	}

	fail := func(identityID, reason string) (*SessionTokens, error) {
		if deps.IncrementLoginRate != nil {
			if err := deps.IncrementLoginRate(ctx, email, ip); err != nil && !deps.IsRateLimited(err) {
				deps.Logger.WarnContext(ctx, "login limiter increment failed", "error", err)
			}
		}
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, identityID, "", deps.Errors.InvalidCredentials, func() map[string]string {
			return map[string]string{
				"email":  email,
				"reason": reason,
			}
		})
		return nil, deps.Errors.InvalidCredentials
	}

	if email == "" || password == "" {
		return fail("", "empty_credentials")
	}

	identity, err := deps.GetIdentityByEmail(ctx, email)
	if err != nil {
		if deps.IsIdentityNotFound(err) {
			if deps.DummyHash != "" {
				_, _ = deps.VerifyPassword(password, deps.DummyHash)
			}
			return fail("", "identity_not_found")
		}
		deps.Logger.ErrorContext(ctx, "identity lookup failed", "error", err)
		return nil, deps.Errors.UpstreamUnavailable
	}

	ok, err := deps.VerifyPassword(password, identity.CredentialHash)
	if err != nil || !ok {
		return fail(identity.ID, "password_mismatch")
	}

	if deps.RequireConfirmation && !identity.Confirmed {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, identity.ID, "", deps.Errors.EmailNotConfirmed, func() map[string]string {
			return map[string]string{
				"email":  email,
				"reason": "email_not_confirmed",
			}
		})
		return nil, deps.Errors.EmailNotConfirmed
	}

	if deps.PasswordUpgradeOnLogin && deps.PasswordNeedsUpgrade != nil && deps.HashPassword != nil && deps.UpdateCredential != nil {
		if needsUpgrade, err := deps.PasswordNeedsUpgrade(identity.CredentialHash); err == nil && needsUpgrade {
			if upgraded, err := deps.HashPassword(password); err == nil {
				if err := deps.UpdateCredential(ctx, identity.ID, upgraded); err != nil {
					deps.Logger.WarnContext(ctx, "password hash upgrade update failed", "identity_id", identity.ID, "error", err)
				}
			} else {
				deps.Logger.WarnContext(ctx, "password hash upgrade generation failed", "error", err)
			}
		}
	}
	password = ""

	if deps.ResetLoginRate != nil {
		if err := deps.ResetLoginRate(ctx, email, ip); err != nil {
			deps.Logger.WarnContext(ctx, "login limiter reset failed", "error", err)
		}
	}

	tokens, err := deps.IssueSession(ctx, identity.ID, identity.Email)
	if err != nil {
		deps.Logger.ErrorContext(ctx, "session issue failed", "identity_id", identity.ID, "error", err)
		return nil, deps.Errors.UpstreamUnavailable
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, identity.ID, tokens.SessionID, nil, nil)
	return tokens, nil
}
