package flows

import (
	"context"
	"fmt"
	"time"
)

// RegisterRequest is the flow-local registration input.
type RegisterRequest struct {
	Email    string
	Password string
	Profile  ProfileFields
}

// RegisterOutcome reports how registration finished. Session is nil when
// confirmation is pending or when auto sign-in failed after the account was
// created.
type RegisterOutcome struct {
	IdentityID          string
	PendingConfirmation bool
	Session             *SessionTokens
}

// RegisterMetrics carries metric IDs used by the registration flow.
type RegisterMetrics struct {
	RegisterSuccess     int
	RegisterDuplicate   int
	RegisterCompensated int
	RegisterOrphan      int
	NotificationFailure int
}

// RegisterEvents carries audit event names used by the registration flow.
type RegisterEvents struct {
	RegisterSuccess     string
	RegisterFailure     string
	RegisterDuplicate   string
	RegisterCompensated string
	RegisterOrphan      string
}

// RegisterErrors carries host-level sentinel errors used by the registration flow.
type RegisterErrors struct {
	EngineNotReady        error
	InvalidEmail          error
	WeakCredential        error
	ProfileInvalid        error
	DuplicateEmail        error
	ProfileCreationFailed error
	UpstreamUnavailable   error
}

// RegisterTemplates names the notification templates sent on signup.
type RegisterTemplates struct {
	Welcome      string
	ConfirmEmail string
}

// RegisterDeps captures registration saga dependencies.
type RegisterDeps struct {
	Hooks

	RequireConfirmation bool
	SendWelcome         bool
	ConfirmationTTL     time.Duration

	CheckPasswordPolicy func(string) error
	HashPassword        func(string) (string, error)

	CreateIdentity     func(ctx context.Context, email, credentialHash string) (IdentityRecord, error)
	DeleteIdentity     func(ctx context.Context, identityID string) error
	InsertProfile      func(ctx context.Context, identityID, email string, fields ProfileFields) error
	IsIdentityConflict func(error) bool

	NewConfirmationCode func() (string, error)
	HashSecret          func(string) [32]byte
	SaveConfirmation    func(ctx context.Context, codeHash [32]byte, identityID string, ttl time.Duration) error

	Notify       Notifier
	IssueSession func(ctx context.Context, identityID, email string) (*SessionTokens, error)

	Templates RegisterTemplates
	Metrics   RegisterMetrics
	Events    RegisterEvents
	Errors    RegisterErrors
}

func normalizeRegisterDeps(deps *RegisterDeps) {
	deps.Hooks.normalize()
	if deps.IsIdentityConflict == nil {
		deps.IsIdentityConflict = func(error) bool { return false }
	}
	if deps.CheckPasswordPolicy == nil {
		deps.CheckPasswordPolicy = func(string) error { return nil }
	}
	if deps.Notify == nil {
		deps.Notify = func(context.Context, string, string, map[string]string) error { return nil }
	}
}

// RunRegister creates an identity and its profile as one logical unit. A
// failed profile insert deletes the identity again; when that delete also
// fails the identity is reported as an orphan for operators.
func RunRegister(ctx context.Context, req RegisterRequest, deps RegisterDeps) (*RegisterOutcome, error) {
	normalizeRegisterDeps(&deps)
	if deps.HashPassword == nil ||
		deps.CreateIdentity == nil ||
		deps.DeleteIdentity == nil ||
		deps.InsertProfile == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if deps.RequireConfirmation && (deps.NewConfirmationCode == nil || deps.HashSecret == nil || deps.SaveConfirmation == nil) {
		return nil, deps.Errors.EngineNotReady
	}
	if !deps.RequireConfirmation && deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email := NormalizeEmail(req.Email)
	if !ValidEmail(email) {
		return nil, deps.Errors.InvalidEmail
	}
	if err := deps.CheckPasswordPolicy(req.Password); err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.WeakCredential, err)
	}
	fields, err := ValidateProfile(req.Profile, deps.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.ProfileInvalid, err)
	}

	hash, err := deps.HashPassword(req.Password)
	if err != nil {
		deps.Logger.ErrorContext(ctx, "password hash failed", "error", err)
		return nil, deps.Errors.UpstreamUnavailable
	}

	identity, err := deps.CreateIdentity(ctx, email, hash)
	if err != nil {
		if deps.IsIdentityConflict(err) {
			deps.MetricInc(deps.Metrics.RegisterDuplicate)
			deps.EmitAudit(ctx, deps.Events.RegisterDuplicate, false, "", "", deps.Errors.DuplicateEmail, func() map[string]string {
				return map[string]string{"email": email}
			})
			return nil, deps.Errors.DuplicateEmail
		}
		deps.Logger.ErrorContext(ctx, "identity create failed", "error", err)
		deps.EmitAudit(ctx, deps.Events.RegisterFailure, false, "", "", err, func() map[string]string {
			return map[string]string{
				"email": email,
				"stage": "identity",
			}
		})
		return nil, deps.Errors.UpstreamUnavailable
	}

	if err := deps.InsertProfile(ctx, identity.ID, email, fields); err != nil {
		compensate(ctx, identity.ID, email, err, &deps)
		return nil, deps.Errors.ProfileCreationFailed
	}

	outcome := &RegisterOutcome{IdentityID: identity.ID}

	if deps.SendWelcome && deps.Templates.Welcome != "" {
		dispatch(ctx, &deps.Hooks, deps.Notify, email, deps.Templates.Welcome, map[string]string{
			"first_name": fields.FirstName,
		}, deps.Metrics.NotificationFailure)
	}

	if deps.RequireConfirmation {
		outcome.PendingConfirmation = true
		sendConfirmation(ctx, identity.ID, email, &deps)
		deps.MetricInc(deps.Metrics.RegisterSuccess)
		deps.EmitAudit(ctx, deps.Events.RegisterSuccess, true, identity.ID, "", nil, func() map[string]string {
			return map[string]string{"pending_confirmation": "true"}
		})
		return outcome, nil
	}

	tokens, err := deps.IssueSession(ctx, identity.ID, email)
	if err != nil {
		// The account exists; the caller falls back to a normal sign-in.
		deps.Logger.WarnContext(ctx, "auto sign-in after registration failed", "identity_id", identity.ID, "error", err)
	} else {
		outcome.Session = tokens
	}

	deps.MetricInc(deps.Metrics.RegisterSuccess)
	deps.EmitAudit(ctx, deps.Events.RegisterSuccess, true, identity.ID, sessionIDOf(tokens), nil, nil)
	return outcome, nil
}

func compensate(ctx context.Context, identityID, email string, cause error, deps *RegisterDeps) {
	deps.Logger.WarnContext(ctx, "profile insert failed, deleting identity",
		"identity_id", identityID,
		"error", cause,
	)

	// The compensating delete must run even if the request was cancelled.
	cleanupCtx := context.WithoutCancel(ctx)
	if err := deps.DeleteIdentity(cleanupCtx, identityID); err != nil {
		deps.Logger.ErrorContext(ctx, "identity left without profile",
			"orphan", true,
			"identity_id", identityID,
			"email", email,
			"cause", cause,
			"error", err,
		)
		deps.MetricInc(deps.Metrics.RegisterOrphan)
		deps.EmitAudit(ctx, deps.Events.RegisterOrphan, false, identityID, "", err, func() map[string]string {
			return map[string]string{
				"email":  email,
				"orphan": "true",
			}
		})
		return
	}

	deps.MetricInc(deps.Metrics.RegisterCompensated)
	deps.EmitAudit(ctx, deps.Events.RegisterCompensated, false, identityID, "", cause, func() map[string]string {
		return map[string]string{"email": email}
	})
}

func sendConfirmation(ctx context.Context, identityID, email string, deps *RegisterDeps) {
	code, err := deps.NewConfirmationCode()
	if err != nil {
		deps.Logger.ErrorContext(ctx, "confirmation code generation failed", "identity_id", identityID, "error", err)
		return
	}
	if err := deps.SaveConfirmation(ctx, deps.HashSecret(code), identityID, deps.ConfirmationTTL); err != nil {
		deps.Logger.ErrorContext(ctx, "confirmation code save failed", "identity_id", identityID, "error", err)
		return
	}
	dispatch(ctx, &deps.Hooks, deps.Notify, email, deps.Templates.ConfirmEmail, map[string]string{
		"code": code,
	}, deps.Metrics.NotificationFailure)
}

// dispatch sends a notification and only logs a failure.
func dispatch(ctx context.Context, hooks *Hooks, notify Notifier, email, template string, payload map[string]string, failureMetric int) bool {
	if err := notify(ctx, email, template, payload); err != nil {
		hooks.MetricInc(failureMetric)
		hooks.Logger.WarnContext(ctx, "notification dispatch failed",
			"template", template,
			"error", err,
		)
		return false
	}
	return true
}

func sessionIDOf(tokens *SessionTokens) string {
	if tokens == nil {
		return ""
	}
	return tokens.SessionID
}
