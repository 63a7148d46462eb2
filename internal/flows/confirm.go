package flows

import (
	"context"
	"strings"
)

type ConfirmEvents struct {
	ConfirmSuccess string
	ConfirmFailure string
}

type ConfirmErrors struct {
	EngineNotReady      error
	ConfirmationInvalid error
	UpstreamUnavailable error
}

// ConfirmDeps captures email confirmation dependencies.
type ConfirmDeps struct {
	Hooks

	HashSecret          func(string) [32]byte
	ConsumeConfirmation func(ctx context.Context, codeHash [32]byte) (string, error)
	IsCodeNotFound      func(error) bool
	MarkConfirmed       func(ctx context.Context, identityID string) error
	GetIdentityByID     func(ctx context.Context, identityID string) (IdentityRecord, error)
	IssueSession        func(ctx context.Context, identityID, email string) (*SessionTokens, error)

	MetricConfirmed int
	Events          ConfirmEvents
	Errors          ConfirmErrors
}

// RunConfirmEmail exchanges a mailed confirmation code for a session. The
// code is removed before the identity is touched, so it works once.
func RunConfirmEmail(ctx context.Context, code string, deps ConfirmDeps) (*SessionTokens, error) {
	deps.Hooks.normalize()
	if deps.IsCodeNotFound == nil {
		deps.IsCodeNotFound = func(error) bool { return false }
	}
	if deps.HashSecret == nil ||
		deps.ConsumeConfirmation == nil ||
		deps.MarkConfirmed == nil ||
		deps.GetIdentityByID == nil ||
		deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, deps.Errors.ConfirmationInvalid
	}

	identityID, err := deps.ConsumeConfirmation(ctx, deps.HashSecret(code))
	if err != nil {
		if deps.IsCodeNotFound(err) {
			deps.EmitAudit(ctx, deps.Events.ConfirmFailure, false, "", "", deps.Errors.ConfirmationInvalid, nil)
			return nil, deps.Errors.ConfirmationInvalid
		}
		deps.Logger.ErrorContext(ctx, "confirmation lookup failed", "error", err)
		return nil, deps.Errors.UpstreamUnavailable
	}

	if err := deps.MarkConfirmed(ctx, identityID); err != nil {
		deps.Logger.ErrorContext(ctx, "mark confirmed failed", "identity_id", identityID, "error", err)
		deps.EmitAudit(ctx, deps.Events.ConfirmFailure, false, identityID, "", err, nil)
		return nil, deps.Errors.UpstreamUnavailable
	}

	identity, err := deps.GetIdentityByID(ctx, identityID)
	if err != nil {
		deps.Logger.ErrorContext(ctx, "identity lookup after confirmation failed", "identity_id", identityID, "error", err)
		return nil, deps.Errors.UpstreamUnavailable
	}

	tokens, err := deps.IssueSession(ctx, identity.ID, identity.Email)
	if err != nil {
		deps.Logger.ErrorContext(ctx, "session issue failed", "identity_id", identityID, "error", err)
		return nil, deps.Errors.UpstreamUnavailable
	}

	deps.MetricInc(deps.MetricConfirmed)
	deps.EmitAudit(ctx, deps.Events.ConfirmSuccess, true, identity.ID, tokens.SessionID, nil, nil)
	return tokens, nil
}
