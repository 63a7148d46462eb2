package flows

import (
	"context"
	"log/slog"
	"time"
)

// Hooks is the observability and environment plumbing every flow receives
// from the Engine. Unset fields are replaced with no-ops.
type Hooks struct {
	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string
	MetricInc           func(int)
	MetricObserve       func(int, time.Duration)
	EmitAudit           func(ctx context.Context, event string, success bool, identityID, sessionID string, err error, metadata func() map[string]string)
	Logger              *slog.Logger
}

func (h *Hooks) normalize() {
	if h.Now == nil {
		h.Now = time.Now
	}
	if h.ClientIPFromContext == nil {
		h.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if h.MetricInc == nil {
		h.MetricInc = func(int) {}
	}
	if h.MetricObserve == nil {
		h.MetricObserve = func(int, time.Duration) {}
	}
	if h.EmitAudit == nil {
		h.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
}

// IdentityRecord is the flow-local view of an identity.
type IdentityRecord struct {
	ID             string
	Email          string
	CredentialHash string
	Confirmed      bool
}

// SessionTokens is what a successful sign-in hands back to the caller.
type SessionTokens struct {
	SessionID       string
	IdentityID      string
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
}

// Notifier sends one templated message. Template names are resolved by the
// Engine.
type Notifier func(ctx context.Context, email, template string, payload map[string]string) error
