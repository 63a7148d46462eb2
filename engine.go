package goIdentity

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goIdentity/internal"
	internalaudit "github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/internal/logging"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/internal/upstream"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/session"
)

// Engine runs registration, credential recovery and session handling. It is
// safe for concurrent use once built.
type Engine struct {
	config Config
	logger *slog.Logger

	sessionStore    *session.Store
	recoveryStore   *stores.RecoveryStore
	confirmStore    *stores.ConfirmationStore
	rateLimiter     *rate.Limiter
	recoveryLimiter *limiters.RecoveryLimiter

	identities IdentityStore
	profiles   ProfileStore
	notifier   NotificationDispatcher
	upstream   upstream.Policy

	passwordHash *password.Argon2
	policy       password.Policy
	dummyHash    string
	jwtManager   *jwt.Manager

	audit   *internalaudit.Dispatcher
	metrics *Metrics

	// now is replaced in tests.
	now func() time.Time
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports events discarded because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDelivered reports events handed to the sink. Together with
// AuditDropped it accounts for every emitted event once the engine is closed.
func (e *Engine) AuditDelivered() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Delivered()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// Ping checks the Redis connection backing sessions and recovery state.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}
	_, err := e.sessionStore.Ping(ctx)
	return err
}

// ActiveSessionCount is an estimate kept by the session store.
func (e *Engine) ActiveSessionCount(ctx context.Context) (int, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}
	return e.sessionStore.ActiveCount(ctx)
}

// GetProfile returns the profile owned by identityID.
func (e *Engine) GetProfile(ctx context.Context, identityID string) (Profile, error) {
	if e == nil || e.profiles == nil {
		return Profile{}, ErrEngineNotReady
	}
	profile, err := callUpstream(ctx, e, "profile.get_by_identity", func(ctx context.Context) (Profile, error) {
		return e.profiles.GetProfileByIdentityID(ctx, identityID)
	})
	if err != nil {
		if upstream.IsUnavailable(err) {
			return Profile{}, ErrUpstreamUnavailable
		}
		return Profile{}, err
	}
	return profile, nil
}

func (e *Engine) ready() bool {
	return e != nil &&
		e.sessionStore != nil &&
		e.identities != nil &&
		e.profiles != nil &&
		e.notifier != nil &&
		e.passwordHash != nil &&
		e.jwtManager != nil
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

func (e *Engine) hooks() flows.Hooks {
	return flows.Hooks{
		Now:                 e.clock,
		ClientIPFromContext: ClientIPFromContext,
		MetricInc:           func(id int) { e.metricInc(MetricID(id)) },
		MetricObserve:       func(id int, d time.Duration) { e.metricObserve(MetricID(id), d) },
		EmitAudit:           e.emitAudit,
		Logger:              e.logger,
	}
}

// callUpstream runs fn under the collaborator policy and logs the final
// failure once the retry budget is spent.
func callUpstream[T any](ctx context.Context, e *Engine, op string, fn func(context.Context) (T, error)) (T, error) {
	out, err := upstream.Call(ctx, e.upstream, op, fn)
	if err != nil && upstream.IsUnavailable(err) {
		logging.LogError(ctx, e.logger, "collaborator call failed", err, "op", op)
	}
	return out, err
}

func doUpstream(ctx context.Context, e *Engine, op string, fn func(context.Context) error) error {
	_, err := callUpstream(ctx, e, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// createIdentity picks the id before the first attempt so a retry after an
// ambiguous failure replays the same row instead of colliding with it.
func (e *Engine) createIdentity(ctx context.Context, email, credentialHash string) (flows.IdentityRecord, error) {
	id := uuid.NewString()
	identity, err := callUpstream(ctx, e, "identity.create", func(ctx context.Context) (Identity, error) {
		return e.identities.CreateIdentity(ctx, id, email, credentialHash)
	})
	if err != nil {
		return flows.IdentityRecord{}, err
	}
	return identityRecord(identity), nil
}

func (e *Engine) deleteIdentity(ctx context.Context, identityID string) error {
	return doUpstream(ctx, e, "identity.delete", func(ctx context.Context) error {
		return e.identities.DeleteIdentity(ctx, identityID)
	})
}

func (e *Engine) identityByEmail(ctx context.Context, email string) (flows.IdentityRecord, error) {
	identity, err := callUpstream(ctx, e, "identity.get_by_email", func(ctx context.Context) (Identity, error) {
		return e.identities.GetIdentityByEmail(ctx, email)
	})
	if err != nil {
		return flows.IdentityRecord{}, err
	}
	return identityRecord(identity), nil
}

func (e *Engine) identityByID(ctx context.Context, identityID string) (flows.IdentityRecord, error) {
	identity, err := callUpstream(ctx, e, "identity.get_by_id", func(ctx context.Context) (Identity, error) {
		return e.identities.GetIdentityByID(ctx, identityID)
	})
	if err != nil {
		return flows.IdentityRecord{}, err
	}
	return identityRecord(identity), nil
}

func (e *Engine) updateCredential(ctx context.Context, identityID, credentialHash string) error {
	return doUpstream(ctx, e, "identity.update_credential", func(ctx context.Context) error {
		return e.identities.UpdateCredential(ctx, identityID, credentialHash)
	})
}

func (e *Engine) markConfirmed(ctx context.Context, identityID string) error {
	return doUpstream(ctx, e, "identity.mark_confirmed", func(ctx context.Context) error {
		return e.identities.MarkConfirmed(ctx, identityID)
	})
}

func (e *Engine) insertProfile(ctx context.Context, identityID, email string, fields flows.ProfileFields) error {
	return doUpstream(ctx, e, "profile.insert", func(ctx context.Context) error {
		return e.profiles.InsertProfile(ctx, identityID, email, ProfileFields(fields))
	})
}

// lookupIdentity resolves an email to its identity through the profile
// index.
func (e *Engine) lookupIdentity(ctx context.Context, email string) (string, error) {
	profile, err := callUpstream(ctx, e, "profile.get_by_email", func(ctx context.Context) (Profile, error) {
		return e.profiles.GetProfileByEmail(ctx, email)
	})
	if err != nil {
		return "", err
	}
	return profile.IdentityID, nil
}

func (e *Engine) notify(ctx context.Context, email, template string, payload map[string]string) error {
	return doUpstream(ctx, e, "notify."+template, func(ctx context.Context) error {
		return e.notifier.Send(ctx, email, TemplateKind(template), payload)
	})
}

func (e *Engine) invalidateSessions(ctx context.Context, identityID string) error {
	return doUpstream(ctx, e, "session.invalidate_all", func(ctx context.Context) error {
		return e.sessionStore.DeleteAllForIdentity(ctx, identityID)
	})
}

func (e *Engine) issueDeps() flows.IssueDeps {
	return flows.IssueDeps{
		Hooks:      e.hooks(),
		SessionTTL: e.config.Session.Lifetime,
		NewSessionID: func() (string, error) {
			sid, err := internal.NewSessionID()
			if err != nil {
				return "", err
			}
			return sid.String(), nil
		},
		NewRefreshSecret:    internal.NewRefreshSecret,
		HashRefreshSecret:   internal.HashRefreshSecret,
		EncodeRefreshToken:  internal.EncodeRefreshToken,
		SaveSession:         e.sessionStore.Save,
		CreateAccess:        e.jwtManager.CreateAccess,
		MetricSessionIssued: int(MetricSessionCreated),
	}
}

func (e *Engine) issueSession(ctx context.Context, identityID, email string) (*flows.SessionTokens, error) {
	return flows.IssueSession(ctx, identityID, email, e.issueDeps())
}

func (e *Engine) hashPassword(candidate string) (string, error) {
	return e.passwordHash.Hash(candidate)
}

func identityRecord(identity Identity) flows.IdentityRecord {
	return flows.IdentityRecord{
		ID:             identity.ID,
		Email:          identity.Email,
		CredentialHash: identity.CredentialHash,
		Confirmed:      identity.Confirmed,
	}
}

func toSession(tokens *flows.SessionTokens) *Session {
	if tokens == nil {
		return nil
	}
	return &Session{
		SessionID:       tokens.SessionID,
		IdentityID:      tokens.IdentityID,
		AccessToken:     tokens.AccessToken,
		RefreshToken:    tokens.RefreshToken,
		AccessExpiresAt: tokens.AccessExpiresAt,
		ExpiresAt:       tokens.ExpiresAt,
	}
}
