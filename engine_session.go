package goIdentity

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/session"
)

// Login authenticates email and password and issues a session. Unknown
// emails and wrong passwords both return ErrInvalidCredentials. When
// confirmation is required, an unconfirmed identity with the right password
// gets ErrEmailNotConfirmed.
func (e *Engine) Login(ctx context.Context, email, password string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	tokens, err := flows.RunLogin(ctx, email, password, flows.LoginDeps{
		Hooks:                  e.hooks(),
		RequireConfirmation:    e.config.Registration.RequireConfirmation,
		PasswordUpgradeOnLogin: e.config.Password.UpgradeOnLogin,
		DummyHash:              e.dummyHash,
		CheckLoginRate:         e.checkLoginRate,
		IncrementLoginRate:     e.incrementLoginRate,
		ResetLoginRate:         e.resetLoginRate,
		IsRateLimited: func(err error) bool {
			return errors.Is(err, rate.ErrRateLimited)
		},
		GetIdentityByEmail: e.identityByEmail,
		UpdateCredential:   e.updateCredential,
		IsIdentityNotFound: func(err error) bool {
			return errors.Is(err, ErrIdentityNotFound)
		},
		VerifyPassword:       e.passwordHash.Verify,
		PasswordNeedsUpgrade: e.passwordHash.NeedsUpgrade,
		HashPassword:         e.hashPassword,
		IssueSession:         e.issueSession,
		Metrics: flows.LoginMetrics{
			LoginSuccess:     int(MetricLoginSuccess),
			LoginFailure:     int(MetricLoginFailure),
			LoginRateLimited: int(MetricLoginRateLimited),
		},
		Events: flows.LoginEvents{
			LoginSuccess:     auditEventLoginSuccess,
			LoginFailure:     auditEventLoginFailure,
			LoginRateLimited: auditEventLoginRateLimited,
		},
		Errors: flows.LoginErrors{
			EngineNotReady:      ErrEngineNotReady,
			InvalidCredentials:  ErrInvalidCredentials,
			EmailNotConfirmed:   ErrEmailNotConfirmed,
			LoginRateLimited:    ErrLoginRateLimited,
			UpstreamUnavailable: ErrUpstreamUnavailable,
		},
	})
	if err != nil {
		return nil, err
	}
	return toSession(tokens), nil
}

// Refresh rotates the refresh secret and returns a new token pair. Replaying
// an already rotated refresh token revokes the session and returns
// ErrRefreshReuse.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	result := flows.RunRefresh(ctx, refreshToken, flows.RefreshDeps{
		DecodeRefreshToken: internal.DecodeRefreshToken,
		NewRefreshSecret:   internal.NewRefreshSecret,
		HashRefreshSecret:  internal.HashRefreshSecret,
		EncodeRefreshToken: internal.EncodeRefreshToken,
		CheckRefreshRate: func(ctx context.Context, sessionID string) error {
			if e.rateLimiter == nil {
				return nil
			}
			return e.rateLimiter.CheckRefresh(ctx, sessionID)
		},
		RotateRefreshHash: e.sessionStore.RotateRefreshHash,
		CreateAccess:      e.jwtManager.CreateAccess,
		IsReuse: func(err error) bool {
			return errors.Is(err, session.ErrRefreshHashMismatch)
		},
		IsNotFound: func(err error) bool {
			return errors.Is(err, session.ErrSessionNotFound)
		},
	})

	switch result.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, result.IdentityID, result.SessionID, nil, nil)
		return toSession(result.Tokens), nil
	case flows.RefreshFailureRateLimited:
		if errors.Is(result.Err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, "", result.SessionID, ErrRefreshRateLimited, nil)
			return nil, ErrRefreshRateLimited
		}
		e.logger.WarnContext(ctx, "refresh limiter unavailable", "error", result.Err)
		return nil, ErrUpstreamUnavailable
	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricSessionInvalidated)
		e.emitAudit(ctx, auditEventRefreshReuse, false, "", result.SessionID, ErrRefreshReuse, nil)
		return nil, ErrRefreshReuse
	case flows.RefreshFailureDecode, flows.RefreshFailureSessionNotFound:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, result.IdentityID, result.SessionID, ErrSessionInvalid, nil)
		return nil, ErrSessionInvalid
	default:
		e.metricInc(MetricRefreshFailure)
		e.logger.ErrorContext(ctx, "refresh failed", "session_id", result.SessionID, "error", result.Err)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, result.IdentityID, result.SessionID, ErrUpstreamUnavailable, nil)
		return nil, ErrUpstreamUnavailable
	}
}

// Logout deletes one session. Logging out of a session that is already
// gone succeeds.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if sessionID == "" {
		return ErrSessionInvalid
	}

	if err := flows.RunLogout(ctx, sessionID, e.logoutDeps()); err != nil {
		e.logger.ErrorContext(ctx, "logout failed", "session_id", sessionID, "error", err)
		return ErrUpstreamUnavailable
	}
	return nil
}

// InvalidateAllSessions revokes every session of identityID.
func (e *Engine) InvalidateAllSessions(ctx context.Context, identityID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if identityID == "" {
		return ErrSessionInvalid
	}

	if err := flows.RunLogoutAll(ctx, identityID, e.logoutDeps()); err != nil {
		return ErrUpstreamUnavailable
	}
	e.metricInc(MetricSessionInvalidated)
	return nil
}

// ValidateSession checks an access token and requires its server-side
// session to still exist. A token for a revoked session is rejected even
// before it expires.
func (e *Engine) ValidateSession(ctx context.Context, accessToken string) (*SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	if e.metrics.LatencyEnabled() {
		start := e.clock()
		defer func() {
			e.metricObserve(MetricValidateLatency, e.clock().Sub(start))
		}()
	}

	result := flows.RunValidate(ctx, accessToken, flows.ValidateDeps{
		ParseAccess:      e.jwtManager.ParseAccess,
		GetSession:       e.sessionStore.Get,
		AbsoluteLifetime: e.config.Session.AbsoluteSessionLifetime,
		IsNotFound: func(err error) bool {
			return errors.Is(err, session.ErrSessionNotFound)
		},
	})

	switch result.Failure {
	case flows.ValidateFailureNone:
	case flows.ValidateFailureUnavailable:
		e.logger.ErrorContext(ctx, "session lookup failed", "error", result.Err)
		return nil, ErrUpstreamUnavailable
	default:
		return nil, ErrSessionInvalid
	}

	sess := result.Session
	return &SessionInfo{
		SessionID:  sess.SessionID,
		IdentityID: sess.IdentityID,
		Email:      sess.Email,
		CreatedAt:  time.Unix(sess.CreatedAt, 0),
		ExpiresAt:  time.Unix(sess.ExpiresAt, 0),
	}, nil
}

func (e *Engine) logoutDeps() flows.LogoutDeps {
	return flows.LogoutDeps{
		Hooks:             e.hooks(),
		DeleteSession:     e.sessionStore.Delete,
		DeleteAllSessions: e.invalidateSessions,
		EventLogout:       auditEventLogoutSession,
		EventLogoutAll:    auditEventLogoutAll,
		MetricLogout:      int(MetricLogout),
		MetricLogoutAll:   int(MetricLogoutAll),
	}
}

func (e *Engine) checkLoginRate(ctx context.Context, email, ip string) error {
	if e.rateLimiter == nil {
		return nil
	}
	return e.rateLimiter.CheckLogin(ctx, email, ip)
}

func (e *Engine) incrementLoginRate(ctx context.Context, email, ip string) error {
	if e.rateLimiter == nil {
		return nil
	}
	return e.rateLimiter.IncrementLogin(ctx, email, ip)
}

func (e *Engine) resetLoginRate(ctx context.Context, email, ip string) error {
	if e.rateLimiter == nil {
		return nil
	}
	return e.rateLimiter.ResetLogin(ctx, email, ip)
}
