package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goIdentity/session"
)

// IssueDeps captures what is needed to mint a new login session.
type IssueDeps struct {
	Hooks
	SessionTTL         time.Duration
	NewSessionID       func() (string, error)
	NewRefreshSecret   func() ([32]byte, error)
	HashRefreshSecret  func([32]byte) [32]byte
	EncodeRefreshToken func(string, [32]byte) (string, error)
	SaveSession        func(ctx context.Context, sess *session.Session, ttl time.Duration) error
	CreateAccess       func(identityID, sessionID string) (string, time.Time, error)

	MetricSessionIssued int
}

// IssueSession creates the server-side session record and the token pair
// handed to the client.
func IssueSession(ctx context.Context, identityID, email string, deps IssueDeps) (*SessionTokens, error) {
	deps.Hooks.normalize()

	sid, err := deps.NewSessionID()
	if err != nil {
		return nil, err
	}
	secret, err := deps.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := deps.Now()
	sess := &session.Session{
		SessionID:   sid,
		IdentityID:  identityID,
		Email:       email,
		RefreshHash: deps.HashRefreshSecret(secret),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(deps.SessionTTL).Unix(),
	}
	if err := deps.SaveSession(ctx, sess, deps.SessionTTL); err != nil {
		return nil, err
	}

	access, accessExp, err := deps.CreateAccess(identityID, sid)
	if err != nil {
		return nil, err
	}
	refresh, err := deps.EncodeRefreshToken(sid, secret)
	if err != nil {
		return nil, err
	}

	deps.MetricInc(deps.MetricSessionIssued)

	return &SessionTokens{
		SessionID:       sid,
		IdentityID:      identityID,
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresAt: accessExp,
		ExpiresAt:       time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// RefreshFailureKind classifies refresh failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureRateLimited
	RefreshFailureReuse
	RefreshFailureSessionNotFound
	RefreshFailureRotate
	RefreshFailureIssue
)

// RefreshResult carries either the rotated token pair or failure metadata.
type RefreshResult struct {
	Failure    RefreshFailureKind
	Err        error
	SessionID  string
	IdentityID string
	Tokens     *SessionTokens
}

// RefreshDeps captures refresh rotation dependencies.
type RefreshDeps struct {
	DecodeRefreshToken func(string) (string, [32]byte, error)
	NewRefreshSecret   func() ([32]byte, error)
	HashRefreshSecret  func([32]byte) [32]byte
	EncodeRefreshToken func(string, [32]byte) (string, error)
	CheckRefreshRate   func(ctx context.Context, sessionID string) error
	RotateRefreshHash  func(ctx context.Context, sessionID string, provided, next [32]byte) (*session.Session, error)
	CreateAccess       func(identityID, sessionID string) (string, time.Time, error)
	IsReuse            func(error) bool
	IsNotFound         func(error) bool
}

// RunRefresh rotates the refresh secret of a session. Presenting an already
// rotated secret is treated as theft and the session is revoked by the store.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	sessionID, providedSecret, err := deps.DecodeRefreshToken(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}

	if deps.CheckRefreshRate != nil {
		if err := deps.CheckRefreshRate(ctx, sessionID); err != nil {
			return RefreshResult{Failure: RefreshFailureRateLimited, Err: err, SessionID: sessionID}
		}
	}

	nextSecret, err := deps.NewRefreshSecret()
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, SessionID: sessionID}
	}

	sess, err := deps.RotateRefreshHash(
		ctx,
		sessionID,
		deps.HashRefreshSecret(providedSecret),
		deps.HashRefreshSecret(nextSecret),
	)
	if err != nil {
		switch {
		case deps.IsReuse != nil && deps.IsReuse(err):
			return RefreshResult{Failure: RefreshFailureReuse, Err: err, SessionID: sessionID}
		case deps.IsNotFound != nil && deps.IsNotFound(err):
			return RefreshResult{Failure: RefreshFailureSessionNotFound, Err: err, SessionID: sessionID}
		default:
			return RefreshResult{Failure: RefreshFailureRotate, Err: err, SessionID: sessionID}
		}
	}

	access, accessExp, err := deps.CreateAccess(sess.IdentityID, sess.SessionID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, SessionID: sessionID, IdentityID: sess.IdentityID}
	}
	refresh, err := deps.EncodeRefreshToken(sess.SessionID, nextSecret)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, SessionID: sessionID, IdentityID: sess.IdentityID}
	}

	return RefreshResult{
		SessionID:  sess.SessionID,
		IdentityID: sess.IdentityID,
		Tokens: &SessionTokens{
			SessionID:       sess.SessionID,
			IdentityID:      sess.IdentityID,
			AccessToken:     access,
			RefreshToken:    refresh,
			AccessExpiresAt: accessExp,
			ExpiresAt:       time.Unix(sess.ExpiresAt, 0),
		},
	}
}
