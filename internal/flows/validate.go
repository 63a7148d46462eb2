package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/session"
)

// ValidateFailureKind classifies validation failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureUnauthorized
	ValidateFailureSessionNotFound
	ValidateFailureMismatch
	ValidateFailureUnavailable
)

type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.AccessClaims
	Session *session.Session
}

// ValidateDeps captures strict session validation dependencies.
type ValidateDeps struct {
	ParseAccess      func(string) (*jwt.AccessClaims, error)
	GetSession       func(ctx context.Context, sessionID string, absoluteLifetime time.Duration) (*session.Session, error)
	AbsoluteLifetime time.Duration
	IsNotFound       func(error) bool
}

// RunValidate checks the access token and then requires the server-side
// session it names to still exist and belong to the same identity.
func RunValidate(ctx context.Context, tokenStr string, deps ValidateDeps) ValidateResult {
	claims, err := deps.ParseAccess(tokenStr)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureUnauthorized, Err: err}
	}

	sess, err := deps.GetSession(ctx, claims.SID, deps.AbsoluteLifetime)
	if err != nil {
		if deps.IsNotFound != nil && deps.IsNotFound(err) {
			return ValidateResult{Failure: ValidateFailureSessionNotFound, Err: err, Claims: claims}
		}
		return ValidateResult{Failure: ValidateFailureUnavailable, Err: err, Claims: claims}
	}

	if sess.IdentityID != claims.IdentityID() {
		return ValidateResult{Failure: ValidateFailureMismatch, Claims: claims}
	}

	return ValidateResult{Claims: claims, Session: sess}
}
