package goIdentity

import (
	"context"
	"errors"
	"time"
)

// Errors collaborators return so the Engine can tell a conflict or a miss
// from an outage. Any other error is treated as the store being unavailable.
var (
	ErrIdentityConflict = errors.New("identity already exists")
	ErrIdentityNotFound = errors.New("identity not found")
	ErrProfileConflict  = errors.New("profile already exists")
	ErrProfileNotFound  = errors.New("profile not found")
)

// Identity is the credential-bearing account record.
type Identity struct {
	ID             string
	Email          string
	CredentialHash string
	Confirmed      bool
	CreatedAt      time.Time
}

// ProfileFields are the user-supplied attributes collected at signup. DOB is
// a YYYY-MM-DD date.
type ProfileFields struct {
	FirstName string
	LastName  string
	Phone     string
	DOB       string
}

// Profile is keyed by the identity it belongs to.
type Profile struct {
	IdentityID string
	Email      string
	ProfileFields
	CreatedAt time.Time
}

// IdentityStore owns credentials and confirmation state.
type IdentityStore interface {
	// CreateIdentity stores a new identity under the caller-chosen id.
	// Replaying a create whose first attempt already committed (same id and
	// email) returns the stored identity. ErrIdentityConflict means the email
	// belongs to a different id.
	CreateIdentity(ctx context.Context, id, email, credentialHash string) (Identity, error)
	// DeleteIdentity is idempotent.
	DeleteIdentity(ctx context.Context, id string) error
	GetIdentityByID(ctx context.Context, id string) (Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (Identity, error)
	UpdateCredential(ctx context.Context, id, credentialHash string) error
	MarkConfirmed(ctx context.Context, id string) error
}

// ProfileStore owns profile attributes. GetProfileByEmail must be an
// indexed point lookup.
type ProfileStore interface {
	InsertProfile(ctx context.Context, identityID, email string, fields ProfileFields) error
	GetProfileByEmail(ctx context.Context, email string) (Profile, error)
	GetProfileByIdentityID(ctx context.Context, identityID string) (Profile, error)
	DeleteProfile(ctx context.Context, identityID string) error
}

// TemplateKind names a notification template.
type TemplateKind string

const (
	TemplateOTPCode      TemplateKind = "otp_code"
	TemplateWelcome      TemplateKind = "welcome"
	TemplateConfirmEmail TemplateKind = "confirm_email"
)

// NotificationDispatcher delivers one templated message. A returned error is
// logged and counted, never surfaced to the end user.
type NotificationDispatcher interface {
	Send(ctx context.Context, email string, kind TemplateKind, payload map[string]string) error
}

// RegisterRequest is the signup payload.
type RegisterRequest struct {
	Email    string
	Password string
	ProfileFields
}

// RegisterResult reports how signup finished. Session is nil when
// PendingConfirmation is set, and also when the account was created but the
// automatic sign-in failed; the user then signs in normally.
type RegisterResult struct {
	IdentityID          string
	PendingConfirmation bool
	Session             *Session
}

// Session is the token pair handed to a signed-in client.
type Session struct {
	SessionID       string
	IdentityID      string
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
}

// SessionInfo is what ValidateSession learns from a live session.
type SessionInfo struct {
	SessionID  string
	IdentityID string
	Email      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// ResetAck is the uniform answer to RequestReset. It is the same whether
// or not the email belongs to an account.
type ResetAck struct {
	Message string
}

const resetAckMessage = "If an account exists for this email, a verification code has been sent."
