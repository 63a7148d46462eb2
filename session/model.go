package session

// Session is the server-side half of a login session. The refresh token is
// only ever held as its SHA-256 digest.
type Session struct {
	SessionID  string
	IdentityID string
	Email      string

	RefreshHash [32]byte

	CreatedAt int64
	ExpiresAt int64
}
