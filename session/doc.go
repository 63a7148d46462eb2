// Package session provides Redis-backed login sessions for goIdentity.
//
// Sessions are stored as a compact versioned binary blob keyed by session
// id, with a per-identity index set so that a credential change can revoke
// every session of that identity. Refresh tokens are rotated with a
// WATCH/MULTI compare-and-swap on their SHA-256 digest, and a mismatched
// digest revokes the session.
//
// The package does not parse access tokens or make authentication decisions.
// It must not import goIdentity or jwt.
package session
