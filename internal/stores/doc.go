// Package stores provides Redis-backed, short-lived record stores for the
// account recovery and email confirmation flows.
//
// # Design
//
// The recovery store keeps one versioned, binary-encoded record per email
// with a TTL, plus a token index keyed by the hash of the reset token.
// State transitions (Verify, Consume) use WATCH/MULTI optimistic
// transactions with automatic retry on contention. Only SHA-256 digests of
// OTPs, reset tokens and confirmation codes are stored, and digest
// comparisons use constant-time compare.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// records. It does NOT generate OTPs or tokens, enforce request rate limits,
// or make authentication decisions. Those belong to internal/flows.
//
// # What this package must NOT do
//
//   - Import goIdentity or any sibling internal package.
//   - Log or expose plaintext secrets.
//   - Use non-constant-time comparisons for secret matching.
package stores
