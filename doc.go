// Package goIdentity registers identities with their profiles, recovers
// forgotten credentials through a mailed one-time code, and issues and
// validates login sessions.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goIdentity is the public surface. It exposes [Engine], [Builder], [Config], the
// collaborator interfaces ([IdentityStore], [ProfileStore], [NotificationDispatcher]) and
// value types. Flow orchestration, Redis records, rate limiting and audit dispatch live
// under internal/ and are never exported.
//
// # Collaborators
//
// Identities and profiles are owned by the host through IdentityStore and ProfileStore;
// store/postgres provides a pgx implementation. Notifications go through a
// NotificationDispatcher; see the notify package. Every collaborator call runs under a
// timeout with a single retry, and a failure that survives the retry surfaces as
// [ErrUpstreamUnavailable].
//
// # Enumeration safety
//
// [Engine.RequestReset] answers identically for registered and unregistered emails, for
// throttled requests, and when a backing store is down. Verification and reset errors are
// coarse and never name the account.
package goIdentity
