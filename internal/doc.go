// Package internal contains helper utilities that are private to goIdentity,
// chiefly secure random generation for OTPs, reset tokens and session ids.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators for every Engine operation
//   - limiters: recovery rate limiters (request throttle, verify budget)
//   - logging: slog setup with trace context
//   - observability: metrics and health HTTP endpoints
//   - rate: login failure counters
//   - stores: Redis records for recovery and email confirmation
//   - upstream: timeout and retry policy for collaborator calls
//   - httpapi: JSON handlers used by the goidentity binary
//
// # What this package must NOT do
//
//   - Export types that appear in the public goIdentity API.
//   - Be imported by any package outside the goIdentity module.
package internal
