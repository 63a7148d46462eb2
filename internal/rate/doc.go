// Package rate provides the Redis-backed login and refresh limiter.
//
// # Window semantics
//
// Fixed-window counters: a Lua script runs INCR and sets PEXPIRE on the first
// hit of a window. Key prefixes:
//   - al:  login failures per email (lower-cased)
//   - ali: login failures per IP
//   - ar:  refreshes per session
//
// # What this package must NOT do
//
//   - Implement recovery policies (those live in internal/limiters).
//   - Be imported outside the goIdentity module.
package rate
