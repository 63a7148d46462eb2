// Package limiters provides domain-specific rate limiters built on top of
// Redis fixed-window counters.
//
// # Limiters
//
//   - [RecoveryLimiter]: per-email and per-IP throttle for reset requests.
//
// OTP verification failures are counted on the recovery record itself by
// internal/stores, not here. Limiters are nil-safe: calling a method on a nil
// receiver returns nil.
//
// # What this package must NOT do
//
//   - Import goIdentity or any sibling internal package.
//   - Make policy decisions beyond counting. Flow functions decide consequences.
package limiters
