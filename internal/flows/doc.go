// Package flows contains the orchestration behind every Engine operation.
//
// Each flow (RunRegister, RunLogin, RunRequestReset, RunVerifyOTP, ...) takes
// a dependency struct of closures and sentinel errors and returns results
// without side effects beyond those closures. The Engine builds the structs;
// flows never own a store, a limiter or a dispatcher.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goIdentity (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through the dependency closures.
package flows
