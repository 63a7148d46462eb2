// Package middleware exposes the Session Gatekeeper and an API guard built
// on goIdentity.Engine.
//
// # Gatekeeper
//
// [Gatekeeper] runs before any page logic. It classifies the path with a
// [RouteTable], collects only the evidence that class needs and applies
// [Decide]:
//
//   - Public: always allowed.
//   - AuthOnly: signed-in visitors are redirected to the landing page.
//   - Protected: signed-out visitors are redirected to the login page.
//   - AuthFlowTemporary: allowed only with reset evidence, which is checked
//     against the recovery engine and never satisfied by a login session.
//
// # Guard
//
// [Guard] is the API counterpart: it answers 401 instead of redirecting and
// stores the validated session in the request context.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
package middleware
