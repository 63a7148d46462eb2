// Package jwt issues and verifies the short-lived access tokens handed out
// with each login session. Tokens carry only the identity id (sub) and the
// session id (sid); revocation is checked against the session store.
package jwt
