package goIdentity

import "errors"

// Validation errors are specific and safe to show to the user.
var (
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrWeakCredential rejects a signup password that fails the policy.
	ErrWeakCredential = errors.New("password does not meet policy")
	// ErrWeakPassword rejects a reset password that fails the policy.
	ErrWeakPassword   = errors.New("new password does not meet policy")
	ErrProfileInvalid = errors.New("invalid profile fields")
)

var (
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrProfileCreationFailed means the profile insert failed and the new
	// identity was rolled back.
	ErrProfileCreationFailed = errors.New("profile creation failed")
)

// Recovery errors are deliberately coarse. None of them reveal whether an
// email is registered.
var (
	ErrInvalidOrExpired    = errors.New("code invalid or expired")
	ErrExpired             = errors.New("code expired")
	ErrInvalidOtp          = errors.New("invalid code")
	ErrInvalidSession      = errors.New("reset session invalid")
	ErrRecoveryRateLimited = errors.New("too many reset requests")
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailNotConfirmed   = errors.New("email not confirmed")
	ErrLoginRateLimited    = errors.New("login rate limited")
	ErrRefreshRateLimited  = errors.New("refresh rate limited")
	ErrSessionInvalid      = errors.New("session invalid")
	ErrRefreshReuse        = errors.New("refresh token reuse detected")
	ErrConfirmationInvalid = errors.New("confirmation code invalid")
)

var (
	// ErrUpstreamUnavailable is the generic "try again" for any store,
	// dispatcher or Redis failure. Details are logged, never returned.
	ErrUpstreamUnavailable = errors.New("service temporarily unavailable")
	ErrEngineNotReady      = errors.New("engine not initialized")
)
