package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/internal/logging"
)

const maxBodyBytes = 1 << 16

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable is checked in order. Messages come from the sentinel itself,
// so nothing beyond the sentinel text reaches the client.
var errorTable = []errorMapping{
	{goIdentity.ErrInvalidEmail, http.StatusBadRequest, "invalid_email"},
	{goIdentity.ErrWeakCredential, http.StatusBadRequest, "weak_credential"},
	{goIdentity.ErrWeakPassword, http.StatusBadRequest, "weak_password"},
	{goIdentity.ErrProfileInvalid, http.StatusBadRequest, "profile_invalid"},
	{goIdentity.ErrDuplicateEmail, http.StatusConflict, "duplicate_email"},
	{goIdentity.ErrProfileCreationFailed, http.StatusInternalServerError, "profile_creation_failed"},
	{goIdentity.ErrInvalidOtp, http.StatusBadRequest, "invalid_otp"},
	{goIdentity.ErrExpired, http.StatusGone, "expired"},
	{goIdentity.ErrInvalidOrExpired, http.StatusBadRequest, "invalid_or_expired"},
	{goIdentity.ErrInvalidSession, http.StatusUnauthorized, "invalid_reset_session"},
	{goIdentity.ErrRecoveryRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{goIdentity.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{goIdentity.ErrEmailNotConfirmed, http.StatusForbidden, "email_not_confirmed"},
	{goIdentity.ErrLoginRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{goIdentity.ErrRefreshRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{goIdentity.ErrRefreshReuse, http.StatusUnauthorized, "session_invalid"},
	{goIdentity.ErrSessionInvalid, http.StatusUnauthorized, "session_invalid"},
	{goIdentity.ErrConfirmationInvalid, http.StatusBadRequest, "confirmation_invalid"},
	{goIdentity.ErrProfileNotFound, http.StatusNotFound, "not_found"},
	{goIdentity.ErrUpstreamUnavailable, http.StatusServiceUnavailable, "unavailable"},
	{goIdentity.ErrEngineNotReady, http.StatusServiceUnavailable, "unavailable"},
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			if m.status >= http.StatusInternalServerError {
				logging.LogError(r.Context(), a.logger, "request failed", err, "path", r.URL.Path)
			}
			writeJSON(w, m.status, errorResponse{Error: m.err.Error(), Code: m.code})
			return
		}
	}

	if errors.Is(err, r.Context().Err()) {
		return
	}

	logging.LogError(r.Context(), a.logger, "unmapped request error", err, "path", r.URL.Path)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body", Code: "bad_request"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
