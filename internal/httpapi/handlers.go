package httpapi

import (
	"net/http"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/middleware"
)

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	DOB       string `json:"dob"`
}

type registerResponse struct {
	IdentityID          string           `json:"identity_id"`
	PendingConfirmation bool             `json:"pending_confirmation"`
	Session             *sessionResponse `json:"session,omitempty"`
}

type sessionResponse struct {
	SessionID       string    `json:"session_id"`
	IdentityID      string    `json:"identity_id"`
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type profileResponse struct {
	IdentityID string    `json:"identity_id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Phone      string    `json:"phone,omitempty"`
	DOB        string    `json:"dob"`
	CreatedAt  time.Time `json:"created_at"`
}

type pageResponse struct {
	Path       string `json:"path"`
	Class      string `json:"class"`
	IdentityID string `json:"identity_id,omitempty"`
}

func toSession(s *goIdentity.Session) *sessionResponse {
	if s == nil {
		return nil
	}
	return &sessionResponse{
		SessionID:       s.SessionID,
		IdentityID:      s.IdentityID,
		AccessToken:     s.AccessToken,
		RefreshToken:    s.RefreshToken,
		AccessExpiresAt: s.AccessExpiresAt,
		ExpiresAt:       s.ExpiresAt,
	}
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := a.svc.Register(r.Context(), goIdentity.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		ProfileFields: goIdentity.ProfileFields{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Phone:     req.Phone,
			DOB:       req.DOB,
		},
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		IdentityID:          res.IdentityID,
		PendingConfirmation: res.PendingConfirmation,
		Session:             toSession(res.Session),
	})
}

func (a *API) confirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &req) {
		return
	}

	session, err := a.svc.ConfirmEmail(r.Context(), req.Code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSession(session))
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}

	session, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSession(session))
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decode(w, r, &req) {
		return
	}

	session, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSession(session))
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	if err := a.svc.Logout(r.Context(), info.SessionID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) logoutAll(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	if err := a.svc.InvalidateAllSessions(r.Context(), info.IdentityID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	p, err := a.svc.GetProfile(r.Context(), info.IdentityID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{
		IdentityID: p.IdentityID,
		Email:      p.Email,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Phone:      p.Phone,
		DOB:        p.DOB,
		CreatedAt:  p.CreatedAt,
	})
}

// requestReset always answers 202 with the same body for a well-formed
// request, registered or not.
func (a *API) requestReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &req) {
		return
	}

	ack, err := a.svc.RequestReset(r.Context(), req.Email)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": ack.Message})
}

func (a *API) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if !decode(w, r, &req) {
		return
	}

	token, err := a.svc.VerifyOTP(r.Context(), req.Email, req.Code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     a.resetCookieName(),
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"reset_token": token})
}

// resetPassword takes the token from the body, falling back to the cookie
// verifyOTP set.
func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResetToken  string `json:"reset_token"`
		NewPassword string `json:"new_password"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ResetToken == "" {
		if c, err := r.Cookie(a.resetCookieName()); err == nil {
			req.ResetToken = c.Value
		}
	}

	if err := a.svc.ResetPassword(r.Context(), req.ResetToken, req.NewPassword); err != nil {
		a.writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: a.resetCookieName(), Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) resetCookieName() string {
	if a.opts.Gate.ResetCookie != "" {
		return a.opts.Gate.ResetCookie
	}
	return middleware.DefaultOptions().ResetCookie
}
