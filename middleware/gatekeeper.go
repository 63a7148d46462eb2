package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// Verifier answers both gatekeeper questions. *goIdentity.Engine
// satisfies it.
type Verifier interface {
	SessionValidator
	HasResetEvidence(ctx context.Context, token string) bool
}

// Options configures the Gatekeeper. Zero fields take the defaults of
// DefaultOptions.
type Options struct {
	Routes RouteTable

	LoginPath        string
	ResetRequestPath string
	LandingPath      string

	SessionCookie   string
	ResetCookie     string
	ResetQueryParam string

	Logger *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		Routes:           DefaultRoutes(),
		LoginPath:        "/login",
		ResetRequestPath: "/forgot-password",
		LandingPath:      "/dashboard",
		SessionCookie:    "session",
		ResetCookie:      "reset_token",
		ResetQueryParam:  "reset_token",
	}
}

func (o *Options) normalize() {
	def := DefaultOptions()
	if o.Routes.Public == nil && o.Routes.AuthOnly == nil && o.Routes.AuthFlowTemporary == nil {
		o.Routes = def.Routes
	}
	if o.LoginPath == "" {
		o.LoginPath = def.LoginPath
	}
	if o.ResetRequestPath == "" {
		o.ResetRequestPath = def.ResetRequestPath
	}
	if o.LandingPath == "" {
		o.LandingPath = def.LandingPath
	}
	if o.SessionCookie == "" {
		o.SessionCookie = def.SessionCookie
	}
	if o.ResetCookie == "" {
		o.ResetCookie = def.ResetCookie
	}
	if o.ResetQueryParam == "" {
		o.ResetQueryParam = def.ResetQueryParam
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Gatekeeper classifies every request before the wrapped handler runs and
// applies Decide. Only the evidence the route class needs is looked up:
// Public routes touch no store, AuthFlowTemporary routes ask the recovery
// engine only.
func Gatekeeper(v Verifier, opts Options) func(http.Handler) http.Handler {
	opts.normalize()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := opts.Routes.Classify(r.URL.Path)

			var ev Evidence
			switch class {
			case Public:
			case AuthFlowTemporary:
				if v != nil {
					for _, token := range resetTokens(r, opts) {
						if v.HasResetEvidence(r.Context(), token) {
							ev.HasResetEvidence = true
							break
						}
					}
				}
			default:
				info, err := lookupSession(r, v, opts)
				if err != nil {
					opts.Logger.ErrorContext(r.Context(), "gatekeeper session lookup failed",
						"path", r.URL.Path, "class", class.String(), "error", err)
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				if info != nil {
					ev.HasSession = true
					r = r.WithContext(WithSession(r.Context(), info))
				}
			}

			switch Decide(class, ev) {
			case Allow:
				next.ServeHTTP(w, r)
			case RedirectLogin:
				http.Redirect(w, r, opts.LoginPath, http.StatusTemporaryRedirect)
			case RedirectResetRequest:
				http.Redirect(w, r, opts.ResetRequestPath, http.StatusTemporaryRedirect)
			case RedirectLanding:
				http.Redirect(w, r, opts.LandingPath, http.StatusTemporaryRedirect)
			}
		})
	}
}

// lookupSession returns nil, nil when the request carries no live session.
// Only an unreachable session store is an error.
func lookupSession(r *http.Request, v SessionValidator, opts Options) (*goIdentity.SessionInfo, error) {
	if v == nil {
		return nil, nil
	}

	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		c, err := r.Cookie(opts.SessionCookie)
		if err != nil || c.Value == "" {
			return nil, nil
		}
		token = c.Value
	}

	info, err := v.ValidateSession(r.Context(), token)
	if err != nil {
		if errors.Is(err, goIdentity.ErrUpstreamUnavailable) {
			return nil, err
		}
		return nil, nil
	}
	return info, nil
}

// resetTokens lists the reset tokens a request carries, query parameter
// first. A cookie left over from an earlier recovery must not shadow the
// token in a fresh link.
func resetTokens(r *http.Request, opts Options) []string {
	var tokens []string
	if q := r.URL.Query().Get(opts.ResetQueryParam); q != "" {
		tokens = append(tokens, q)
	}
	if c, err := r.Cookie(opts.ResetCookie); err == nil && c.Value != "" && (len(tokens) == 0 || tokens[0] != c.Value) {
		tokens = append(tokens, c.Value)
	}
	return tokens
}
