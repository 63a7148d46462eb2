package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// SessionValidator checks access tokens. *goIdentity.Engine satisfies it.
type SessionValidator interface {
	ValidateSession(ctx context.Context, accessToken string) (*goIdentity.SessionInfo, error)
}

type sessionContextKey struct{}

// SessionFromContext returns the session a guard or the gatekeeper
// validated for this request.
func SessionFromContext(ctx context.Context) (*goIdentity.SessionInfo, bool) {
	info, ok := ctx.Value(sessionContextKey{}).(*goIdentity.SessionInfo)
	return info, ok
}

// WithSession stores info in ctx the way the guards do.
func WithSession(ctx context.Context, info *goIdentity.SessionInfo) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, info)
}

// Guard rejects requests without a live session with 401, or 503 when the
// session store cannot answer. It is meant for API routes where a redirect
// makes no sense.
func Guard(v SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			info, err := v.ValidateSession(r.Context(), token)
			if err != nil {
				if errors.Is(err, goIdentity.ErrUpstreamUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), info)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
