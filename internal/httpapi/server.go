// Package httpapi exposes the Engine as a JSON API on gorilla/mux. The whole
// router sits behind the session Gatekeeper; API endpoints that need a
// session use the bearer Guard instead of redirects.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/internal/observability"
	"github.com/MrEthical07/goIdentity/middleware"
)

// Service is the part of *goIdentity.Engine the API drives.
type Service interface {
	middleware.Verifier
	Register(ctx context.Context, req goIdentity.RegisterRequest) (*goIdentity.RegisterResult, error)
	ConfirmEmail(ctx context.Context, code string) (*goIdentity.Session, error)
	Login(ctx context.Context, email, password string) (*goIdentity.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*goIdentity.Session, error)
	Logout(ctx context.Context, sessionID string) error
	InvalidateAllSessions(ctx context.Context, identityID string) error
	RequestReset(ctx context.Context, email string) (goIdentity.ResetAck, error)
	VerifyOTP(ctx context.Context, email, otp string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
	GetProfile(ctx context.Context, identityID string) (goIdentity.Profile, error)
}

// Options tunes the router. Zero values are usable.
type Options struct {
	// APIPrefix is mounted as a public prefix in the gate's route table.
	APIPrefix string
	// TrustForwardedFor takes the client IP from the first X-Forwarded-For
	// entry. Enable only behind a proxy that overwrites the header.
	TrustForwardedFor bool
	Gate              middleware.Options
	Metrics           *observability.HTTPMetrics
	Logger            *slog.Logger
}

type API struct {
	svc     Service
	opts    Options
	logger  *slog.Logger
	metrics *observability.HTTPMetrics
}

const defaultAPIPrefix = "/api/v1"

// NewRouter builds the full handler tree.
func NewRouter(svc Service, opts Options) http.Handler {
	if opts.APIPrefix == "" {
		opts.APIPrefix = defaultAPIPrefix
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gate.Routes.Public == nil && opts.Gate.Routes.AuthOnly == nil && opts.Gate.Routes.AuthFlowTemporary == nil {
		opts.Gate.Routes = middleware.DefaultRoutes()
	}
	opts.Gate.Routes.PublicPrefixes = append(slices.Clone(opts.Gate.Routes.PublicPrefixes), strings.TrimSuffix(opts.APIPrefix, "/")+"/")
	if opts.Gate.Logger == nil {
		opts.Gate.Logger = opts.Logger
	}

	api := &API{svc: svc, opts: opts, logger: opts.Logger, metrics: opts.Metrics}

	r := mux.NewRouter()
	r.Use(api.clientIP, api.instrument)

	v1 := r.PathPrefix(opts.APIPrefix).Subrouter()
	v1.HandleFunc("/auth/register", api.register).Methods(http.MethodPost)
	v1.HandleFunc("/auth/confirm", api.confirm).Methods(http.MethodPost)
	v1.HandleFunc("/auth/login", api.login).Methods(http.MethodPost)
	v1.HandleFunc("/auth/refresh", api.refresh).Methods(http.MethodPost)
	v1.HandleFunc("/auth/reset/request", api.requestReset).Methods(http.MethodPost)
	v1.HandleFunc("/auth/reset/verify", api.verifyOTP).Methods(http.MethodPost)
	v1.HandleFunc("/auth/reset/confirm", api.resetPassword).Methods(http.MethodPost)

	authed := v1.NewRoute().Subrouter()
	authed.Use(middleware.Guard(svc))
	authed.HandleFunc("/auth/logout", api.logout).Methods(http.MethodPost)
	authed.HandleFunc("/sessions", api.logoutAll).Methods(http.MethodDelete)
	authed.HandleFunc("/me", api.me).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(api.page)

	return middleware.Gatekeeper(svc, opts.Gate)(r)
}

// page answers every non-API path the gate let through. Rendering belongs to
// the frontend; this reports which route class admitted the request.
func (a *API) page(w http.ResponseWriter, r *http.Request) {
	class := a.opts.Gate.Routes.Classify(r.URL.Path)
	resp := pageResponse{Path: r.URL.Path, Class: class.String()}
	if info, ok := middleware.SessionFromContext(r.Context()); ok {
		resp.IdentityID = info.IdentityID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) clientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := a.remoteIP(r); ip != "" {
			r = r.WithContext(goIdentity.WithClientIP(r.Context(), ip))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) remoteIP(r *http.Request) string {
	if a.opts.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) instrument(next http.Handler) http.Handler {
	if a.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "page"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		a.metrics.Requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		a.metrics.Latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
