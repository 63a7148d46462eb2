package middleware

import (
	"path"
	"strings"
)

// RouteClass tags a request path with the session rules that apply to it.
// It is computed per request and never stored.
type RouteClass uint8

const (
	// Protected routes need a login session.
	Protected RouteClass = iota
	// Public routes are served to everyone.
	Public
	// AuthOnly routes (login, signup, recovery start) are for signed-out
	// visitors; a signed-in visitor is sent to the landing page.
	AuthOnly
	// AuthFlowTemporary routes need reset evidence from the recovery flow.
	AuthFlowTemporary
)

func (c RouteClass) String() string {
	switch c {
	case Public:
		return "public"
	case AuthOnly:
		return "auth_only"
	case AuthFlowTemporary:
		return "auth_flow_temporary"
	default:
		return "protected"
	}
}

// RouteTable maps paths onto route classes. Paths that match nothing are
// Protected.
type RouteTable struct {
	Public            []string
	PublicPrefixes    []string
	PublicExtensions  []string
	AuthOnly          []string
	AuthFlowTemporary []string
}

// DefaultRoutes is the route table of the hosted sign-in UI.
func DefaultRoutes() RouteTable {
	return RouteTable{
		Public:            []string{"/", "/auth/callback", "/favicon.ico", "/healthz"},
		PublicPrefixes:    []string{"/_next/", "/static/"},
		PublicExtensions:  []string{".svg", ".png", ".jpg", ".jpeg", ".gif", ".webp"},
		AuthOnly:          []string{"/login", "/signup", "/forgot-password", "/verify-otp"},
		AuthFlowTemporary: []string{"/reset-password"},
	}
}

// Classify assigns p a class using DefaultRoutes.
func Classify(p string) RouteClass {
	return DefaultRoutes().Classify(p)
}

// Classify assigns p a class. Exact matches win over prefixes and
// extensions, so an asset-looking AuthOnly path still counts as AuthOnly.
func (t RouteTable) Classify(p string) RouteClass {
	p = cleanPath(p)

	switch {
	case contains(t.AuthFlowTemporary, p):
		return AuthFlowTemporary
	case contains(t.AuthOnly, p):
		return AuthOnly
	case contains(t.Public, p):
		return Public
	}

	for _, prefix := range t.PublicPrefixes {
		if strings.HasPrefix(p, prefix) {
			return Public
		}
	}
	if ext := strings.ToLower(path.Ext(p)); ext != "" && contains(t.PublicExtensions, ext) {
		return Public
	}
	return Protected
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
