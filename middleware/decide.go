package middleware

// Action is what the gatekeeper does with a request.
type Action uint8

const (
	Allow Action = iota
	RedirectLogin
	RedirectResetRequest
	RedirectLanding
)

// Evidence is what the request carries. HasResetEvidence must come from
// the recovery engine's records, never from a login session.
type Evidence struct {
	HasSession       bool
	HasResetEvidence bool
}

// Decide applies the gatekeeper transition table. A signed-out visitor may
// use AuthOnly pages, and a signed-in visitor still needs reset evidence on
// AuthFlowTemporary pages.
func Decide(class RouteClass, ev Evidence) Action {
	switch class {
	case Public:
		return Allow
	case AuthOnly:
		if ev.HasSession {
			return RedirectLanding
		}
		return Allow
	case AuthFlowTemporary:
		if ev.HasResetEvidence {
			return Allow
		}
		return RedirectResetRequest
	default:
		if ev.HasSession {
			return Allow
		}
		return RedirectLogin
	}
}
