package flows

import "context"

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Hooks
	DeleteSession     func(ctx context.Context, sessionID string) error
	DeleteAllSessions func(ctx context.Context, identityID string) error
	EventLogout       string
	EventLogoutAll    string
	MetricLogout      int
	MetricLogoutAll   int
}

// RunLogout deletes one session. Logging out of a missing session succeeds.
func RunLogout(ctx context.Context, sessionID string, deps LogoutDeps) error {
	deps.Hooks.normalize()

	if err := deps.DeleteSession(ctx, sessionID); err != nil {
		deps.EmitAudit(ctx, deps.EventLogout, false, "", sessionID, err, nil)
		return err
	}

	deps.MetricInc(deps.MetricLogout)
	deps.EmitAudit(ctx, deps.EventLogout, true, "", sessionID, nil, nil)
	return nil
}

// RunLogoutAll revokes every session of identityID.
func RunLogoutAll(ctx context.Context, identityID string, deps LogoutDeps) error {
	deps.Hooks.normalize()

	if err := deps.DeleteAllSessions(ctx, identityID); err != nil {
		deps.EmitAudit(ctx, deps.EventLogoutAll, false, identityID, "", err, nil)
		return err
	}

	deps.MetricInc(deps.MetricLogoutAll)
	deps.EmitAudit(ctx, deps.EventLogoutAll, true, identityID, "", nil, nil)
	return nil
}
