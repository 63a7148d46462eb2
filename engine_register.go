package goIdentity

import (
	"context"
	"errors"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/stores"
)

// Register creates an identity and its profile. The two writes behave as one
// unit: if the profile cannot be stored the identity is deleted again and
// ErrProfileCreationFailed is returned.
//
// With Registration.RequireConfirmation the result is PendingConfirmation
// and a confirmation code is mailed; otherwise the user is signed in and
// the result carries a Session.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	outcome, err := flows.RunRegister(ctx, flows.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		Profile:  flows.ProfileFields(req.ProfileFields),
	}, e.registerDeps())
	if err != nil {
		return nil, err
	}

	return &RegisterResult{
		IdentityID:          outcome.IdentityID,
		PendingConfirmation: outcome.PendingConfirmation,
		Session:             toSession(outcome.Session),
	}, nil
}

// ConfirmEmail redeems a confirmation code mailed by Register, marks the
// identity confirmed and signs the user in. Each code works once.
func (e *Engine) ConfirmEmail(ctx context.Context, code string) (*Session, error) {
	if !e.ready() || e.confirmStore == nil {
		return nil, ErrEngineNotReady
	}

	tokens, err := flows.RunConfirmEmail(ctx, code, flows.ConfirmDeps{
		Hooks:               e.hooks(),
		HashSecret:          internal.HashSecret,
		ConsumeConfirmation: e.confirmStore.Consume,
		IsCodeNotFound: func(err error) bool {
			return errors.Is(err, stores.ErrConfirmationNotFound)
		},
		MarkConfirmed:   e.markConfirmed,
		GetIdentityByID: e.identityByID,
		IssueSession:    e.issueSession,
		MetricConfirmed: int(MetricConfirmSuccess),
		Events: flows.ConfirmEvents{
			ConfirmSuccess: auditEventConfirmSuccess,
			ConfirmFailure: auditEventConfirmFailure,
		},
		Errors: flows.ConfirmErrors{
			EngineNotReady:      ErrEngineNotReady,
			ConfirmationInvalid: ErrConfirmationInvalid,
			UpstreamUnavailable: ErrUpstreamUnavailable,
		},
	})
	if err != nil {
		return nil, err
	}
	return toSession(tokens), nil
}

func (e *Engine) registerDeps() flows.RegisterDeps {
	cfg := e.config.Registration

	return flows.RegisterDeps{
		Hooks:               e.hooks(),
		RequireConfirmation: cfg.RequireConfirmation,
		SendWelcome:         cfg.SendWelcome,
		ConfirmationTTL:     cfg.ConfirmationTTL,
		CheckPasswordPolicy: e.policy.Check,
		HashPassword:        e.hashPassword,
		CreateIdentity:      e.createIdentity,
		DeleteIdentity:      e.deleteIdentity,
		InsertProfile:       e.insertProfile,
		IsIdentityConflict: func(err error) bool {
			return errors.Is(err, ErrIdentityConflict)
		},
		NewConfirmationCode: internal.NewConfirmationCode,
		HashSecret:          internal.HashSecret,
		SaveConfirmation:    e.confirmStore.Save,
		Notify:              e.notify,
		IssueSession:        e.issueSession,
		Templates: flows.RegisterTemplates{
			Welcome:      string(TemplateWelcome),
			ConfirmEmail: string(TemplateConfirmEmail),
		},
		Metrics: flows.RegisterMetrics{
			RegisterSuccess:     int(MetricRegisterSuccess),
			RegisterDuplicate:   int(MetricRegisterDuplicate),
			RegisterCompensated: int(MetricRegisterCompensated),
			RegisterOrphan:      int(MetricRegisterOrphan),
			NotificationFailure: int(MetricNotificationFailure),
		},
		Events: flows.RegisterEvents{
			RegisterSuccess:     auditEventRegisterSuccess,
			RegisterFailure:     auditEventRegisterFailure,
			RegisterDuplicate:   auditEventRegisterDuplicate,
			RegisterCompensated: auditEventRegisterCompensated,
			RegisterOrphan:      auditEventRegisterOrphan,
		},
		Errors: flows.RegisterErrors{
			EngineNotReady:        ErrEngineNotReady,
			InvalidEmail:          ErrInvalidEmail,
			WeakCredential:        ErrWeakCredential,
			ProfileInvalid:        ErrProfileInvalid,
			DuplicateEmail:        ErrDuplicateEmail,
			ProfileCreationFailed: ErrProfileCreationFailed,
			UpstreamUnavailable:   ErrUpstreamUnavailable,
		},
	}
}
