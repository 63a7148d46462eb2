package flows

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errNotReady      = errors.New("not ready")
	errInvalidEmail  = errors.New("invalid email")
	errWeak          = errors.New("weak")
	errProfile       = errors.New("profile invalid")
	errDuplicate     = errors.New("duplicate")
	errProfileFailed = errors.New("profile creation failed")
	errUpstream      = errors.New("upstream")
	errConflict      = errors.New("identity conflict")
)

type auditRecord struct {
	event      string
	success    bool
	identityID string
	metadata   map[string]string
}

type recorder struct {
	mu     sync.Mutex
	events []auditRecord
	counts map[int]int
}

func newRecorder() *recorder {
	return &recorder{counts: map[int]int{}}
}

func (r *recorder) hooks(logger *slog.Logger) Hooks {
	return Hooks{
		Now: func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
		MetricInc: func(id int) {
			r.mu.Lock()
			r.counts[id]++
			r.mu.Unlock()
		},
		EmitAudit: func(_ context.Context, event string, success bool, identityID, _ string, _ error, metadata func() map[string]string) {
			rec := auditRecord{event: event, success: success, identityID: identityID}
			if metadata != nil {
				rec.metadata = metadata()
			}
			r.mu.Lock()
			r.events = append(r.events, rec)
			r.mu.Unlock()
		},
		Logger: logger,
	}
}

func (r *recorder) find(event string) (auditRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.event == event {
			return e, true
		}
	}
	return auditRecord{}, false
}

func validRequest() RegisterRequest {
	return RegisterRequest{
		Email:    "  Ana@Example.com ",
		Password: "Str0ng!Pass",
		Profile: ProfileFields{
			FirstName: "Ana",
			LastName:  "Silva",
			Phone:     "+351912345678",
			DOB:       "1990-04-12",
		},
	}
}

func baseRegisterDeps(r *recorder, logger *slog.Logger) RegisterDeps {
	return RegisterDeps{
		Hooks:          r.hooks(logger),
		HashPassword:   func(p string) (string, error) { return "hash:" + p, nil },
		CreateIdentity: func(_ context.Context, email, hash string) (IdentityRecord, error) {
			return IdentityRecord{ID: "id-1", Email: email, CredentialHash: hash}, nil
		},
		DeleteIdentity: func(context.Context, string) error { return nil },
		InsertProfile:  func(context.Context, string, string, ProfileFields) error { return nil },
		IsIdentityConflict: func(err error) bool {
			return errors.Is(err, errConflict)
		},
		IssueSession: func(_ context.Context, identityID, _ string) (*SessionTokens, error) {
			return &SessionTokens{SessionID: "sid-1", IdentityID: identityID}, nil
		},
		Metrics: RegisterMetrics{
			RegisterSuccess:     1,
			RegisterDuplicate:   2,
			RegisterCompensated: 3,
			RegisterOrphan:      4,
			NotificationFailure: 5,
		},
		Events: RegisterEvents{
			RegisterSuccess:     "register_success",
			RegisterFailure:     "register_failure",
			RegisterDuplicate:   "register_duplicate",
			RegisterCompensated: "register_compensated",
			RegisterOrphan:      "register_orphan",
		},
		Errors: RegisterErrors{
			EngineNotReady:        errNotReady,
			InvalidEmail:          errInvalidEmail,
			WeakCredential:        errWeak,
			ProfileInvalid:        errProfile,
			DuplicateEmail:        errDuplicate,
			ProfileCreationFailed: errProfileFailed,
			UpstreamUnavailable:   errUpstream,
		},
	}
}

func TestRunRegisterIssuesSession(t *testing.T) {
	r := newRecorder()
	deps := baseRegisterDeps(r, nil)

	var insertedEmail string
	deps.InsertProfile = func(_ context.Context, _ string, email string, fields ProfileFields) error {
		insertedEmail = email
		assert.Equal(t, "Ana", fields.FirstName)
		return nil
	}

	out, err := RunRegister(context.Background(), validRequest(), deps)
	require.NoError(t, err)
	require.NotNil(t, out.Session)
	assert.Equal(t, "id-1", out.IdentityID)
	assert.False(t, out.PendingConfirmation)
	assert.Equal(t, "ana@example.com", insertedEmail)
	assert.Equal(t, 1, r.counts[1])
}

func TestRunRegisterDuplicateStopsEarly(t *testing.T) {
	r := newRecorder()
	deps := baseRegisterDeps(r, nil)
	deps.CreateIdentity = func(context.Context, string, string) (IdentityRecord, error) {
		return IdentityRecord{}, errConflict
	}
	deps.InsertProfile = func(context.Context, string, string, ProfileFields) error {
		t.Fatal("profile insert must not run after a duplicate")
		return nil
	}

	_, err := RunRegister(context.Background(), validRequest(), deps)
	require.ErrorIs(t, err, errDuplicate)
	_, ok := r.find("register_duplicate")
	assert.True(t, ok)
}

func TestRunRegisterCompensatesFailedProfile(t *testing.T) {
	r := newRecorder()
	deps := baseRegisterDeps(r, nil)
	deps.InsertProfile = func(context.Context, string, string, ProfileFields) error {
		return errors.New("profile store down")
	}
	var deleted []string
	deps.DeleteIdentity = func(_ context.Context, id string) error {
		deleted = append(deleted, id)
		return nil
	}

	_, err := RunRegister(context.Background(), validRequest(), deps)
	require.ErrorIs(t, err, errProfileFailed)
	assert.Equal(t, []string{"id-1"}, deleted)
	assert.Equal(t, 1, r.counts[3])
	assert.Zero(t, r.counts[1])
}

func TestRunRegisterLogsOrphanWhenCompensationFails(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	r := newRecorder()
	deps := baseRegisterDeps(r, logger)
	deps.InsertProfile = func(context.Context, string, string, ProfileFields) error {
		return errors.New("profile store down")
	}
	deps.DeleteIdentity = func(context.Context, string) error {
		return errors.New("identity store down")
	}

	_, err := RunRegister(context.Background(), validRequest(), deps)
	require.ErrorIs(t, err, errProfileFailed)

	assert.Contains(t, buf.String(), `"orphan":true`)
	assert.Contains(t, buf.String(), `"identity_id":"id-1"`)
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	orphan, ok := r.find("register_orphan")
	require.True(t, ok)
	assert.Equal(t, "true", orphan.metadata["orphan"])
	assert.Equal(t, 1, r.counts[4])
}

func TestRunRegisterCompensationIgnoresCancellation(t *testing.T) {
	r := newRecorder()
	deps := baseRegisterDeps(r, nil)
	ctx, cancel := context.WithCancel(context.Background())
	deps.InsertProfile = func(context.Context, string, string, ProfileFields) error {
		cancel()
		return context.Canceled
	}
	deps.DeleteIdentity = func(ctx context.Context, _ string) error {
		return ctx.Err()
	}

	_, err := RunRegister(ctx, validRequest(), deps)
	require.ErrorIs(t, err, errProfileFailed)
	assert.Equal(t, 1, r.counts[3])
}

func TestRunRegisterValidation(t *testing.T) {
	r := newRecorder()
	deps := baseRegisterDeps(r, nil)
	deps.CheckPasswordPolicy = func(p string) error {
		if len(p) < 8 {
			return errors.New("too short")
		}
		return nil
	}
	deps.CreateIdentity = func(context.Context, string, string) (IdentityRecord, error) {
		t.Fatal("identity must not be created for invalid input")
		return IdentityRecord{}, nil
	}

	tests := []struct {
		name string
		edit func(*RegisterRequest)
		want error
	}{
		{"bad email", func(r *RegisterRequest) { r.Email = "not-an-email" }, errInvalidEmail},
		{"weak password", func(r *RegisterRequest) { r.Password = "short" }, errWeak},
		{"missing first name", func(r *RegisterRequest) { r.Profile.FirstName = "  " }, errProfile},
		{"bad phone", func(r *RegisterRequest) { r.Profile.Phone = "12ab" }, errProfile},
		{"future dob", func(r *RegisterRequest) { r.Profile.DOB = "2999-01-01" }, errProfile},
		{"bad dob", func(r *RegisterRequest) { r.Profile.DOB = "12/04/1990" }, errProfile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.edit(&req)
			_, err := RunRegister(context.Background(), req, deps)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRunRegisterPendingConfirmation(t *testing.T) {
	r := newRecorder()
	deps := baseRegisterDeps(r, nil)
	deps.RequireConfirmation = true
	deps.ConfirmationTTL = time.Hour
	deps.Templates.ConfirmEmail = "confirm_email"
	deps.NewConfirmationCode = func() (string, error) { return "code-1", nil }
	deps.HashSecret = func(s string) [32]byte { return [32]byte{byte(len(s))} }
	deps.IssueSession = func(context.Context, string, string) (*SessionTokens, error) {
		t.Fatal("no session while confirmation is pending")
		return nil, nil
	}

	var saved bool
	deps.SaveConfirmation = func(_ context.Context, _ [32]byte, id string, ttl time.Duration) error {
		saved = id == "id-1" && ttl == time.Hour
		return nil
	}
	var sentCode string
	deps.Notify = func(_ context.Context, _ string, template string, payload map[string]string) error {
		assert.Equal(t, "confirm_email", template)
		sentCode = payload["code"]
		return nil
	}

	out, err := RunRegister(context.Background(), validRequest(), deps)
	require.NoError(t, err)
	assert.True(t, out.PendingConfirmation)
	assert.Nil(t, out.Session)
	assert.True(t, saved)
	assert.Equal(t, "code-1", sentCode)
}

func TestRunRegisterWelcomeFailureIsNotFatal(t *testing.T) {
	r := newRecorder()
	deps := baseRegisterDeps(r, nil)
	deps.SendWelcome = true
	deps.Templates.Welcome = "welcome"
	deps.Notify = func(context.Context, string, string, map[string]string) error {
		return errors.New("smtp down")
	}

	out, err := RunRegister(context.Background(), validRequest(), deps)
	require.NoError(t, err)
	assert.NotNil(t, out.Session)
	assert.Equal(t, 1, r.counts[5])
}

func TestRunRegisterAutoSignInFailureStillRegisters(t *testing.T) {
	r := newRecorder()
	deps := baseRegisterDeps(r, nil)
	deps.IssueSession = func(context.Context, string, string) (*SessionTokens, error) {
		return nil, errors.New("redis down")
	}

	out, err := RunRegister(context.Background(), validRequest(), deps)
	require.NoError(t, err)
	assert.Nil(t, out.Session)
	assert.False(t, out.PendingConfirmation)
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("a@x.io"))
	assert.False(t, ValidEmail("a@localhost"))
	assert.False(t, ValidEmail("Ana <a@x.io>"))
	assert.False(t, ValidEmail(""))
}
