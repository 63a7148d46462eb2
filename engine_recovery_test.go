package goIdentity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func registerForReset(t *testing.T, env *testEnv, email string) string {
	t.Helper()

	res, err := env.engine.Register(context.Background(), validRequest(email))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return res.IdentityID
}

func requestOTP(t *testing.T, env *testEnv, email string) string {
	t.Helper()

	ack, err := env.engine.RequestReset(context.Background(), email)
	if err != nil {
		t.Fatalf("RequestReset failed: %v", err)
	}
	if ack.Message != resetAckMessage {
		t.Fatalf("unexpected ack %q", ack.Message)
	}
	msg, ok := env.notifier.last(TemplateOTPCode)
	if !ok {
		t.Fatal("expected an otp to be dispatched")
	}
	return msg.Payload["code"]
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestRecoveryHappyPath(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	identityID := registerForReset(t, env, "reset@x.io")

	otherSession, err := env.engine.Login(ctx, "reset@x.io", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	code := requestOTP(t, env, "reset@x.io")
	if len(code) != 6 {
		t.Fatalf("expected 6 digit code, got %q", code)
	}

	token, err := env.engine.VerifyOTP(ctx, "reset@x.io", code)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if !env.engine.HasResetEvidence(ctx, token) {
		t.Fatal("expected reset evidence after verification")
	}

	if err := env.engine.ResetPassword(ctx, token, "NewPass1!"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	if _, err := env.engine.ValidateSession(ctx, otherSession.AccessToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected existing sessions revoked, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "reset@x.io", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	sess, err := env.engine.Login(ctx, "reset@x.io", "NewPass1!")
	if err != nil {
		t.Fatalf("Login with new password failed: %v", err)
	}
	if sess.IdentityID != identityID {
		t.Fatalf("expected identity %s, got %s", identityID, sess.IdentityID)
	}

	if env.engine.HasResetEvidence(ctx, token) {
		t.Fatal("spent token must not count as reset evidence")
	}
	if err := env.engine.ResetPassword(ctx, token, "Another1!"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected replayed token rejected, got %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricResetConfirmSuccess] != 1 || snap.Counters[MetricOTPVerifySuccess] != 1 {
		t.Fatalf("unexpected recovery counters %+v", snap.Counters)
	}
}

func TestRecoverySecondVerifyWithSameCode(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	registerForReset(t, env, "twice@x.io")
	code := requestOTP(t, env, "twice@x.io")

	if _, err := env.engine.VerifyOTP(ctx, "twice@x.io", code); err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if _, err := env.engine.VerifyOTP(ctx, "twice@x.io", code); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected ErrInvalidOrExpired, got %v", err)
	}
}

func TestRecoveryUnknownEmailIsIndistinguishable(t *testing.T) {
	env := newTestEnv(t, testConfig())

	ack, err := env.engine.RequestReset(context.Background(), "nobody@x.io")
	if err != nil {
		t.Fatalf("RequestReset failed: %v", err)
	}
	if ack.Message != resetAckMessage {
		t.Fatalf("unexpected ack %q", ack.Message)
	}
	if env.notifier.count(TemplateOTPCode) != 0 {
		t.Fatal("unknown email must not receive a code")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricResetRequestUnknown]; got != 1 {
		t.Fatalf("expected unknown counter 1, got %d", got)
	}

	if _, err := env.engine.VerifyOTP(context.Background(), "nobody@x.io", "482913"); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected ErrInvalidOrExpired for unknown email, got %v", err)
	}
}

func TestRecoveryRequestTimingMatchesForUnknownEmail(t *testing.T) {
	cfg := testConfig()
	defaults := DefaultConfig().Recovery
	cfg.Recovery.EnumerationDelayMin = defaults.EnumerationDelayMin
	cfg.Recovery.EnumerationDelayMax = defaults.EnumerationDelayMax
	cfg.Recovery.MaxRequests = 100
	env := newTestEnv(t, cfg)
	registerForReset(t, env, "known@x.io")

	lo := cfg.Recovery.EnumerationDelayMin
	// Scheduler slack on a loaded machine.
	hi := cfg.Recovery.EnumerationDelayMax + 25*time.Millisecond

	timed := func(email string) time.Duration {
		start := time.Now()
		if _, err := env.engine.RequestReset(context.Background(), email); err != nil {
			t.Fatalf("RequestReset(%s) failed: %v", email, err)
		}
		return time.Since(start)
	}

	for i := 0; i < 4; i++ {
		known := timed("known@x.io")
		unknown := timed("ghost@x.io")
		if known < lo || known > hi {
			t.Fatalf("registered request took %v, want within [%v, %v]", known, lo, hi)
		}
		if unknown < lo || unknown > hi {
			t.Fatalf("unknown request took %v, want within [%v, %v]", unknown, lo, hi)
		}
	}
	if got := env.notifier.count(TemplateOTPCode); got != 4 {
		t.Fatalf("expected 4 codes for the registered address, got %d", got)
	}
}

func TestRecoveryLookupFailureIsSilent(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.profiles.lookupErr = errors.New("profiles unreachable")

	ack, err := env.engine.RequestReset(context.Background(), "someone@x.io")
	if err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
	if ack.Message != resetAckMessage {
		t.Fatalf("unexpected ack %q", ack.Message)
	}
}

func TestRecoveryRequestCancelledContext(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := env.engine.RequestReset(ctx, "a@x.io"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRecoveryRequestThrottledSilently(t *testing.T) {
	cfg := testConfig()
	cfg.Recovery.MaxRequests = 2
	env := newTestEnv(t, cfg)
	registerForReset(t, env, "busy@x.io")

	for i := 0; i < 4; i++ {
		ack, err := env.engine.RequestReset(context.Background(), "busy@x.io")
		if err != nil || ack.Message != resetAckMessage {
			t.Fatalf("request %d: expected silent ack, got %+v %v", i, ack, err)
		}
	}
	if got := env.notifier.count(TemplateOTPCode); got != 2 {
		t.Fatalf("expected 2 codes dispatched, got %d", got)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricResetRateLimited]; got != 2 {
		t.Fatalf("expected 2 throttled requests, got %d", got)
	}
}

func TestRecoveryWrongCodeExhaustsAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.Recovery.MaxVerifyAttempts = 3
	env := newTestEnv(t, cfg)
	ctx := context.Background()
	registerForReset(t, env, "guess@x.io")
	code := requestOTP(t, env, "guess@x.io")
	bad := wrongCode(code)

	for i := 0; i < 3; i++ {
		if _, err := env.engine.VerifyOTP(ctx, "guess@x.io", bad); !errors.Is(err, ErrInvalidOtp) {
			t.Fatalf("attempt %d: expected ErrInvalidOtp, got %v", i+1, err)
		}
	}
	if _, err := env.engine.VerifyOTP(ctx, "guess@x.io", code); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected record gone after exhausting attempts, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricOTPAttemptsExceeded]; got != 1 {
		t.Fatalf("expected attempts exceeded metric 1, got %d", got)
	}
}

func TestRecoveryMalformedCode(t *testing.T) {
	env := newTestEnv(t, testConfig())
	registerForReset(t, env, "fmt@x.io")
	requestOTP(t, env, "fmt@x.io")

	for _, otp := range []string{"", "12345", "12a456", "1234567"} {
		if _, err := env.engine.VerifyOTP(context.Background(), "fmt@x.io", otp); !errors.Is(err, ErrInvalidOtp) {
			t.Fatalf("otp %q: expected ErrInvalidOtp, got %v", otp, err)
		}
	}
}

func TestRecoveryExpiredCode(t *testing.T) {
	env := newTestEnv(t, testConfig())
	registerForReset(t, env, "late@x.io")
	code := requestOTP(t, env, "late@x.io")

	env.engine.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	if _, err := env.engine.VerifyOTP(context.Background(), "late@x.io", code); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := env.engine.VerifyOTP(context.Background(), "late@x.io", code); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected expired record to be gone, got %v", err)
	}
}

func TestRecoveryExpiredResetSession(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	registerForReset(t, env, "slow@x.io")
	code := requestOTP(t, env, "slow@x.io")

	token, err := env.engine.VerifyOTP(ctx, "slow@x.io", code)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	env.engine.now = func() time.Time { return time.Now().Add(6 * time.Minute) }

	if env.engine.HasResetEvidence(ctx, token) {
		t.Fatal("expired reset session must not count as evidence")
	}
	if err := env.engine.ResetPassword(ctx, token, "NewPass1!"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if err := env.engine.ResetPassword(ctx, token, "NewPass1!"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected expired token to be gone, got %v", err)
	}
}

func TestRecoveryWeakPasswordKeepsToken(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	registerForReset(t, env, "weak@x.io")
	code := requestOTP(t, env, "weak@x.io")

	token, err := env.engine.VerifyOTP(ctx, "weak@x.io", code)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	if err := env.engine.ResetPassword(ctx, token, "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := env.engine.ResetPassword(ctx, token, "NewPass1!"); err != nil {
		t.Fatalf("expected token still usable after weak password, got %v", err)
	}
}

func TestRecoveryCredentialUpdateFailureSpendsToken(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	registerForReset(t, env, "broken@x.io")
	code := requestOTP(t, env, "broken@x.io")

	token, err := env.engine.VerifyOTP(ctx, "broken@x.io", code)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	env.identities.updateErr = errors.New("identity store unreachable")
	if err := env.engine.ResetPassword(ctx, token, "NewPass1!"); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}

	env.identities.updateErr = nil
	if err := env.engine.ResetPassword(ctx, token, "NewPass1!"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected token to stay spent, got %v", err)
	}
}

func TestRecoveryVerifyRaceSingleSuccess(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	registerForReset(t, env, "verify-race@x.io")
	code := requestOTP(t, env, "verify-race@x.io")

	const workers = 8
	start := make(chan struct{})
	tokens := make(chan string, workers)
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			token, err := env.engine.VerifyOTP(ctx, "verify-race@x.io", code)
			if err != nil {
				errs <- err
				return
			}
			tokens <- token
		}()
	}
	close(start)
	wg.Wait()
	close(tokens)
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrInvalidOrExpired) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	var issued []string
	for token := range tokens {
		issued = append(issued, token)
	}
	if len(issued) != 1 {
		t.Fatalf("expected exactly one reset token, got %d", len(issued))
	}
	if !env.engine.HasResetEvidence(ctx, issued[0]) {
		t.Fatal("the winning token must be live")
	}
}

func TestRecoveryConcurrentResetSingleWinner(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	registerForReset(t, env, "race@x.io")
	code := requestOTP(t, env, "race@x.io")

	token, err := env.engine.VerifyOTP(ctx, "race@x.io", code)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	const workers = 6
	start := make(chan struct{})
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- env.engine.ResetPassword(ctx, token, "NewPass1!")
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful reset, got %d", wins)
	}
}

func TestRecoveryNewRequestSupersedesOldCode(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	registerForReset(t, env, "again@x.io")

	first := requestOTP(t, env, "again@x.io")
	second := requestOTP(t, env, "again@x.io")
	if first == second {
		t.Skip("codes collided")
	}

	if _, err := env.engine.VerifyOTP(ctx, "again@x.io", first); !errors.Is(err, ErrInvalidOtp) {
		t.Fatalf("expected superseded code rejected, got %v", err)
	}
	if _, err := env.engine.VerifyOTP(ctx, "again@x.io", second); err != nil {
		t.Fatalf("expected latest code to verify, got %v", err)
	}
}
