package stores

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func seedRequested(t *testing.T, store *RecoveryStore, email, otp string, now time.Time) {
	t.Helper()

	err := store.Upsert(context.Background(), email, &RecoveryRecord{
		IdentityID:   "id-1",
		OTPHash:      sha256.Sum256([]byte(otp)),
		OTPExpiresAt: now.Add(10 * time.Minute).Unix(),
	}, now)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
}

func TestRecoveryRecordCodecRoundTrip(t *testing.T) {
	in := &RecoveryRecord{
		State:          RecoveryVerified,
		IdentityID:     "b4c5f1c2-identity",
		OTPHash:        sha256.Sum256([]byte("123456")),
		OTPExpiresAt:   1700000000,
		TokenHash:      sha256.Sum256([]byte("tok")),
		TokenExpiresAt: 1700000300,
		Attempts:       3,
	}

	data, err := encodeRecoveryRecord(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := decodeRecoveryRecord(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *out != *in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}

	if _, err := decodeRecoveryRecord(data[:len(data)-1]); !errors.Is(err, errCorruptRecord) {
		t.Fatalf("expected errCorruptRecord on truncated data, got %v", err)
	}
	data[0] = 9
	if _, err := decodeRecoveryRecord(data); !errors.Is(err, errCorruptRecord) {
		t.Fatalf("expected errCorruptRecord on unknown version, got %v", err)
	}
}

func TestRecoveryVerifyAndConsume(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	store := NewRecoveryStore(rdb, "rr", time.Minute)
	now := time.Unix(1700000000, 0)

	seedRequested(t, store, "a@x.io", "482913", now)

	tokenHash := sha256.Sum256([]byte("reset-token"))
	rec, err := store.Verify(ctx, "a@x.io", sha256.Sum256([]byte("482913")), tokenHash, 5*time.Minute, 5, now)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if rec.State != RecoveryVerified || rec.IdentityID != "id-1" {
		t.Fatalf("unexpected verified record: %+v", rec)
	}
	if rec.OTPHash != ([32]byte{}) {
		t.Fatal("expected otp hash to be discarded on verification")
	}

	if _, err := store.Verify(ctx, "a@x.io", sha256.Sum256([]byte("482913")), tokenHash, 5*time.Minute, 5, now); !errors.Is(err, ErrRecoveryNotFound) {
		t.Fatalf("expected second verify to fail with ErrRecoveryNotFound, got %v", err)
	}

	if _, err := store.Peek(ctx, tokenHash, now); err != nil {
		t.Fatalf("Peek failed: %v", err)
	}

	claimed, err := store.Consume(ctx, tokenHash, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if claimed.IdentityID != "id-1" {
		t.Fatalf("unexpected claimed identity %q", claimed.IdentityID)
	}

	if _, err := store.Consume(ctx, tokenHash, now.Add(time.Minute)); !errors.Is(err, ErrRecoveryNotFound) {
		t.Fatalf("expected replayed consume to fail, got %v", err)
	}
	if rdb.Exists(ctx, store.key("a@x.io"), store.tokenKey(tokenHash)).Val() != 0 {
		t.Fatal("expected record and token index to be removed")
	}
}

func TestRecoveryVerifyMismatchCountsAttempts(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	store := NewRecoveryStore(rdb, "rr", time.Minute)
	now := time.Unix(1700000000, 0)

	seedRequested(t, store, "a@x.io", "482913", now)

	wrong := sha256.Sum256([]byte("000000"))
	tokenHash := sha256.Sum256([]byte("t"))
	for i := 1; i < 3; i++ {
		_, err := store.Verify(ctx, "a@x.io", wrong, tokenHash, 5*time.Minute, 3, now)
		if !errors.Is(err, ErrRecoveryOTPMismatch) {
			t.Fatalf("attempt %d expected ErrRecoveryOTPMismatch, got %v", i, err)
		}
	}

	rec, err := store.Get(ctx, "a@x.io")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.State != RecoveryRequested || rec.Attempts != 2 {
		t.Fatalf("expected Requested with 2 attempts, got %+v", rec)
	}

	if _, err := store.Verify(ctx, "a@x.io", wrong, tokenHash, 5*time.Minute, 3, now); !errors.Is(err, ErrRecoveryAttemptsExceeded) {
		t.Fatalf("expected ErrRecoveryAttemptsExceeded, got %v", err)
	}
	if _, err := store.Get(ctx, "a@x.io"); !errors.Is(err, ErrRecoveryNotFound) {
		t.Fatalf("expected record deleted after attempts exceeded, got %v", err)
	}
}

func TestRecoveryVerifyExpiredDeletesRecord(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	store := NewRecoveryStore(rdb, "rr", time.Minute)
	now := time.Unix(1700000000, 0)

	seedRequested(t, store, "a@x.io", "482913", now)

	late := now.Add(10*time.Minute + time.Second)
	_, err := store.Verify(ctx, "a@x.io", sha256.Sum256([]byte("482913")), sha256.Sum256([]byte("t")), 5*time.Minute, 5, late)
	if !errors.Is(err, ErrRecoveryExpired) {
		t.Fatalf("expected ErrRecoveryExpired, got %v", err)
	}
	if _, err := store.Get(ctx, "a@x.io"); !errors.Is(err, ErrRecoveryNotFound) {
		t.Fatalf("expected expired record to be deleted, got %v", err)
	}
}

func TestRecoveryConsumeExpiredToken(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	store := NewRecoveryStore(rdb, "rr", time.Minute)
	now := time.Unix(1700000000, 0)

	seedRequested(t, store, "a@x.io", "482913", now)
	tokenHash := sha256.Sum256([]byte("t"))
	if _, err := store.Verify(ctx, "a@x.io", sha256.Sum256([]byte("482913")), tokenHash, 5*time.Minute, 5, now); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	late := now.Add(5*time.Minute + time.Second)
	if _, err := store.Peek(ctx, tokenHash, late); !errors.Is(err, ErrRecoveryExpired) {
		t.Fatalf("expected Peek ErrRecoveryExpired, got %v", err)
	}
	if _, err := store.Consume(ctx, tokenHash, late); !errors.Is(err, ErrRecoveryExpired) {
		t.Fatalf("expected Consume ErrRecoveryExpired, got %v", err)
	}
	if _, err := store.Consume(ctx, tokenHash, late); !errors.Is(err, ErrRecoveryNotFound) {
		t.Fatalf("expected expired token to be gone, got %v", err)
	}
}

func TestRecoveryUpsertReplacesEarlierRecord(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	store := NewRecoveryStore(rdb, "rr", time.Minute)
	now := time.Unix(1700000000, 0)

	seedRequested(t, store, "a@x.io", "111111", now)
	seedRequested(t, store, "a@x.io", "222222", now)

	tokenHash := sha256.Sum256([]byte("t"))
	if _, err := store.Verify(ctx, "a@x.io", sha256.Sum256([]byte("111111")), tokenHash, 5*time.Minute, 5, now); !errors.Is(err, ErrRecoveryOTPMismatch) {
		t.Fatalf("expected superseded otp to mismatch, got %v", err)
	}
	if _, err := store.Verify(ctx, "a@x.io", sha256.Sum256([]byte("222222")), tokenHash, 5*time.Minute, 5, now); err != nil {
		t.Fatalf("expected latest otp to verify, got %v", err)
	}
}

func TestRecoveryConsumeRaceSingleSuccess(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	store := NewRecoveryStore(rdb, "rr", time.Minute)
	now := time.Unix(1700000000, 0)

	seedRequested(t, store, "a@x.io", "482913", now)
	tokenHash := sha256.Sum256([]byte("t"))
	if _, err := store.Verify(ctx, "a@x.io", sha256.Sum256([]byte("482913")), tokenHash, 5*time.Minute, 5, now); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	const workers = 8
	start := make(chan struct{})
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.Consume(ctx, tokenHash, now)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrRecoveryNotFound) {
			t.Fatalf("unexpected consume error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", success)
	}
}

func TestRecoveryStoreRedisUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewRecoveryStore(rdb, "rr", time.Minute)
	now := time.Unix(1700000000, 0)
	mr.Close()

	err := store.Upsert(context.Background(), "a@x.io", &RecoveryRecord{
		IdentityID:   "id-1",
		OTPExpiresAt: now.Add(time.Minute).Unix(),
	}, now)
	if !errors.Is(err, ErrRecoveryRedisUnavailable) {
		t.Fatalf("expected ErrRecoveryRedisUnavailable, got %v", err)
	}
	if _, err := store.Consume(context.Background(), [32]byte{1}, now); !errors.Is(err, ErrRecoveryRedisUnavailable) {
		t.Fatalf("expected ErrRecoveryRedisUnavailable from Consume, got %v", err)
	}
}
