package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T, sliding bool) (*Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStore(rdb, "as", sliding, false, 0), mr, rdb
}

func testSession(sid string) *Session {
	now := time.Now()
	return &Session{
		SessionID:   sid,
		IdentityID:  "id-1",
		Email:       "a@x.io",
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(time.Hour).Unix(),
		RefreshHash: [32]byte{1},
	}
}

func TestEncodeDecodeRejectsTrailingBytes(t *testing.T) {
	data, err := Encode(testSession("sid"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := Decode(append(data, 0)); !errors.Is(err, ErrSessionCorrupt) {
		t.Fatalf("expected ErrSessionCorrupt, got %v", err)
	}
}

func TestSaveGetDelete(t *testing.T) {
	store, _, _ := newSessionStoreTest(t, false)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("sid-1"), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "sid-1", 0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SessionID != "sid-1" || got.IdentityID != "id-1" || got.Email != "a@x.io" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if err := store.Delete(ctx, "sid-1"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.Delete(ctx, "sid-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := store.Get(ctx, "sid-1", 0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	count, err := store.ActiveCount(ctx)
	if err != nil || count != 0 {
		t.Fatalf("expected counter 0, got %d err=%v", count, err)
	}
	ids, err := store.ActiveSessionIDs(ctx, "id-1")
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected empty index, got %v err=%v", ids, err)
	}
}

func TestGetEnforcesAbsoluteLifetime(t *testing.T) {
	store, _, _ := newSessionStoreTest(t, true)
	ctx := context.Background()

	sess := testSession("sid-old")
	sess.CreatedAt = time.Now().Add(-2 * time.Hour).Unix()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Get(ctx, "sid-old", time.Hour); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session past absolute lifetime to be gone, got %v", err)
	}
}

func TestDeleteAllForIdentity(t *testing.T) {
	store, _, rdb := newSessionStoreTest(t, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Save(ctx, testSession(fmt.Sprintf("sid-%d", i)), time.Hour); err != nil {
			t.Fatalf("Save %d failed: %v", i, err)
		}
	}
	other := testSession("sid-other")
	other.IdentityID = "id-2"
	if err := store.Save(ctx, other, time.Hour); err != nil {
		t.Fatalf("Save other failed: %v", err)
	}

	if err := store.DeleteAllForIdentity(ctx, "id-1"); err != nil {
		t.Fatalf("DeleteAllForIdentity failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.Get(ctx, fmt.Sprintf("sid-%d", i), 0); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("sid-%d should be revoked, got %v", i, err)
		}
	}
	if _, err := store.Get(ctx, "sid-other", 0); err != nil {
		t.Fatalf("other identity's session must survive: %v", err)
	}
	if rdb.Exists(ctx, store.identityKey("id-1")).Val() != 0 {
		t.Fatal("expected identity index removed")
	}
	if count, _ := store.ActiveCount(ctx); count != 1 {
		t.Fatalf("expected counter 1, got %d", count)
	}
}

func TestRotateRefreshHash(t *testing.T) {
	store, _, _ := newSessionStoreTest(t, false)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("sid-r"), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	next := [32]byte{2}
	sess, err := store.RotateRefreshHash(ctx, "sid-r", [32]byte{1}, next)
	if err != nil {
		t.Fatalf("RotateRefreshHash failed: %v", err)
	}
	if sess.RefreshHash != next {
		t.Fatal("expected rotated hash to be returned")
	}

	// Presenting the old digest again is reuse and revokes the session.
	if _, err := store.RotateRefreshHash(ctx, "sid-r", [32]byte{1}, [32]byte{3}); !errors.Is(err, ErrRefreshHashMismatch) {
		t.Fatalf("expected ErrRefreshHashMismatch, got %v", err)
	}
	if _, err := store.Get(ctx, "sid-r", 0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session revoked after reuse, got %v", err)
	}
	if _, err := store.RotateRefreshHash(ctx, "sid-r", next, [32]byte{4}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCounterNeverNegativeUnderConcurrency(t *testing.T) {
	store, _, _ := newSessionStoreTest(t, false)
	ctx := context.Background()

	const (
		sessionsN = 8
		workers   = 6
		rounds    = 20
	)
	for i := 0; i < sessionsN; i++ {
		sess := testSession(fmt.Sprintf("sid-%d", i))
		sess.RefreshHash = [32]byte{byte(i + 1)}
		if err := store.Save(ctx, sess, time.Hour); err != nil {
			t.Fatalf("save session %d failed: %v", i, err)
		}
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func(workerID int) {
			defer wg.Done()
			<-start

			for r := 0; r < rounds; r++ {
				sid := fmt.Sprintf("sid-%d", (workerID+r)%sessionsN)

				switch (workerID + r) % 3 {
				case 0:
					if err := store.Delete(ctx, sid); err != nil {
						t.Errorf("delete failed: %v", err)
					}
				case 1:
					_, err := store.RotateRefreshHash(ctx, sid, [32]byte{0xFF}, [32]byte{byte(r)})
					if err != nil && !errors.Is(err, ErrRefreshHashMismatch) && !errors.Is(err, ErrSessionNotFound) {
						t.Errorf("rotate failed: %v", err)
					}
				default:
					if err := store.DeleteAllForIdentity(ctx, "id-1"); err != nil {
						t.Errorf("delete-all failed: %v", err)
					}
				}
			}
		}(w)
	}

	close(start)
	wg.Wait()

	count, err := store.ActiveCount(ctx)
	if err != nil {
		t.Fatalf("ActiveCount failed: %v", err)
	}
	if count < 0 {
		t.Fatalf("counter must never be negative, got %d", count)
	}
}

func TestStoreRedisUnavailable(t *testing.T) {
	store, mr, _ := newSessionStoreTest(t, false)
	mr.Close()

	if err := store.Save(context.Background(), testSession("sid"), time.Hour); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if _, err := store.Ping(context.Background()); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable from Ping, got %v", err)
	}
}
