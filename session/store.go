package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrRefreshHashMismatch = errors.New("refresh hash mismatch")
	ErrRedisUnavailable    = errors.New("redis unavailable")
)

const minSlidingTTL = time.Second

// deleteSessionLua removes one session, its index entry and one unit of the
// active counter, never driving the counter below zero.
var deleteSessionLua = redis.NewScript(`
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
  local count = tonumber(redis.call("GET", KEYS[3]) or "0")
  if count > 1 then
    redis.call("DECR", KEYS[3])
  elseif count == 1 then
    redis.call("DEL", KEYS[3])
  end
end
return existed
`)

// Store persists login sessions in Redis. Each identity has an index set of
// its session ids so all of them can be revoked at once.
type Store struct {
	redis         redis.UniversalClient
	prefix        string
	sliding       bool
	jitterEnabled bool
	jitterRange   time.Duration
}

func NewStore(
	redisClient redis.UniversalClient,
	prefix string,
	sliding bool,
	jitterEnabled bool,
	jitterRange time.Duration,
) *Store {
	if prefix == "" {
		prefix = "as"
	}
	return &Store{
		redis:         redisClient,
		prefix:        prefix,
		sliding:       sliding,
		jitterEnabled: jitterEnabled,
		jitterRange:   jitterRange,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) identityKey(identityID string) string {
	return s.prefix + ":i:" + identityID
}

func (s *Store) countKey() string {
	return s.prefix + ":count"
}

// Save writes the session, indexes it under its identity and bumps the
// active counter in one MULTI block.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	identityKey := s.identityKey(sess.IdentityID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, identityKey, sess.SessionID)
		pipe.Expire(ctx, identityKey, ttl)
		pipe.Incr(ctx, s.countKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get loads a session. With sliding expiration enabled the TTL is renewed,
// bounded by CreatedAt plus absoluteLifetime.
func (s *Store) Get(ctx context.Context, sessionID string, absoluteLifetime time.Duration) (*Session, error) {
	key := s.key(sessionID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID

	now := time.Now()
	remaining := remainingAbsoluteTTL(sess, absoluteLifetime, now)
	if remaining <= 0 {
		if err := s.deleteSessionAndIndex(ctx, sess.IdentityID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}

	if s.sliding {
		nextTTL, err := s.nextSlidingTTL(remaining)
		if err != nil {
			return nil, err
		}
		if err := s.redis.Expire(ctx, key, nextTTL).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return sess, nil
}

// Delete removes one session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		// Unreadable blobs are dropped without touching any index.
		if delErr := s.redis.Del(ctx, s.key(sessionID)).Err(); delErr != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, delErr)
		}
		return nil
	}

	return s.deleteSessionAndIndex(ctx, sess.IdentityID, sessionID)
}

// DeleteAllForIdentity revokes every session indexed under identityID.
//
// The index is read before the delete, so a session saved in between
// survives this call. Callers that need a hard cutoff run it again after
// the credential change is committed.
func (s *Store) DeleteAllForIdentity(ctx context.Context, identityID string) error {
	identityKey := s.identityKey(identityID)

	sessionIDs, err := s.redis.SMembers(ctx, identityKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(sessionIDs))
	for _, sid := range sessionIDs {
		keys = append(keys, s.key(sid))
	}

	var existing int64
	if len(keys) > 0 {
		existing, err = s.redis.Exists(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	current, err := s.ActiveCount(ctx)
	if err != nil {
		return err
	}
	decrement := existing
	if decrement > int64(current) {
		decrement = int64(current)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, identityKey)
		if decrement > 0 {
			pipe.DecrBy(ctx, s.countKey(), decrement)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// RotateRefreshHash swaps the stored refresh digest from providedHash to
// nextHash. A mismatch is treated as token reuse and deletes the session.
func (s *Store) RotateRefreshHash(ctx context.Context, sessionID string, providedHash, nextHash [32]byte) (*Session, error) {
	const maxRetries = 4
	key := s.key(sessionID)

	for i := 0; i < maxRetries; i++ {
		var rotated *Session
		var reuse *Session

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			sess, err := Decode(data)
			if err != nil {
				return err
			}
			sess.SessionID = sessionID

			if time.Now().Unix() >= sess.ExpiresAt {
				return redis.Nil
			}

			if subtle.ConstantTimeCompare(sess.RefreshHash[:], providedHash[:]) != 1 {
				reuse = sess
				return ErrRefreshHashMismatch
			}

			ttl, err := tx.PTTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				return redis.Nil
			}

			sess.RefreshHash = nextHash
			updated, err := Encode(sess)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err != nil {
				return err
			}

			rotated = sess
			return nil
		}, key)

		switch {
		case err == nil:
			return rotated, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return nil, ErrSessionNotFound
		case errors.Is(err, ErrRefreshHashMismatch):
			if delErr := s.deleteSessionAndIndex(ctx, reuse.IdentityID, sessionID); delErr != nil {
				return nil, delErr
			}
			return nil, ErrRefreshHashMismatch
		case errors.Is(err, ErrSessionCorrupt):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return nil, ErrRefreshHashMismatch
}

// ActiveSessionIDs lists the session ids indexed under identityID. Ids of
// sessions that already expired may still appear.
func (s *Store) ActiveSessionIDs(ctx context.Context, identityID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.identityKey(identityID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// ActiveCount returns the store-wide active session counter.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	count, err := s.redis.Get(ctx, s.countKey()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Ping checks Redis reachability and returns the round-trip time.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) deleteSessionAndIndex(ctx context.Context, identityID, sessionID string) error {
	keys := []string{s.key(sessionID), s.identityKey(identityID), s.countKey()}
	if err := deleteSessionLua.Run(ctx, s.redis, keys, sessionID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func remainingAbsoluteTTL(sess *Session, absoluteLifetime time.Duration, now time.Time) time.Duration {
	storedExpiry := time.Unix(sess.ExpiresAt, 0)
	if absoluteLifetime <= 0 {
		return storedExpiry.Sub(now)
	}

	configCap := time.Unix(sess.CreatedAt, 0).Add(absoluteLifetime)
	if configCap.Before(storedExpiry) {
		return configCap.Sub(now)
	}
	return storedExpiry.Sub(now)
}

func (s *Store) nextSlidingTTL(remaining time.Duration) (time.Duration, error) {
	next := remaining

	if s.jitterEnabled && s.jitterRange > 0 {
		jitter, err := randomJitter(s.jitterRange)
		if err != nil {
			return 0, err
		}
		next += jitter
	}

	if next > remaining {
		next = remaining
	}
	floor := minSlidingTTL
	if remaining < floor {
		floor = remaining
	}
	if next < floor {
		next = floor
	}

	return next, nil
}

func randomJitter(jitterRange time.Duration) (time.Duration, error) {
	max := jitterRange.Nanoseconds()
	if max > (math.MaxInt64-1)/2 {
		return 0, errors.New("jitter range too large")
	}

	n, err := rand.Int(rand.Reader, big.NewInt(max*2+1))
	if err != nil {
		return 0, err
	}
	return time.Duration(n.Int64() - max), nil
}
