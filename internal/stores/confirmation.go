package stores

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrConfirmationNotFound         = errors.New("confirmation code not found")
	ErrConfirmationRedisUnavailable = errors.New("confirmation redis unavailable")
)

// ConfirmationStore maps the hash of an emailed confirmation code to the
// identity it confirms. Codes are single use.
type ConfirmationStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewConfirmationStore(redisClient redis.UniversalClient, prefix string) *ConfirmationStore {
	if prefix == "" {
		prefix = "cc"
	}
	return &ConfirmationStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ConfirmationStore) key(codeHash [32]byte) string {
	return s.prefix + ":" + base64.RawURLEncoding.EncodeToString(codeHash[:])
}

func (s *ConfirmationStore) Save(ctx context.Context, codeHash [32]byte, identityID string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(codeHash), identityID, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfirmationRedisUnavailable, err)
	}
	return nil
}

// Consume returns the identity bound to codeHash and removes the mapping in
// the same MULTI block.
func (s *ConfirmationStore) Consume(ctx context.Context, codeHash [32]byte) (string, error) {
	key := s.key(codeHash)

	var get *redis.StringCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %v", ErrConfirmationRedisUnavailable, err)
	}

	identityID, err := get.Result()
	if errors.Is(err, redis.Nil) || identityID == "" {
		return "", ErrConfirmationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfirmationRedisUnavailable, err)
	}
	return identityID, nil
}
