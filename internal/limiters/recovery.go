package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRecoveryRateLimited      = errors.New("recovery rate limited")
	ErrRecoveryRedisUnavailable = errors.New("recovery redis unavailable")
)

type RecoveryConfig struct {
	EnableEmailThrottle bool
	EnableIPThrottle    bool
	MaxRequests         int
	Window              time.Duration
}

// RecoveryLimiter throttles reset requests per email and per client IP with
// fixed-window counters.
type RecoveryLimiter struct {
	redis  redis.UniversalClient
	config RecoveryConfig
}

func NewRecoveryLimiter(redisClient redis.UniversalClient, cfg RecoveryConfig) *RecoveryLimiter {
	return &RecoveryLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *RecoveryLimiter) CheckRequest(ctx context.Context, email, ip string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if l.config.EnableEmailThrottle {
		if err := l.enforceFixedWindow(ctx, requestEmailKey(email)); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, requestIPKey(ip)); err != nil {
			return err
		}
	}
	return nil
}

func (l *RecoveryLimiter) Window() time.Duration {
	if l == nil {
		return 0
	}
	return l.config.Window
}

func (l *RecoveryLimiter) enforceFixedWindow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecoveryRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRecoveryRedisUnavailable, err)
		}
	}

	if count > int64(l.config.MaxRequests) {
		return ErrRecoveryRateLimited
	}

	return nil
}

func requestEmailKey(email string) string {
	return "rqe:" + strings.ToLower(email)
}

func requestIPKey(ip string) string {
	return "rqip:" + ip
}
