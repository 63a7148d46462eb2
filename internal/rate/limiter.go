package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

// windowScript increments a counter and starts its window on the first hit
// in one round trip, so a crash between INCR and EXPIRE cannot leave an
// immortal key.
var windowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Limiter counts failed logins per email and per IP, and refresh attempts
// per session.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: redisClient, config: cfg}
}

// CheckLogin reports ErrRateLimited once email or ip has spent its failure
// budget. It does not count the attempt.
func (l *Limiter) CheckLogin(ctx context.Context, email, ip string) error {
	keys := l.loginKeys(email, ip)
	counts, err := l.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	for _, v := range counts {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var n int64
		if _, err := fmt.Sscan(s, &n); err == nil && n > int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// IncrementLogin records a failed login for email and ip. Every key is
// counted even when an earlier one is already over budget.
func (l *Limiter) IncrementLogin(ctx context.Context, email, ip string) error {
	var limited bool
	for _, key := range l.loginKeys(email, ip) {
		n, err := l.hit(ctx, key, l.config.LoginCooldownDuration)
		if err != nil {
			return err
		}
		limited = limited || n > int64(l.config.MaxLoginAttempts)
	}
	if limited {
		return ErrRateLimited
	}
	return nil
}

// ResetLogin clears the failure counters after a successful login or a
// completed password reset.
func (l *Limiter) ResetLogin(ctx context.Context, email, ip string) error {
	if err := l.redis.Del(ctx, l.loginKeys(email, ip)...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckRefresh counts a refresh for sessionID and fails past the budget.
func (l *Limiter) CheckRefresh(ctx context.Context, sessionID string) error {
	if !l.config.EnableRefreshThrottle {
		return nil
	}
	n, err := l.hit(ctx, refreshKey(sessionID), l.config.RefreshCooldownDuration)
	if err != nil {
		return err
	}
	if n > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := windowScript.Run(ctx, l.redis, []string{key}, window.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

func (l *Limiter) loginKeys(email, ip string) []string {
	keys := []string{loginEmailKey(email)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, loginIPKey(ip))
	}
	return keys
}

func loginEmailKey(email string) string {
	return "al:" + strings.ToLower(email)
}

func loginIPKey(ip string) string {
	return "ali:" + ip
}

func refreshKey(sessionID string) string {
	return "ar:" + sessionID
}
