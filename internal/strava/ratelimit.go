package strava

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
)

// Limiter blocks until a request may be made under key.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// RedisLimiter enforces the application's request budget in Redis so that
// every process shares it.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisLimiter allows rate requests per period for each key.
func NewRedisLimiter(rdb *redis.Client, rate int, period time.Duration) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   redis_rate.Limit{Rate: rate, Burst: rate, Period: period},
		prefix:  "strava:",
	}
}

// Wait blocks until key has budget left or ctx is done.
func (l *RedisLimiter) Wait(ctx context.Context, key string) error {
	for {
		res, err := l.limiter.Allow(ctx, l.prefix+key, l.limit)
		if err != nil {
			return fmt.Errorf("checking rate limit for %q: %w", key, err)
		}
		if res.Allowed > 0 {
			return nil
		}

		t := time.NewTimer(res.RetryAfter)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RateUsage is the usage Strava reports in its X-RateLimit headers.
type RateUsage struct {
	ShortLimit int
	DailyLimit int
	ShortUsage int
	DailyUsage int
}

// ParseRateUsage reads the "short,daily" pairs from the response headers.
func ParseRateUsage(h http.Header) (RateUsage, bool) {
	sl, dl, ok := parsePair(h.Get("X-RateLimit-Limit"))
	if !ok {
		return RateUsage{}, false
	}
	su, du, ok := parsePair(h.Get("X-RateLimit-Usage"))
	if !ok {
		return RateUsage{}, false
	}
	return RateUsage{ShortLimit: sl, DailyLimit: dl, ShortUsage: su, DailyUsage: du}, true
}

func parsePair(v string) (int, int, bool) {
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	a, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	b, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return a, b, true
}
