package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fieldcrm/crm-jobs/pkg/response"
)

const redisTimeout = 500 * time.Millisecond

// RateLimiter is a fixed-window request counter kept in Redis. Without Redis
// every request passes.
type RateLimiter struct {
	redis  redis.Cmdable
	logger zerolog.Logger
}

func NewRateLimiter(redisClient redis.Cmdable, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{redis: redisClient, logger: logger}
}

// Limit allows maxRequests per window for each operator, or each client IP
// when the request is unauthenticated
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl == nil || rl.redis == nil || maxRequests <= 0 {
			return c.Next()
		}

		subject := GetUserID(c)
		if subject == "" {
			subject = "ip:" + c.IP()
		}
		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, subject)

		ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
		defer cancel()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			rl.logger.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable, allowing request")
			return c.Next()
		}

		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// RunLimit limits job starts per hour
func (rl *RateLimiter) RunLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("run", maxPerHour, time.Hour)
}

// ConfigLimit limits config writes per minute
func (rl *RateLimiter) ConfigLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("config", maxPerMin, time.Minute)
}
