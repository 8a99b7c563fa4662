package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/veoflow/api/internal/pkg/logger"
	"github.com/veoflow/api/pkg/response"
)

// RateLimiter is a fixed-window per-user counter in Redis
type RateLimiter struct {
	redis *redis.Client
	log   *logger.Logger
}

func NewRateLimiter(redisClient *redis.Client, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.Nop()
	}
	return &RateLimiter{redis: redisClient, log: log}
}

// Limit creates a rate limiting middleware. A non-positive maxRequests
// disables it.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" || maxRequests <= 0 {
			return c.Next()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, userID)
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// fail open
			rl.log.Warn("rate limiter unavailable", "key", key, "error", err)
			return c.Next()
		}
		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", strconv.Itoa(int(ttl.Seconds())))
			c.Set("X-RateLimit-Remaining", "0")
			return response.RateLimited(c)
		}
		c.Set("X-RateLimit-Remaining", strconv.Itoa(maxRequests-int(count)))

		return c.Next()
	}
}

// ProjectsLimit guards project creation and edits
func (rl *RateLimiter) ProjectsLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("projects", maxPerMin, time.Minute)
}

// RunLimit guards pipeline runs and scene retries, which spend video quota
func (rl *RateLimiter) RunLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("runs", maxPerHour, time.Hour)
}

// CredentialLimit guards key probes
func (rl *RateLimiter) CredentialLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("credentials", maxPerMin, time.Minute)
}
