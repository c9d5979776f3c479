package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gio888/whisper-transcription/pkg/response"
)

// RateLimiter enforces fixed-window request limits backed by Redis.
type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// UploadLimit caps how many upload requests one client may make per hour.
func (r *RateLimiter) UploadLimit(perHour int) fiber.Handler {
	return r.limit("upload", perHour, time.Hour)
}

func (r *RateLimiter) limit(scope string, max int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if max <= 0 {
			return c.Next()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", scope, c.IP())
		count, err := r.redis.Incr(c.Context(), key).Result()
		if err != nil {
			// Redis being down should not lock clients out.
			return c.Next()
		}
		if count == 1 {
			r.redis.Expire(c.Context(), key, window)
		}
		if count > int64(max) {
			ttl, _ := r.redis.TTL(c.Context(), key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		return c.Next()
	}
}
