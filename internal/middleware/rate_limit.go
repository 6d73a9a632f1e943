package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimit counts requests per key in fixed one-minute windows in Redis.
// It is a no-op without Redis and fails open on cache errors.
func RateLimit(cache *redis.Client, prefix string, maxPerMin int, key func(c *fiber.Ctx) string, message string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		k := key(c)
		if k == "" {
			return c.Next()
		}
		cacheKey := prefix + k
		cnt, err := cache.Incr(c.UserContext(), cacheKey).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), cacheKey, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, message)
		}
		return c.Next()
	}
}

// LoginRateLimit limits login attempts per phone, or per IP when no phone is sent.
func LoginRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return RateLimit(cache, "rl:login:", maxPerMin, func(c *fiber.Ctx) string {
		var req struct {
			Phone string `json:"phone"`
		}
		_ = c.BodyParser(&req)
		if phone := strings.TrimSpace(req.Phone); phone != "" {
			return phone
		}
		return c.IP()
	}, "too many login attempts, try again later")
}

// UnlockRateLimit limits vault release attempts per authenticated owner, so a
// client polling for its lock to expire cannot hammer the ledger.
func UnlockRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 30
	}
	return RateLimit(cache, "rl:unlock:", maxPerMin, func(c *fiber.Ctx) string {
		uid, _ := c.Locals("user_id").(string)
		return uid
	}, "too many unlock attempts, try again later")
}
