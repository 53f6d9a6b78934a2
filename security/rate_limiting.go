package security

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles checkout traffic with redis counters, one fixed
// window per client identity.
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		limit:  limit,
		window: window,
	}
}

// CheckoutRateLimit is a route middleware for the reservation endpoint.
func (r *RateLimiter) CheckoutRateLimit() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		identity := e.RealIP()
		if e.Auth != nil {
			identity = fmt.Sprintf("user:%s", e.Auth.Id)
		}

		if err := r.allow(e.Request.Context(), identity); err != nil {
			return err
		}
		return e.Next()
	}
}

// allow counts the request against the identity's current window. Redis
// being down fails open: reservations keep working without the throttle
// rather than hard-failing checkout.
func (r *RateLimiter) allow(ctx context.Context, identity string) error {
	key := fmt.Sprintf("ratelimit:checkout:%s", identity)

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return nil
	}
	if count == 1 {
		r.redis.Expire(ctx, key, r.window)
	}
	if count > int64(r.limit) {
		return apis.NewApiError(http.StatusTooManyRequests,
			"Rate limit exceeded. Please try again later.", nil)
	}
	return nil
}
