package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/twentyq/internal/metrics"
)

// RateLimiter is a fixed-window limiter on Redis INCR/EXPIRE keyed by client
// IP. Without a reachable Redis it lets everything through.
type RateLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

// NewRateLimiter connects to addr. An empty addr or a failed ping yields a
// fail-open limiter.
func NewRateLimiter(addr, password string, db, max int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{max: max, window: window}
	if addr == "" || max <= 0 {
		return rl
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("redis unavailable, rate limiting disabled")
		client.Close()
		return rl
	}
	rl.client = client
	return rl
}

func (rl *RateLimiter) Enabled() bool { return rl != nil && rl.client != nil }

func (rl *RateLimiter) Close() error {
	if !rl.Enabled() {
		return nil
	}
	return rl.client.Close()
}

// Middleware limits requests per client IP. key format: rl:<endpoint>:<window_seconds>:<ip>
func (rl *RateLimiter) Middleware(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Enabled() {
			c.Next()
			return
		}

		key := "rl:" + endpoint + ":" + strconv.FormatInt(int64(rl.window.Seconds()), 10) + ":" + c.ClientIP()
		ctx := c.Request.Context()

		val, err := rl.client.Incr(ctx, key).Result()
		if err != nil {
			c.Header("X-RateLimit-Error", "redis-error")
			c.Next()
			return
		}
		if val == 1 {
			rl.client.Expire(ctx, key, rl.window)
		}
		if val > int64(rl.max) {
			metrics.RateLimited.WithLabelValues(endpoint).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "message": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
