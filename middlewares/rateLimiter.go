package middlewares

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const rateLimitKeyPrefix = "RateLimit:"

// RateLimiter is a fixed-window counter per client IP kept in Redis,
// so every instance shares the same budget.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	logger *logrus.Logger
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration, logger *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := rateLimitKeyPrefix + c.ClientIP()

		count, err := rl.client.Incr(ctx, key).Result()
		if err != nil {
			// Redis trouble must not take payments down.
			rl.logger.WithField("field", "RateLimiter").Warn("rate limit check skipped: " + err.Error())
			c.Next()
			return
		}
		if count == 1 {
			rl.client.Expire(ctx, key, rl.window)
		}

		if count > rl.limit {
			tooManyRequests(c, rl.window)
			return
		}
		c.Next()
	}
}

// LocalRateLimiter is the in-process fallback: a token bucket per client IP.
// A bucket idle for a whole window has refilled, so it is dropped and recreated on demand.
type LocalRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*localBucket
	every     rate.Limit
	burst     int
	window    time.Duration
	now       func() time.Time
	lastSweep time.Time
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLocalRateLimiter(limit int, window time.Duration) *LocalRateLimiter {
	return &LocalRateLimiter{
		limiters: make(map[string]*localBucket),
		every:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
		window:   window,
		now:      time.Now,
	}
}

func (rl *LocalRateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.window {
		rl.sweep(now)
	}
	b, ok := rl.limiters[key]
	if !ok {
		b = &localBucket{limiter: rate.NewLimiter(rl.every, rl.burst)}
		rl.limiters[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// sweep drops buckets idle for at least a window. Callers hold rl.mu.
func (rl *LocalRateLimiter) sweep(now time.Time) {
	for key, b := range rl.limiters {
		if now.Sub(b.lastSeen) >= rl.window {
			delete(rl.limiters, key)
		}
	}
	rl.lastSweep = now
}

func (rl *LocalRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			tooManyRequests(c, rl.window)
			return
		}
		c.Next()
	}
}

func tooManyRequests(c *gin.Context, window time.Duration) {
	c.Header("Retry-After", fmt.Sprint(int(window.Seconds())))
	abortJSON(c, http.StatusTooManyRequests,
		fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(window.Seconds())))
}

// RateLimit picks the Redis limiter when a client is available, else the in-process one.
func RateLimit(client *redis.Client, limit int, window time.Duration, logger *logrus.Logger) gin.HandlerFunc {
	if limit <= 0 {
		limit = 600
	}
	if window <= 0 {
		window = time.Minute
	}
	if client != nil {
		return NewRateLimiter(client, int64(limit), window, logger).Middleware()
	}
	return NewLocalRateLimiter(limit, window).Middleware()
}
