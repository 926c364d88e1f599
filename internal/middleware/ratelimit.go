package middleware

import (
	"net/http"
	"sync"
	"time"

	"questboard/internal/config"
	appmetrics "questboard/internal/metrics"

	"github.com/gin-gonic/gin"
)

// tokenBucket 按分钟速率连续补充令牌，容量为 burst。
type tokenBucket struct {
	mu       sync.Mutex
	level    float64
	capacity float64
	perSec   float64
	seenAt   time.Time
}

func newBucket(rpm, burst int) *tokenBucket {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = rpm
	}
	return &tokenBucket{
		level:    float64(burst),
		capacity: float64(burst),
		perSec:   float64(rpm) / 60.0,
		seenAt:   time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if gained := now.Sub(b.seenAt).Seconds() * b.perSec; gained > 0 {
		b.level += gained
		if b.level > b.capacity {
			b.level = b.capacity
		}
		b.seenAt = now
	}
	if b.level < 1 {
		return false
	}
	b.level--
	return true
}

// RateLimitMiddleware 按客户端 IP 做令牌桶限流，关闭时直接放行。
// 被拒绝的请求计入 rate_limit 指标。
func RateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	rl := cfg.Security.RateLimiting
	if !rl.Enabled || rl.RequestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	var mu sync.Mutex
	buckets := make(map[string]*tokenBucket)

	return func(c *gin.Context) {
		key := c.ClientIP()
		if key == "" {
			key = "unknown"
		}

		mu.Lock()
		b, ok := buckets[key]
		if !ok {
			b = newBucket(rl.RequestsPerMinute, rl.Burst)
			buckets[key] = b
		}
		mu.Unlock()

		if !b.allow() {
			appmetrics.IncRateLimitDrop("global")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too Many Requests",
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
