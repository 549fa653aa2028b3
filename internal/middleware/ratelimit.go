package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"advisorcrm/internal/config"
	"advisorcrm/internal/utils"

	"github.com/gin-gonic/gin"
)

// RateLimiter implements token bucket rate limiting per client key
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*tokenBucket
	config   config.RateLimitConfig
	stopOnce sync.Once
	stop     chan struct{}
	now      func() time.Time
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a rate limiter. A disabled config yields a limiter
// that allows everything.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		config:  cfg,
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	if cfg.Enabled && cfg.CleanupInterval > 0 {
		go rl.cleanup()
	}
	return rl
}

func (rl *RateLimiter) maxTokens() float64 {
	if rl.config.Burst > 0 {
		return float64(rl.config.Burst)
	}
	return float64(rl.config.RequestsPer)
}

// refillRate is tokens per second
func (rl *RateLimiter) refillRate() float64 {
	if rl.config.Window <= 0 {
		return float64(rl.config.RequestsPer)
	}
	return float64(rl.config.RequestsPer) / rl.config.Window.Seconds()
}

// cleanup removes idle buckets periodically
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, bucket := range rl.buckets {
				if now.Sub(bucket.lastRefill) > 10*time.Minute {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Allow consumes a token for key. It reports the tokens left and, when
// refused, how long until the next token.
func (rl *RateLimiter) Allow(key string) (ok bool, remaining int, retryAfter time.Duration) {
	if !rl.config.Enabled {
		return true, int(rl.maxTokens()), 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, exists := rl.buckets[key]
	if !exists {
		bucket = &tokenBucket{tokens: rl.maxTokens(), lastRefill: now}
		rl.buckets[key] = bucket
	}

	elapsed := now.Sub(bucket.lastRefill).Seconds()
	bucket.tokens = math.Min(rl.maxTokens(), bucket.tokens+elapsed*rl.refillRate())
	bucket.lastRefill = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true, int(bucket.tokens), 0
	}

	wait := time.Second
	if rate := rl.refillRate(); rate > 0 {
		wait = time.Duration((1 - bucket.tokens) / rate * float64(time.Second))
	}
	return false, 0, wait
}

// RateLimitMiddleware limits by advisor when authenticated, otherwise by IP
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil || !rl.config.Enabled {
			c.Next()
			return
		}

		key := "ip:" + c.ClientIP()
		if userID := UserID(c); userID != "" {
			key = "user:" + userID
		}

		ok, remaining, retryAfter := rl.Allow(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(int(rl.maxTokens())))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			utils.RespondWithRateLimited(c, retryAfter)
			return
		}

		c.Next()
	}
}
