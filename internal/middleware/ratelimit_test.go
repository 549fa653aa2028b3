package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"advisorcrm/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterBurstAndRefill(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(config.RateLimitConfig{
		Enabled:     true,
		RequestsPer: 60,
		Window:      time.Minute,
		Burst:       2,
	})
	defer rl.Stop()
	rl.now = func() time.Time { return now }

	ok, remaining, _ := rl.Allow("a")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
	ok, _, _ = rl.Allow("a")
	assert.True(t, ok)

	ok, _, retry := rl.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, time.Second, retry)

	// Other keys have their own bucket
	ok, _, _ = rl.Allow("b")
	assert.True(t, ok)

	now = now.Add(time.Second)
	ok, _, _ = rl.Allow("a")
	assert.True(t, ok)
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: false, Burst: 1})
	for i := 0; i < 5; i++ {
		ok, _, _ := rl.Allow("a")
		assert.True(t, ok)
	}
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPer: 1, Window: time.Hour, Burst: 1})
	defer rl.Stop()

	r := gin.New()
	r.Use(RateLimitMiddleware(rl))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
}
