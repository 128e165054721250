package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/use-agent/clearance/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(IdentityKey))
	})
	return r
}

func do(r http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	r := newEngine(Auth([]string{"k1", "k2"}))

	tests := []struct {
		name   string
		header string
		value  string
		status int
		body   string
	}{
		{"missing", "", "", http.StatusUnauthorized, "missing API key"},
		{"invalid", "X-API-Key", "nope", http.StatusUnauthorized, "invalid API key"},
		{"x-api-key", "X-API-Key", "k2", http.StatusOK, "k2"},
		{"bearer", "Authorization", "Bearer k1", http.StatusOK, "k1"},
		{"basic", "Authorization", "Basic k1", http.StatusUnauthorized, "missing API key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.header, tt.value)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestAuth_NoKeysIsOpen(t *testing.T) {
	r := newEngine(Auth([]string{""}))
	assert.Equal(t, http.StatusOK, do(r, "", "").Code)
}

func TestRateLimit(t *testing.T) {
	store := newLimiterStore(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 2})
	now := time.Unix(1700000000, 0)
	store.now = func() time.Time { return now }
	r := newEngine(Auth([]string{"a", "b"}), rateLimit(store))

	assert.Equal(t, http.StatusOK, do(r, "X-API-Key", "a").Code)
	assert.Equal(t, http.StatusOK, do(r, "X-API-Key", "a").Code)

	w := do(r, "X-API-Key", "a")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")

	assert.Equal(t, http.StatusOK, do(r, "X-API-Key", "b").Code, "buckets are per key")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, do(r, "X-API-Key", "a").Code)
}

func TestLimiterStore_Evict(t *testing.T) {
	store := newLimiterStore(config.RateLimitConfig{RequestsPerSecond: 5, Burst: 10})
	now := time.Unix(1700000000, 0)
	store.now = func() time.Time { return now }

	store.reserve("old")
	now = now.Add(2 * time.Hour)
	store.reserve("new")
	store.evict(now.Add(-time.Hour))

	assert.Len(t, store.limiters, 1)
	assert.Contains(t, store.limiters, "new")
}
