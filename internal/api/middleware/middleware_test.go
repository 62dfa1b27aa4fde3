package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestCORS(t *testing.T) {
	router := setupTestRouter()
	router.Use(CORS(DefaultCORSConfig()))
	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	tests := []struct {
		name           string
		method         string
		origin         string
		wantStatus     int
		wantCORSHeader bool
	}{
		{"simple GET request with origin", "GET", "http://localhost:5173", http.StatusOK, true},
		{"preflight OPTIONS request", "OPTIONS", "http://localhost:5173", http.StatusNoContent, true},
		{"no origin header", "GET", "", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCORSHeader {
				assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestCORSConfigFor(t *testing.T) {
	assert.Equal(t, []string{"*"}, CORSConfigFor(nil).AllowOrigins)

	cfg := CORSConfigFor([]string{"https://example.com"})
	assert.Equal(t, []string{"https://example.com"}, cfg.AllowOrigins)
	assert.Contains(t, cfg.AllowMethods, "PATCH")
	assert.Contains(t, cfg.AllowMethods, "DELETE")

	router := setupTestRouter()
	router.Use(CORS(cfg))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	// httptest defaults Host to example.com, which cors treats as same-origin.
	req := httptest.NewRequest("GET", "/test", nil)
	req.Host = "api.local"
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/test", nil)
	req.Host = "api.local"
	req.Header.Set("Origin", "https://evil.test")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimit(t *testing.T) {
	router := setupTestRouter()
	router.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(addr string) int {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("192.168.1.1:1234"))
	assert.Equal(t, http.StatusOK, send("192.168.1.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, send("192.168.1.1:1234"))
	assert.Equal(t, http.StatusOK, send("192.168.1.2:1234"))
}

func TestGlobalRateLimit(t *testing.T) {
	router := setupTestRouter()
	router.Use(GlobalRateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"} {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestLimitersForgetIdleClients(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newLimiters(RateLimitConfig{RequestsPerSecond: 10, Burst: 10, IdleTTL: time.Minute})
	l.now = func() time.Time { return now }

	require.True(t, l.allow("a"))
	require.True(t, l.allow("b"))
	assert.Equal(t, 2, l.size())

	now = now.Add(2 * time.Minute)
	require.True(t, l.allow("c"))
	assert.Equal(t, 1, l.size())
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	assert.Equal(t, 100, cfg.RequestsPerSecond)
	assert.Equal(t, 200, cfg.Burst)
	assert.Equal(t, 10*time.Minute, cfg.IdleTTL)
}
