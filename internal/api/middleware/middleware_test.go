package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/id"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func serve(router *gin.Engine, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	router := setupTestRouter()
	router.Use(CORS(DefaultCORSConfig()))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})

	tests := []struct {
		name           string
		method         string
		origin         string
		wantStatus     int
		wantCORSHeader bool
	}{
		{"simple GET with origin", "GET", "http://localhost:3000", http.StatusOK, true},
		{"preflight OPTIONS", "OPTIONS", "http://localhost:3000", http.StatusNoContent, true},
		{"no origin header", "GET", "", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", nil)
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

func TestDefaultCORSConfig(t *testing.T) {
	cfg := DefaultCORSConfig()

	assert.Contains(t, cfg.AllowOrigins, "*")
	assert.Contains(t, cfg.AllowMethods, "PUT")
	assert.Contains(t, cfg.AllowMethods, "DELETE")
	assert.Contains(t, cfg.AllowHeaders, "X-Trace-ID")
	assert.Equal(t, 12*time.Hour, cfg.MaxAge)
}

func TestRateLimit(t *testing.T) {
	router := setupTestRouter()
	router.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 2, Burst: 2}))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		w := serve(router, "GET", "/test", "192.168.1.1:1234")
		assert.Equal(t, http.StatusOK, w.Code, "request %d should succeed", i+1)
	}
	w := serve(router, "GET", "/test", "192.168.1.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
}

func TestRateLimitDifferentClients(t *testing.T) {
	router := setupTestRouter()
	router.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(router, "GET", "/test", "192.168.1.1:1234").Code)
	assert.Equal(t, http.StatusOK, serve(router, "GET", "/test", "192.168.1.2:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(router, "GET", "/test", "192.168.1.1:1234").Code)
}

func TestGlobalRateLimit(t *testing.T) {
	router := setupTestRouter()
	router.Use(GlobalRateLimit(RateLimitConfig{RequestsPerSecond: 2, Burst: 2}))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(router, "GET", "/test", "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, serve(router, "GET", "/test", "10.0.0.2:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(router, "GET", "/test", "10.0.0.3:1").Code)
}

func TestClientLimitersEvictIdle(t *testing.T) {
	now := time.Unix(0, 0)
	limiters := newClientLimiters(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute})
	limiters.now = func() time.Time { return now }

	first := limiters.get("a")
	limiters.get("b")
	require.Equal(t, 2, limiters.len())
	assert.Same(t, first, limiters.get("a"), "a live client keeps its limiter")

	now = now.Add(30 * time.Second)
	limiters.get("a")

	now = now.Add(45 * time.Second)
	limiters.get("c")
	assert.Equal(t, 2, limiters.len(), "b idle for 75s is evicted, a was seen 45s ago")

	now = now.Add(2 * time.Minute)
	limiters.get("a")
	assert.Equal(t, 1, limiters.len())
}

func TestRateLimitFromConfig(t *testing.T) {
	cfg := RateLimitFromConfig(config.RateLimitConfig{RequestsPerSecond: 5, Burst: 10, Enabled: true})
	assert.Equal(t, 5, cfg.RequestsPerSecond)
	assert.Equal(t, 10, cfg.Burst)
	assert.Equal(t, DefaultRateLimitConfig().IdleTTL, cfg.IdleTTL)

	fallback := RateLimitFromConfig(config.RateLimitConfig{})
	assert.Equal(t, DefaultRateLimitConfig(), fallback)
}

func TestLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := setupTestRouter()
	router.Use(Logger(zap.New(core)))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	serve(router, "GET", "/ok", "")
	serve(router, "GET", "/bad", "")
	serve(router, "GET", "/boom", "")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, int64(http.StatusInternalServerError), entries[2].ContextMap()["status"])
}

func TestRequestID(t *testing.T) {
	router := setupTestRouter()
	router.Use(RequestID())
	var seen string
	router.GET("/", func(c *gin.Context) {
		seen = c.GetString(RequestIDKey)
		c.Status(http.StatusOK)
	})

	w := serve(router, "GET", "/", "")
	minted := w.Header().Get(RequestIDHeader)
	assert.True(t, id.IsValidPrefixed(minted, id.RequestPrefix), minted)
	assert.Equal(t, minted, seen)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, minted)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, minted, w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "../../etc")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.NotEqual(t, "../../etc", w.Header().Get(RequestIDHeader))
}

func BenchmarkRateLimit(b *testing.B) {
	router := setupTestRouter()
	router.Use(RateLimit(DefaultRateLimitConfig()))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:1234"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}
