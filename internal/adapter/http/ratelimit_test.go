package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// countingLimiter allows the first budget requests of each key
type countingLimiter struct {
	budget int
	seen   map[string]int
	err    error
}

func (l *countingLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.seen == nil {
		l.seen = map[string]int{}
	}
	l.seen[key]++
	return l.seen[key] <= l.budget, nil
}

func (l *countingLimiter) Window() time.Duration { return time.Minute }

func TestRouter_RateLimit(t *testing.T) {
	stats := &MockStatsService{}
	stats.On("Compute", mock.Anything).Return(map[string]int{}, nil)
	tokens, err := NewTokenService("s", "sqlaudit", time.Hour)
	require.NoError(t, err)
	token, err := tokens.Generate("auditor")
	require.NoError(t, err)
	limiter := &countingLimiter{budget: 2}
	router := NewRouter(NewAuditHandler(stats, &MockHistoryService{}), tokens, nil, limiter, nil)

	for i := 0; i < 2; i++ {
		rr := serve(router, "/api/v1/stats", token)
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	rr := serve(router, "/api/v1/stats", token)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	// health stays outside the budget
	rr = serve(router, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 3, limiter.seen["api:ip:192.0.2.1"])
}

func TestRouter_RateLimitFailsOpen(t *testing.T) {
	stats := &MockStatsService{}
	stats.On("Compute", mock.Anything).Return(map[string]int{}, nil)
	tokens, err := NewTokenService("s", "sqlaudit", time.Hour)
	require.NoError(t, err)
	token, err := tokens.Generate("auditor")
	require.NoError(t, err)
	router := NewRouter(NewAuditHandler(stats, &MockHistoryService{}), tokens, nil, &countingLimiter{err: assert.AnError}, nil)

	rr := serve(router, "/api/v1/stats", token)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRedisRateLimiter_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	limiter := NewRedisRateLimiter(client, 10, time.Minute)

	_, err := limiter.Allow(context.Background(), "api:ip:192.0.2.1")

	assert.ErrorContains(t, err, "rate limit")
	assert.Equal(t, time.Minute, limiter.Window())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:51234"
	assert.Equal(t, "10.0.0.5", clientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.9")
	assert.Equal(t, "10.0.0.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}

func TestWithCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := withCORS(next, []string{"https://dash.example.com"})

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://dash.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("OPTIONS", "/api/v1/stats", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	req = httptest.NewRequest("GET", "/api/v1/stats", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
