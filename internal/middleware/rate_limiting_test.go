package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redis_rate/v9"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2beens/fitcoach/internal/telemetry/metrics"
)

// testRateLimiter allows a fixed number of requests per key.
type testRateLimiter struct {
	seen map[string]int
	err  error
}

func (l *testRateLimiter) Allow(_ context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.seen[key]++
	if l.seen[key] > limit.Rate {
		return &redis_rate.Result{Limit: limit, Allowed: 0, RetryAfter: 20 * time.Second}, nil
	}
	return &redis_rate.Result{Limit: limit, Allowed: 1, Remaining: limit.Rate - l.seen[key]}, nil
}

func TestRateLimit(t *testing.T) {
	limiter := &testRateLimiter{seen: map[string]int{}}
	m := metrics.NewTestManager()
	handler := RateLimit(limiter, "auth", 2, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	doRequest := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/login", nil)
		req.RemoteAddr = remoteAddr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, doRequest("93.184.216.34:1111").Code)
	assert.Equal(t, http.StatusOK, doRequest("93.184.216.34:2222").Code)

	rr := doRequest("93.184.216.34:3333")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "21", rr.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error": "retry after 20.0 seconds"}`, rr.Body.String())

	// other clients have their own budget
	assert.Equal(t, http.StatusOK, doRequest("198.51.100.7:4444").Code)

	assert.Equal(t, map[string]int{
		"auth:93.184.216.34": 3,
		"auth:198.51.100.7":  1,
	}, limiter.seen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterRateLimitedRequests))
}

func TestRateLimit_LimiterError(t *testing.T) {
	limiter := &testRateLimiter{err: errors.New("redis down")}
	handler := RateLimit(limiter, "auth", 2, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not be called")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/signup", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
