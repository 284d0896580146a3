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

	"github.com/robkhoughton/trainingmonkey/internal/telemetry/metrics"
)

type countingLimiter struct {
	allowed int
	keys    []string
	err     error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.keys = append(l.keys, key)
	if len(l.keys) > limit.Rate {
		return &redis_rate.Result{Limit: limit, Allowed: 0, RetryAfter: 30 * time.Second}, nil
	}
	l.allowed++
	return &redis_rate.Result{Limit: limit, Allowed: 1}, nil
}

func TestRateLimit(t *testing.T) {
	metricsManager := metrics.NewTestManager()
	limiter := &countingLimiter{}

	nextCalls := 0
	handler := RateLimit(limiter, "acwr-preview", 2, metricsManager)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nextCalls++
		}),
	)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/acwr/configurations/1/preview", nil)
		req.RemoteAddr = "10.0.0.7:51234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if i < 2 {
			assert.Equal(t, http.StatusOK, rr.Code)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rr.Code)
			assert.Contains(t, rr.Body.String(), "retry after 30")
		}
	}

	assert.Equal(t, 2, nextCalls)
	require.Len(t, limiter.keys, 3)
	assert.Equal(t, "acwr-preview:10.0.0.7", limiter.keys[0])
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterRateLimitedRequests))
}

func TestRateLimit_LimiterError(t *testing.T) {
	limiter := &countingLimiter{err: errors.New("redis down")}
	handler := RateLimit(limiter, "acwr-preview", 2, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("must not be called")
		}),
	)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/acwr/configurations/1/preview", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestRateLimit_OptionsPassThrough(t *testing.T) {
	limiter := &countingLimiter{}
	called := false
	handler := RateLimit(limiter, "acwr-preview", 1, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}),
	)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("OPTIONS", "/acwr/configurations/1/preview", nil))
	assert.True(t, called)
	assert.Empty(t, limiter.keys)
}
