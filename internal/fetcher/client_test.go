package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/openaq-sync/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type payload struct {
	Results []map[string]any `json:"results"`
}

func TestGetJSON_SendsHeadersAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/locations", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "CL", r.URL.Query().Get("iso"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		w.Write([]byte(`{"results":[{"id":1}]}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL+"/v3/"), WithAPIKey("test-key"), WithUserAgent("test-agent"))

	var out payload
	err := c.GetJSON(context.Background(), "/locations", url.Values{"iso": {"CL"}, "page": {"2"}}, &out)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.EqualValues(t, 1, out.Results[0]["id"])
}

func TestGetJSON_NoKeyNoHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Header["X-Api-Key"]
		assert.False(t, ok)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var out payload
	require.NoError(t, New(WithBaseURL(srv.URL)).GetJSON(context.Background(), "/parameters", nil, &out))
}

func TestGetJSON_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"invalid key"}`))
	}))
	defer srv.Close()

	var out payload
	err := New(WithBaseURL(srv.URL)).GetJSON(context.Background(), "/countries", nil, &out)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Contains(t, se.Body, "invalid key")
	assert.False(t, resilience.IsTransient(err))
}

func TestGetJSON_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var out payload
	err := New(WithBaseURL(srv.URL)).GetJSON(context.Background(), "/countries", nil, &out)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestGetJSON_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>gateway</html>`))
	}))
	defer srv.Close()

	var out payload
	err := New(WithBaseURL(srv.URL)).GetJSON(context.Background(), "/countries", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode /countries")
}

func TestGetJSON_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var out payload
	err := New(WithBaseURL(srv.URL), WithTimeout(20*time.Millisecond)).
		GetJSON(context.Background(), "/countries", nil, &out)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestClone_OverridesTimeoutOnly(t *testing.T) {
	base := New(WithBaseURL("http://example.test"), WithAPIKey("k"), WithTimeout(30*time.Second))
	long := base.Clone(WithTimeout(60 * time.Second))

	assert.Equal(t, 30*time.Second, base.timeout)
	assert.Equal(t, 60*time.Second, long.timeout)
	assert.Equal(t, "k", long.apiKey)
	assert.Equal(t, "http://example.test", long.BaseURL())
	assert.Same(t, base.http, long.http)
}

func TestGetJSON_RateLimitSlowsLimiter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	lim := NewAdaptiveLimiter(100, 10)
	c := New(WithBaseURL(srv.URL), WithLimiter(lim))

	var out payload
	err := c.GetJSON(context.Background(), "/countries", nil, &out)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.InDelta(t, 50, float64(lim.Limit()), 0.001)

	require.NoError(t, c.GetJSON(context.Background(), "/countries", nil, &out))
	assert.InDelta(t, 60, float64(lim.Limit()), 0.001)
}

func TestAdaptiveLimiter_Bounds(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 1)
	for i := 0; i < 20; i++ {
		lim.OnSuccess()
	}
	assert.InDelta(t, 20, float64(lim.Limit()), 0.001)

	for i := 0; i < 20; i++ {
		lim.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(lim.Limit()), 0.001)
}

func TestAdaptiveLimiter_Unlimited(t *testing.T) {
	lim := NewAdaptiveLimiter(0, 0)
	lim.OnRateLimit()
	lim.OnSuccess()
	assert.Equal(t, rate.Inf, lim.Limit())
	require.NoError(t, lim.Wait(context.Background()))
}

func TestGetJSON_LimiterRespectsContext(t *testing.T) {
	lim := NewAdaptiveLimiter(0.001, 1)
	require.NoError(t, lim.Wait(context.Background())) // drain the burst

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out payload
	err := New(WithBaseURL("http://127.0.0.1:1"), WithLimiter(lim)).GetJSON(ctx, "/countries", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter wait")
}
