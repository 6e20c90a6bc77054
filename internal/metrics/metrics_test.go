package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(RowsWritten.WithLabelValues("openaq_countries"))
	RowsWritten.WithLabelValues("openaq_countries").Add(3)
	assert.InDelta(t, before+3, testutil.ToFloat64(RowsWritten.WithLabelValues("openaq_countries")), 0.001)
}

func TestHandler_ExposesCollectors(t *testing.T) {
	PagesFetched.WithLabelValues("/countries").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `openaq_pages_fetched_total{endpoint="/countries"}`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestPush_EmptyURLIsNoop(t *testing.T) {
	assert.NoError(t, Push(context.Background(), "", "openaq_sync"))
}

func TestPush_SendsToGateway(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, Push(context.Background(), srv.URL, "openaq_sync"))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/metrics/job/openaq_sync", gotPath)
}

func TestPush_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := Push(context.Background(), srv.URL, "openaq_sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics: push")
}
