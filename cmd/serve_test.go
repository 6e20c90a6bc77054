package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/openaq-sync/internal/model"
	"github.com/sells-group/openaq-sync/internal/pipeline"
)

type fakeLister struct {
	runs      []model.TaskRun
	err       error
	lastLimit int
}

func (f *fakeLister) ListRecent(_ context.Context, limit int) ([]model.TaskRun, error) {
	f.lastLimit = limit
	return f.runs, f.err
}

// blockingRunner counts runs and holds each one until release is closed.
type blockingRunner struct {
	calls   atomic.Int32
	release chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context) (*pipeline.RunResult, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &pipeline.RunResult{RunID: "r"}, nil
}

func newTestRouter(t *testing.T, l taskLister, r pipelineRunner) (http.Handler, *scheduler) {
	t.Helper()
	sched := &scheduler{runner: r}
	return newRouter(context.Background(), l, sched, []string{"https://dash.example.org"}), sched
}

func TestRouter_Healthz(t *testing.T) {
	h, _ := newTestRouter(t, &fakeLister{}, &blockingRunner{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_Metrics(t *testing.T) {
	h, _ := newTestRouter(t, &fakeLister{}, &blockingRunner{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "openaq_")
}

func TestRouter_ListRuns(t *testing.T) {
	start := time.Date(2021, 8, 20, 4, 0, 0, 0, time.UTC)
	l := &fakeLister{runs: []model.TaskRun{
		{ID: 1, RunID: "abc", Task: "validate", Attempt: 1, Status: model.TaskStatusComplete, StartedAt: start},
	}}
	h, _ := newTestRouter(t, l, &blockingRunner{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, l.lastLimit)
	var got []model.TaskRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "validate", got[0].Task)
}

func TestRouter_ListRuns_EmptyIsArray(t *testing.T) {
	l := &fakeLister{}
	h, _ := newTestRouter(t, l, &blockingRunner{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, l.lastLimit)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRouter_ListRuns_BadLimit(t *testing.T) {
	h, _ := newTestRouter(t, &fakeLister{}, &blockingRunner{})

	for _, q := range []string{"abc", "0", "-3"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit="+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRouter_ListRuns_StoreError(t *testing.T) {
	h, _ := newTestRouter(t, &fakeLister{err: errors.New("conn refused")}, &blockingRunner{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "conn refused")
}

func TestRouter_TriggerRun(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	h, sched := newTestRouter(t, &fakeLister{}, runner)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// A second trigger while the first is still running is refused.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(runner.release)
	sched.wait()
	assert.Equal(t, int32(1), runner.calls.Load())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	sched.wait()
	assert.Equal(t, int32(2), runner.calls.Load())
}

func TestRouter_CORS(t *testing.T) {
	h, _ := newTestRouter(t, &fakeLister{}, &blockingRunner{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://dash.example.org")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://dash.example.org", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestScheduler_LoopStopsWithContext(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	close(runner.release)
	sched := &scheduler{runner: runner}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.loop(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	sched.wait()
}
