package warehouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/openaq-sync/internal/model"
)

func TestTaskLog_Start(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO openaq_task_log").
		WithArgs("run-1", "extract_countries", 2).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(41)))

	id, err := NewTaskLog(mock).Start(context.Background(), "run-1", "extract_countries", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(41), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskLog_StartError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO openaq_task_log").
		WithArgs("run-1", "validate", 1).
		WillReturnError(errors.New("no table"))

	_, err = NewTaskLog(mock).Start(context.Background(), "run-1", "validate", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tasklog: start validate attempt 1")
}

func TestTaskLog_Complete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE openaq_task_log").
		WithArgs(int64(10), int64(2), []byte(`{"table":"openaq_locations"}`), int64(41)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = NewTaskLog(mock).Complete(context.Background(), 41, &model.TaskResult{
		RowsWritten: 10,
		RowsSkipped: 2,
		Metadata:    map[string]any{"table": "openaq_locations"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskLog_CompleteNilResult(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE openaq_task_log").
		WithArgs(int64(0), int64(0), pgxmock.AnyArg(), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewTaskLog(mock).Complete(context.Background(), 7, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskLog_Fail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE openaq_task_log .*metadata = \\$2").
		WithArgs("fetcher: GET /countries: 503", []byte(`{"error_class":"transient"}`), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewTaskLog(mock).Fail(context.Background(), 3, "fetcher: GET /countries: 503", "transient"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskLog_FailWithoutClass(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE openaq_task_log").
		WithArgs("boom", []byte(nil), int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewTaskLog(mock).Fail(context.Background(), 4, "boom", ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskLog_MarkUpstreamFailed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO openaq_task_log .*'upstream_failed'").
		WithArgs("run-1", "load_countries").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewTaskLog(mock).MarkUpstreamFailed(context.Background(), "run-1", "load_countries"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskLog_ListRecent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	done := start.Add(2 * time.Minute)

	mock.ExpectQuery("SELECT id, run_id, task").
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "run_id", "task", "attempt", "status", "started_at", "completed_at",
			"rows_written", "rows_skipped", "error", "metadata",
		}).
			AddRow(int64(2), "run-1", "load_locations", 1, "complete", start, done, int64(1998), int64(2), nil, []byte(`{"deleted":1900}`)).
			AddRow(int64(1), "run-1", "extract_measurements", 3, "failed", start, nil, int64(0), int64(0), "boom", nil))

	entries, err := NewTaskLog(mock).ListRecent(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, model.TaskStatusComplete, entries[0].Status)
	require.NotNil(t, entries[0].CompletedAt)
	assert.Equal(t, 2*time.Minute, entries[0].Duration())
	assert.Equal(t, float64(1900), entries[0].Metadata["deleted"])

	assert.Equal(t, model.TaskStatusFailed, entries[1].Status)
	assert.Equal(t, 3, entries[1].Attempt)
	assert.Nil(t, entries[1].CompletedAt)
	assert.Equal(t, "boom", entries[1].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskLog_LastSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	done := time.Date(2026, 3, 1, 6, 2, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT MAX\\(completed_at\\)").
		WithArgs("validate").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(done))
	mock.ExpectQuery("SELECT MAX\\(completed_at\\)").
		WithArgs("load_measurements").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(nil))

	tl := NewTaskLog(mock)
	got, err := tl.LastSuccess(context.Background(), "validate")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(done))

	got, err = tl.LastSuccess(context.Background(), "load_measurements")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
