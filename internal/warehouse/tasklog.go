package warehouse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/guregu/null/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/openaq-sync/internal/db"
	"github.com/sells-group/openaq-sync/internal/model"
)

// TaskLog provides read/write access to the openaq_task_log table.
type TaskLog struct {
	pool db.Pool
}

// NewTaskLog creates a TaskLog backed by the given pool.
func NewTaskLog(pool db.Pool) *TaskLog {
	return &TaskLog{pool: pool}
}

// Start records the beginning of a task attempt and returns its ID.
func (l *TaskLog) Start(ctx context.Context, runID, task string, attempt int) (int64, error) {
	var id int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO openaq_task_log (run_id, task, attempt, status, started_at)
		 VALUES ($1, $2, $3, 'running', now()) RETURNING id`,
		runID, task, attempt,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "tasklog: start %s attempt %d", task, attempt)
	}
	return id, nil
}

// Complete marks an attempt as successful.
func (l *TaskLog) Complete(ctx context.Context, id int64, result *model.TaskResult) error {
	var metaJSON []byte
	var written, skipped int64
	if result != nil {
		written, skipped = result.RowsWritten, result.RowsSkipped
		if result.Metadata != nil {
			var err error
			metaJSON, err = json.Marshal(result.Metadata)
			if err != nil {
				return eris.Wrap(err, "tasklog: marshal metadata")
			}
		}
	}

	_, err := l.pool.Exec(ctx,
		`UPDATE openaq_task_log
		 SET status = 'complete', completed_at = now(), rows_written = $1, rows_skipped = $2, metadata = $3
		 WHERE id = $4`,
		written, skipped, metaJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "tasklog: complete %d", id)
	}
	return nil
}

// Fail marks an attempt as failed with an error message. A non-empty class
// ("transient" or "permanent") is stored as metadata.error_class.
func (l *TaskLog) Fail(ctx context.Context, id int64, errMsg, class string) error {
	var metaJSON []byte
	if class != "" {
		var err error
		metaJSON, err = json.Marshal(map[string]string{"error_class": class})
		if err != nil {
			return eris.Wrap(err, "tasklog: marshal metadata")
		}
	}

	_, err := l.pool.Exec(ctx,
		`UPDATE openaq_task_log
		 SET status = 'failed', completed_at = now(), error = $1, metadata = $2
		 WHERE id = $3`,
		errMsg, metaJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "tasklog: fail %d", id)
	}
	return nil
}

// MarkUpstreamFailed records a task that was never attempted because a
// dependency failed.
func (l *TaskLog) MarkUpstreamFailed(ctx context.Context, runID, task string) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO openaq_task_log (run_id, task, attempt, status, started_at, completed_at)
		 VALUES ($1, $2, 0, 'upstream_failed', now(), now())`,
		runID, task,
	)
	if err != nil {
		return eris.Wrapf(err, "tasklog: mark %s upstream_failed", task)
	}
	return nil
}

// ListRecent returns up to limit entries, most recent first.
func (l *TaskLog) ListRecent(ctx context.Context, limit int) ([]model.TaskRun, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, run_id, task, attempt, status, started_at, completed_at, rows_written, rows_skipped, error, metadata
		 FROM openaq_task_log ORDER BY started_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "tasklog: list recent")
	}
	defer rows.Close()

	var entries []model.TaskRun
	for rows.Next() {
		var e model.TaskRun
		var status string
		var completedAt null.Time
		var errStr null.String
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.Task, &e.Attempt, &status, &e.StartedAt,
			&completedAt, &e.RowsWritten, &e.RowsSkipped, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "tasklog: scan entry")
		}
		e.Status = model.TaskStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			e.CompletedAt = &t
		}
		e.Error = errStr.String
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastSuccess returns when a task last completed, or nil if it never has.
func (l *TaskLog) LastSuccess(ctx context.Context, task string) (*time.Time, error) {
	var t null.Time
	err := l.pool.QueryRow(ctx,
		`SELECT MAX(completed_at) FROM openaq_task_log
		 WHERE task = $1 AND status = 'complete'`,
		task,
	).Scan(&t)
	if err != nil {
		return nil, eris.Wrapf(err, "tasklog: last success for %s", task)
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}
