// Package monitoring watches the task log for failing or stale pipelines and
// posts alerts to a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/openaq-sync/internal/model"
	"github.com/sells-group/openaq-sync/internal/resilience"
)

// collectLimit bounds how many task attempts one snapshot reads.
const collectLimit = 1000

// Snapshot is a point-in-time view of pipeline health.
type Snapshot struct {
	// Attempts within the lookback window.
	Attempts       int      `json:"attempts"`
	Complete       int      `json:"complete"`
	Failed         int      `json:"failed"`
	UpstreamFailed int      `json:"upstream_failed"`
	Running        int      `json:"running"`
	FailureRate    float64  `json:"failure_rate"`
	FailedTasks    []string `json:"failed_tasks,omitempty"`

	// TransientFailures counts failed attempts whose error was classified
	// as transient (timeouts, 429, 5xx, dropped connections).
	TransientFailures int `json:"transient_failures"`

	// LastSuccess is when the final task last completed; nil if never.
	LastSuccess *time.Time `json:"last_success,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// TaskLogQuerier is the slice of the task log the collector reads.
type TaskLogQuerier interface {
	ListRecent(ctx context.Context, limit int) ([]model.TaskRun, error)
	LastSuccess(ctx context.Context, task string) (*time.Time, error)
}

// Collector builds snapshots from the task log.
type Collector struct {
	log       TaskLogQuerier
	finalTask string
	now       func() time.Time
}

// NewCollector creates a collector. finalTask is the task whose completion
// marks a whole run as successful.
func NewCollector(log TaskLogQuerier, finalTask string) *Collector {
	return &Collector{log: log, finalTask: finalTask, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{LookbackHours: lookbackHours, CollectedAt: now}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.log.ListRecent(ctx, collectLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list task runs")
	}

	seen := make(map[string]bool)
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.Attempts++
		switch r.Status {
		case model.TaskStatusComplete:
			snap.Complete++
		case model.TaskStatusFailed:
			snap.Failed++
			if class, _ := r.Metadata["error_class"].(string); class == resilience.ClassTransient {
				snap.TransientFailures++
			}
			if !seen[r.Task] {
				seen[r.Task] = true
				snap.FailedTasks = append(snap.FailedTasks, r.Task)
			}
		case model.TaskStatusUpstreamFailed:
			snap.UpstreamFailed++
		case model.TaskStatusRunning:
			snap.Running++
		}
	}
	if finished := snap.Complete + snap.Failed; finished > 0 {
		snap.FailureRate = float64(snap.Failed) / float64(finished)
	}

	last, err := c.log.LastSuccess(ctx, c.finalTask)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last success")
	}
	snap.LastSuccess = last

	return snap, nil
}
