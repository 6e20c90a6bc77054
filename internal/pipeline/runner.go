package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/openaq-sync/internal/metrics"
	"github.com/sells-group/openaq-sync/internal/model"
	"github.com/sells-group/openaq-sync/internal/resilience"
)

// Recorder persists task attempts. *warehouse.TaskLog implements it.
type Recorder interface {
	Start(ctx context.Context, runID, task string, attempt int) (int64, error)
	Complete(ctx context.Context, id int64, result *model.TaskResult) error
	Fail(ctx context.Context, id int64, errMsg, class string) error
	MarkUpstreamFailed(ctx context.Context, runID, task string) error
}

type nopRecorder struct{}

func (nopRecorder) Start(context.Context, string, string, int) (int64, error) { return 0, nil }
func (nopRecorder) Complete(context.Context, int64, *model.TaskResult) error { return nil }
func (nopRecorder) Fail(context.Context, int64, string, string) error { return nil }
func (nopRecorder) MarkUpstreamFailed(context.Context, string, string) error { return nil }

// Outcome is the final state of one task in a run.
type Outcome struct {
	Task     string            `json:"task"`
	Status   model.TaskStatus  `json:"status"`
	Attempts int               `json:"attempts"`
	Duration time.Duration     `json:"duration"`
	Result   *model.TaskResult `json:"result,omitempty"`
	Err      error             `json:"-"`
}

// RunResult collects the outcomes of one run, in graph order.
type RunResult struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Tasks      []*Outcome `json:"tasks"`
}

// Task returns the outcome for name, or nil.
func (r *RunResult) Task(name string) *Outcome {
	for _, o := range r.Tasks {
		if o.Task == name {
			return o
		}
	}
	return nil
}

// Failed lists the tasks that failed, excluding those skipped upstream.
func (r *RunResult) Failed() []string {
	var out []string
	for _, o := range r.Tasks {
		if o.Status == model.TaskStatusFailed {
			out = append(out, o.Task)
		}
	}
	return out
}

// OK reports whether every task completed.
func (r *RunResult) OK() bool {
	for _, o := range r.Tasks {
		if o.Status != model.TaskStatusComplete {
			return false
		}
	}
	return true
}

// Runner executes a task graph. Independent branches run concurrently; a
// task starts once all of its dependencies completed and is marked
// upstream_failed if any of them did not.
type Runner struct {
	tasks    []Task
	retries  int
	delay    time.Duration
	recorder Recorder
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRetries sets how many extra attempts a failing task gets and the fixed
// delay between them.
func WithRetries(retries int, delay time.Duration) RunnerOption {
	return func(r *Runner) {
		r.retries = retries
		r.delay = delay
	}
}

// WithRecorder sets where task attempts are logged.
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// NewRunner validates the graph and returns a Runner for it.
func NewRunner(tasks []Task, opts ...RunnerOption) (*Runner, error) {
	ordered, err := checkGraph(tasks)
	if err != nil {
		return nil, err
	}
	r := &Runner{tasks: ordered, recorder: nopRecorder{}}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Run executes the whole graph under a fresh run id. The error is non-nil
// when any task did not complete; the result is returned either way.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	runID := uuid.NewString()
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", runID))
	log.Info("pipeline: run starting", zap.Int("tasks", len(r.tasks)))

	res := &RunResult{RunID: runID, StartedAt: time.Now().UTC(), Tasks: make([]*Outcome, len(r.tasks))}
	outcomes := make(map[string]*Outcome, len(r.tasks))
	done := make(map[string]chan struct{}, len(r.tasks))
	for i, t := range r.tasks {
		res.Tasks[i] = &Outcome{Task: t.Name}
		outcomes[t.Name] = res.Tasks[i]
		done[t.Name] = make(chan struct{})
	}

	// Task failures are reported through outcomes, never through the group,
	// so one failing branch does not cancel the others.
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range r.tasks {
		t := t
		g.Go(func() error {
			defer close(done[t.Name])

			var blocked string
			for _, d := range t.Deps {
				<-done[d]
				if blocked == "" && outcomes[d].Status != model.TaskStatusComplete {
					blocked = d
				}
			}

			out := outcomes[t.Name]
			if blocked != "" {
				out.Status = model.TaskStatusUpstreamFailed
				log.Warn("pipeline: task skipped", zap.String("task", t.Name), zap.String("failed_dependency", blocked))
				if err := r.recorder.MarkUpstreamFailed(context.WithoutCancel(gctx), runID, t.Name); err != nil {
					log.Warn("pipeline: failed to record upstream failure", zap.String("task", t.Name), zap.Error(err))
				}
				metrics.TaskDuration.WithLabelValues(t.Name, string(out.Status)).Observe(0)
				return nil
			}

			*out = *r.execute(gctx, runID, t)
			if out.Status == model.TaskStatusFailed {
				log.Error("pipeline: task failed",
					zap.String("task", t.Name),
					zap.Int("attempts", out.Attempts),
					zap.Strings("downstream", downstream(r.tasks, t.Name)),
					zap.Error(out.Err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	res.FinishedAt = time.Now().UTC()

	if !res.OK() {
		failed := res.Failed()
		log.Error("pipeline: run failed", zap.Strings("failed", failed), zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))
		return res, eris.Errorf("pipeline: run %s failed: %s", runID, strings.Join(failed, ", "))
	}

	metrics.LastRunSuccess.SetToCurrentTime()
	log.Info("pipeline: run complete", zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))
	return res, nil
}

// RunTask executes a single task with retries, ignoring its dependencies.
func (r *Runner) RunTask(ctx context.Context, name string) (*Outcome, error) {
	for _, t := range r.tasks {
		if t.Name != name {
			continue
		}
		out := r.execute(ctx, uuid.NewString(), t)
		if out.Status != model.TaskStatusComplete {
			return out, eris.Wrapf(out.Err, "pipeline: task %s", name)
		}
		return out, nil
	}
	return nil, eris.Errorf("pipeline: unknown task %q", name)
}

// execute runs t with the configured retries, logging every attempt.
func (r *Runner) execute(ctx context.Context, runID string, t Task) *Outcome {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", runID), zap.String("task", t.Name))
	out := &Outcome{Task: t.Name}
	start := time.Now()

	var mu sync.Mutex
	cfg := resilience.FixedDelay(r.retries, r.delay)
	cfg.OnRetry = resilience.RetryLogger("pipeline", t.Name)

	result, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*model.TaskResult, error) {
		mu.Lock()
		out.Attempts++
		attempt := out.Attempts
		mu.Unlock()
		return r.attempt(ctx, log, runID, t, attempt)
	})

	out.Duration = time.Since(start)
	if err != nil {
		out.Status = model.TaskStatusFailed
		out.Err = err
	} else {
		out.Status = model.TaskStatusComplete
		out.Result = result
		log.Info("pipeline: task complete", zap.Int("attempts", out.Attempts), zap.Duration("elapsed", out.Duration))
	}
	metrics.TaskDuration.WithLabelValues(t.Name, string(out.Status)).Observe(out.Duration.Seconds())
	return out
}

func (r *Runner) attempt(ctx context.Context, log *zap.Logger, runID string, t Task, attempt int) (*model.TaskResult, error) {
	// Log writes outlive cancellation so an interrupted attempt is still
	// recorded as failed.
	logCtx := context.WithoutCancel(ctx)

	id, err := r.recorder.Start(logCtx, runID, t.Name, attempt)
	if err != nil {
		log.Warn("pipeline: failed to record task start", zap.Error(err))
	}

	if err := ctx.Err(); err != nil {
		r.finish(logCtx, log, id, nil, err)
		return nil, eris.Wrapf(err, "pipeline: %s not started", t.Name)
	}

	log.Info("pipeline: task attempt", zap.Int("attempt", attempt))
	result, err := t.Run(ctx, runID)
	r.finish(logCtx, log, id, result, err)
	if err != nil {
		class := resilience.Classify(err)
		log.Warn("pipeline: task attempt failed", zap.Int("attempt", attempt), zap.String("class", class), zap.Error(err))
		metrics.TaskAttempts.WithLabelValues(t.Name, string(model.TaskStatusFailed)).Inc()
		metrics.TaskFailures.WithLabelValues(t.Name, class).Inc()
		return nil, err
	}
	metrics.TaskAttempts.WithLabelValues(t.Name, string(model.TaskStatusComplete)).Inc()
	return result, nil
}

func (r *Runner) finish(ctx context.Context, log *zap.Logger, id int64, result *model.TaskResult, err error) {
	if id == 0 {
		return
	}
	var logErr error
	if err != nil {
		logErr = r.recorder.Fail(ctx, id, err.Error(), resilience.Classify(err))
	} else {
		logErr = r.recorder.Complete(ctx, id, result)
	}
	if logErr != nil {
		log.Warn("pipeline: failed to record task result", zap.Error(logErr))
	}
}
