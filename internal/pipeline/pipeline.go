// Package pipeline wires extraction, handoff and loading into the fixed task
// graph and runs it.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/openaq-sync/internal/config"
	"github.com/sells-group/openaq-sync/internal/db"
	"github.com/sells-group/openaq-sync/internal/handoff"
	"github.com/sells-group/openaq-sync/internal/openaq"
)

// Deps are the collaborators every task draws on.
type Deps struct {
	Config    *config.Config
	Connect   db.Connector      // one connection per task
	Extractor *openaq.Extractor // API access
	Handoff   handoff.Store     // batches between extract and load tasks
	Recorder  Recorder          // task log; nil disables it
	Now       func() time.Time  // measurement window clock; defaults to time.Now
}

// Pipeline is the OpenAQ sync graph bound to its dependencies.
type Pipeline struct {
	deps   Deps
	runner *Runner
}

// New builds the task graph. Retries and delay come from cfg.Pipeline.
func New(d Deps) (*Pipeline, error) {
	if d.Config == nil {
		return nil, eris.New("pipeline: config is required")
	}
	if d.Connect == nil || d.Extractor == nil || d.Handoff == nil {
		return nil, eris.New("pipeline: connector, extractor and handoff store are required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	p := &Pipeline{deps: d}
	runner, err := NewRunner(p.tasks(),
		WithRetries(d.Config.Pipeline.Retries, d.Config.Pipeline.RetryDelay()),
		WithRecorder(d.Recorder),
	)
	if err != nil {
		return nil, err
	}
	p.runner = runner
	return p, nil
}

// Run executes the full graph once.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	return p.runner.Run(ctx)
}

// RunTask executes one task on its own. Load tasks expect the batch of a
// previous extract to be present in the handoff store.
func (p *Pipeline) RunTask(ctx context.Context, name string) (*Outcome, error) {
	return p.runner.RunTask(ctx, name)
}

func (p *Pipeline) tasks() []Task {
	bodies := map[string]TaskFunc{
		TaskCreateTables:        p.createTables,
		TaskExtractCountries:    p.extractCountries,
		TaskExtractLocations:    p.extractLocations,
		TaskExtractParameters:   p.extractParameters,
		TaskLoadCountries:       p.loadCountries,
		TaskLoadLocations:       p.loadLocations,
		TaskLoadParameters:      p.loadParameters,
		TaskDiscoverSensors:     p.discoverSensors,
		TaskExtractMeasurements: p.extractMeasurements,
		TaskLoadMeasurements:    p.loadMeasurements,
		TaskValidate:            p.validate,
	}
	tasks := make([]Task, 0, len(edges))
	for _, e := range edges {
		tasks = append(tasks, Task{Name: e.name, Deps: e.deps, Run: bodies[e.name]})
	}
	return tasks
}

// withConn opens a connection for the duration of fn.
func (p *Pipeline) withConn(ctx context.Context, fn func(db.Pool) error) error {
	conn, err := p.deps.Connect(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: connect")
	}
	defer conn.Close()
	return fn(conn)
}
