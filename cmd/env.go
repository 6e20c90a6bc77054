package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/openaq-sync/internal/config"
	"github.com/sells-group/openaq-sync/internal/db"
	"github.com/sells-group/openaq-sync/internal/fetcher"
	"github.com/sells-group/openaq-sync/internal/handoff"
	"github.com/sells-group/openaq-sync/internal/openaq"
	"github.com/sells-group/openaq-sync/internal/pipeline"
	"github.com/sells-group/openaq-sync/internal/warehouse"
)

// openStore validates the store settings and opens a single-connection pool.
func openStore(ctx context.Context) (*pgxpool.Pool, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	return db.Open(ctx, cfg.Store.DSN())
}

// newExtractor builds the API extractor. Measurement pages get their own
// client with the longer timeout; both share one rate limiter.
func newExtractor(c *config.Config) *openaq.Extractor {
	limiter := fetcher.NewAdaptiveLimiter(c.OpenAQ.RequestsPerSecond, 1)
	client := fetcher.New(
		fetcher.WithBaseURL(c.OpenAQ.BaseURL),
		fetcher.WithAPIKey(c.OpenAQ.APIKey),
		fetcher.WithTimeout(c.OpenAQ.Timeout()),
		fetcher.WithUserAgent(c.OpenAQ.UserAgent),
		fetcher.WithLimiter(limiter),
	)
	return openaq.NewExtractor(client, c.Extract,
		openaq.WithMeasurementsClient(client.Clone(fetcher.WithTimeout(c.OpenAQ.MeasurementsTimeout()))),
	)
}

// pipelineEnv holds a built pipeline and the resources behind it.
type pipelineEnv struct {
	Pipeline *pipeline.Pipeline
	TaskLog  *warehouse.TaskLog
	logPool  *pgxpool.Pool
}

// Close releases the task log connection.
func (e *pipelineEnv) Close() {
	if e.logPool != nil {
		e.logPool.Close()
	}
}

// initPipeline validates config for extraction and wires the pipeline. The
// task log gets a connection of its own; every task dials separately.
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("extract"); err != nil {
		return nil, err
	}

	store, err := handoff.Open(ctx, cfg.Handoff)
	if err != nil {
		return nil, err
	}

	logPool, err := db.Open(ctx, cfg.Store.DSN())
	if err != nil {
		return nil, eris.Wrap(err, "open task log connection")
	}
	// The task log table must exist before the first attempt is recorded.
	if err := warehouse.Migrate(ctx, logPool); err != nil {
		logPool.Close()
		return nil, err
	}
	taskLog := warehouse.NewTaskLog(logPool)

	p, err := pipeline.New(pipeline.Deps{
		Config:    cfg,
		Connect:   db.NewConnector(cfg.Store.DSN()),
		Extractor: newExtractor(cfg),
		Handoff:   store,
		Recorder:  taskLog,
	})
	if err != nil {
		logPool.Close()
		return nil, err
	}
	return &pipelineEnv{Pipeline: p, TaskLog: taskLog, logPool: logPool}, nil
}
