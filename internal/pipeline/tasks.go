package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/openaq-sync/internal/db"
	"github.com/sells-group/openaq-sync/internal/handoff"
	"github.com/sells-group/openaq-sync/internal/model"
	"github.com/sells-group/openaq-sync/internal/openaq"
	"github.com/sells-group/openaq-sync/internal/sensors"
	"github.com/sells-group/openaq-sync/internal/warehouse"
)

func (p *Pipeline) createTables(ctx context.Context, _ string) (*model.TaskResult, error) {
	err := p.withConn(ctx, func(pool db.Pool) error {
		return warehouse.Migrate(ctx, pool)
	})
	if err != nil {
		return nil, err
	}
	return &model.TaskResult{}, nil
}

func (p *Pipeline) extractCountries(ctx context.Context, runID string) (*model.TaskResult, error) {
	res, err := p.deps.Extractor.Countries(ctx)
	if err != nil {
		return nil, err
	}
	meta := map[string]any{"pages": res.Pages, "stop": string(res.Stop)}
	if err := handoff.Write(ctx, p.deps.Handoff, openaq.EntityCountries, runID, res.Records, meta); err != nil {
		return nil, err
	}
	return &model.TaskResult{Metadata: withCount(meta, len(res.Records))}, nil
}

// extractLocations pulls locations for every country code already stored,
// or for the configured fallback list when the countries table is empty.
func (p *Pipeline) extractLocations(ctx context.Context, runID string) (*model.TaskResult, error) {
	var codes []string
	err := p.withConn(ctx, func(pool db.Pool) error {
		var err error
		codes, err = warehouse.CountryCodes(ctx, pool)
		return err
	})
	if err != nil {
		return nil, err
	}

	source := "countries_table"
	if len(codes) == 0 {
		codes = p.deps.Config.Extract.Locations.FallbackISO
		source = "fallback"
		zap.L().Info("pipeline: no stored country codes, using fallback list", zap.Strings("iso", codes))
	}

	res, err := p.deps.Extractor.Locations(ctx, codes)
	if err != nil {
		return nil, err
	}
	meta := map[string]any{"countries": len(res.PerFilter), "iso_source": source, "stop": string(res.Stop)}
	if err := handoff.Write(ctx, p.deps.Handoff, openaq.EntityLocations, runID, res.Records, meta); err != nil {
		return nil, err
	}
	return &model.TaskResult{Metadata: withCount(meta, len(res.Records))}, nil
}

func (p *Pipeline) extractParameters(ctx context.Context, runID string) (*model.TaskResult, error) {
	params, err := p.deps.Extractor.Parameters(ctx)
	if err != nil {
		return nil, err
	}
	if err := handoff.Write(ctx, p.deps.Handoff, openaq.EntityParameters, runID, params, nil); err != nil {
		return nil, err
	}
	return &model.TaskResult{Metadata: withCount(nil, len(params))}, nil
}

func (p *Pipeline) loadCountries(ctx context.Context, _ string) (*model.TaskResult, error) {
	return loadBatch(ctx, p, openaq.EntityCountries, warehouse.LoadCountries)
}

func (p *Pipeline) loadLocations(ctx context.Context, _ string) (*model.TaskResult, error) {
	return loadBatch(ctx, p, openaq.EntityLocations, warehouse.LoadLocations)
}

func (p *Pipeline) loadParameters(ctx context.Context, _ string) (*model.TaskResult, error) {
	return loadBatch(ctx, p, openaq.EntityParameters, warehouse.LoadParameters)
}

func (p *Pipeline) loadMeasurements(ctx context.Context, _ string) (*model.TaskResult, error) {
	return loadBatch(ctx, p, openaq.EntityMeasurements, warehouse.LoadMeasurements)
}

// loadBatch reads the entity's batch, loads it in one transaction and
// removes the batch once committed. A missing batch fails the task.
func loadBatch[T any](ctx context.Context, p *Pipeline, entity string, load func(context.Context, db.Pool, []T) (warehouse.LoadResult, error)) (*model.TaskResult, error) {
	b, err := handoff.Read[T](ctx, p.deps.Handoff, entity)
	if err != nil {
		return nil, err
	}

	var lr warehouse.LoadResult
	err = p.withConn(ctx, func(pool db.Pool) error {
		var err error
		lr, err = load(ctx, pool, b.Records)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := handoff.Remove(ctx, p.deps.Handoff, entity); err != nil {
		// The rows are committed; a stale batch is only reloaded by a rerun.
		zap.L().Warn("pipeline: batch not removed", zap.String("entity", entity), zap.Error(err))
	}

	return &model.TaskResult{
		RowsWritten: lr.Written,
		RowsSkipped: lr.TotalSkipped(),
		Metadata: map[string]any{
			"table":           lr.Table,
			"received":        lr.Received,
			"deleted":         lr.Deleted,
			"invalid_skipped": lr.InvalidSkipped,
			"extract_run_id":  b.RunID,
		},
	}, nil
}

func (p *Pipeline) discoverSensors(ctx context.Context, runID string) (*model.TaskResult, error) {
	f := sensors.Filter{
		CountryCode: p.deps.Config.Sensors.CountryCode,
		Locality:    p.deps.Config.Sensors.Locality,
	}

	var d sensors.Discovery
	err := p.withConn(ctx, func(pool db.Pool) error {
		var err error
		d, err = sensors.Discover(ctx, pool, f)
		return err
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]any{
		"country_code": f.CountryCode,
		"locality":     f.Locality,
		"locations":    d.Locations,
		"skipped":      len(d.Skipped),
	}
	if err := handoff.Write(ctx, p.deps.Handoff, openaq.EntitySensors, runID, d.Sensors, meta); err != nil {
		return nil, err
	}
	return &model.TaskResult{Metadata: withCount(meta, len(d.Sensors))}, nil
}

func (p *Pipeline) extractMeasurements(ctx context.Context, runID string) (*model.TaskResult, error) {
	b, err := handoff.Read[model.Sensor](ctx, p.deps.Handoff, openaq.EntitySensors)
	if err != nil {
		return nil, err
	}

	from, to := p.deps.Config.Extract.Measurements.Window(p.deps.Now())
	records, stop, err := p.deps.Extractor.Measurements(ctx, b.Records, from, to)
	if err != nil {
		return nil, err
	}
	if stop.Partial() {
		zap.L().Warn("pipeline: measurement extraction hit a ceiling, results are partial", zap.String("stop", string(stop)))
	}

	meta := map[string]any{"sensors": len(b.Records), "from": from, "to": to, "stop": string(stop)}
	if err := handoff.Write(ctx, p.deps.Handoff, openaq.EntityMeasurements, runID, records, meta); err != nil {
		return nil, err
	}
	if err := handoff.Remove(ctx, p.deps.Handoff, openaq.EntitySensors); err != nil {
		zap.L().Warn("pipeline: batch not removed", zap.String("entity", openaq.EntitySensors), zap.Error(err))
	}
	return &model.TaskResult{Metadata: withCount(meta, len(records))}, nil
}

func (p *Pipeline) validate(ctx context.Context, _ string) (*model.TaskResult, error) {
	var st warehouse.Stats
	err := p.withConn(ctx, func(pool db.Pool) error {
		var err error
		st, err = warehouse.Validate(ctx, pool)
		return err
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: validate")
	}

	meta := make(map[string]any, len(st.Tables))
	for _, ts := range st.Tables {
		meta[ts.Table] = ts.Rows
	}
	meta["sensors_with_measurements"] = len(st.Sensors)
	return &model.TaskResult{Metadata: meta}, nil
}

func withCount(meta map[string]any, n int) map[string]any {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["records"] = n
	return meta
}
