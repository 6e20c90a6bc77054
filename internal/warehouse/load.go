package warehouse

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/openaq-sync/internal/db"
	"github.com/sells-group/openaq-sync/internal/metrics"
	"github.com/sells-group/openaq-sync/internal/model"
	"github.com/sells-group/openaq-sync/internal/normalize"
	"github.com/sells-group/openaq-sync/internal/openaq"
)

// TableSpec describes how one entity lands in its table.
type TableSpec struct {
	Table   string
	Columns []string
	Key     []string
	Replace bool // snapshot table: cleared before every non-empty load
}

// UpsertConfig returns the db.Upsert configuration for the table.
func (s TableSpec) UpsertConfig() db.UpsertConfig {
	return db.UpsertConfig{
		Table:        s.Table,
		Columns:      s.Columns,
		ConflictKeys: s.Key,
		TouchColumn:  model.TouchColumn,
		Replace:      s.Replace,
	}
}

// Table specs.
var (
	CountriesTable = TableSpec{
		Table:   model.TableCountries,
		Columns: model.CountryColumns,
		Key:     []string{"country_id"},
		Replace: true,
	}
	LocationsTable = TableSpec{
		Table:   model.TableLocations,
		Columns: model.LocationColumns,
		Key:     []string{"location_id"},
		Replace: true,
	}
	ParametersTable = TableSpec{
		Table:   model.TableParameters,
		Columns: model.ParameterColumns,
		Key:     []string{"parameter_id"},
		Replace: true,
	}
	MeasurementsTable = TableSpec{
		Table:   model.TableMeasurements,
		Columns: model.MeasurementColumns,
		Key:     model.MeasurementKey,
	}
	StationTable = TableSpec{
		Table:   model.TableStation,
		Columns: model.StationColumns,
		Key:     model.StationKey,
		Replace: true,
	}
)

// LoadResult reports one load call.
type LoadResult struct {
	Table          string `json:"table"`
	Received       int    `json:"received"`
	InvalidSkipped int64  `json:"invalid_skipped"` // records that could not be turned into rows
	Deleted        int64  `json:"deleted"`
	Written        int64  `json:"written"`
	Skipped        int64  `json:"skipped"` // rows rejected by the database
}

// TotalSkipped is the number of received records that did not land.
func (r LoadResult) TotalSkipped() int64 {
	return r.InvalidSkipped + r.Skipped
}

type valuer interface {
	Values() []any
}

// Load normalizes records with fn and upserts them under spec in one
// transaction. Records fn rejects are logged and skipped. When no record
// survives, the table is left untouched, including snapshot tables.
func Load[S any, R valuer](ctx context.Context, pool db.Pool, spec TableSpec, records []S, fn func(S) (R, error)) (LoadResult, error) {
	res := LoadResult{Table: spec.Table, Received: len(records)}
	log := zap.L().With(zap.String("component", "warehouse.load"), zap.String("table", spec.Table))

	rows := make([][]any, 0, len(records))
	for i, rec := range records {
		row, err := fn(rec)
		if err != nil {
			log.Warn("skipping record", zap.Int("index", i), zap.Error(err))
			res.InvalidSkipped++
			continue
		}
		rows = append(rows, row.Values())
	}

	if len(rows) == 0 {
		log.Warn("nothing to load, table left unchanged",
			zap.Int("received", len(records)),
			zap.Int64("invalid", res.InvalidSkipped),
		)
		metrics.RowsSkipped.WithLabelValues(spec.Table).Add(float64(res.InvalidSkipped))
		return res, nil
	}

	ur, err := db.Upsert(ctx, pool, spec.UpsertConfig(), rows)
	if err != nil {
		return res, eris.Wrapf(err, "warehouse: load %s", spec.Table)
	}
	res.Deleted = ur.Deleted
	res.Written = ur.Written
	res.Skipped = ur.Skipped

	metrics.RowsDeleted.WithLabelValues(spec.Table).Add(float64(res.Deleted))
	metrics.RowsWritten.WithLabelValues(spec.Table).Add(float64(res.Written))
	metrics.RowsSkipped.WithLabelValues(spec.Table).Add(float64(res.TotalSkipped()))
	return res, nil
}

// LoadCountries replaces openaq_countries with the batch.
func LoadCountries(ctx context.Context, pool db.Pool, records []openaq.Country) (LoadResult, error) {
	return Load(ctx, pool, CountriesTable, records, normalize.Country)
}

// LoadLocations replaces openaq_locations with the batch.
func LoadLocations(ctx context.Context, pool db.Pool, records []openaq.Location) (LoadResult, error) {
	return Load(ctx, pool, LocationsTable, records, normalize.Location)
}

// LoadParameters replaces openaq_parameters with the batch.
func LoadParameters(ctx context.Context, pool db.Pool, records []openaq.Parameter) (LoadResult, error) {
	return Load(ctx, pool, ParametersTable, records, normalize.Parameter)
}

// LoadMeasurements upserts the batch into openaq_measurements. Existing rows
// are never deleted.
func LoadMeasurements(ctx context.Context, pool db.Pool, records []openaq.SensorMeasurement) (LoadResult, error) {
	return Load(ctx, pool, MeasurementsTable, records, normalize.Measurement)
}
