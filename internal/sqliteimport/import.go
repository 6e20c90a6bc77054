package sqliteimport

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/openaq-sync/internal/db"
	"github.com/sells-group/openaq-sync/internal/model"
	"github.com/sells-group/openaq-sync/internal/warehouse"
)

// Report summarizes one import.
type Report struct {
	Source  string                 `json:"source"`
	Missing []string               `json:"missing,omitempty"` // known tables absent from the file
	Tables  []warehouse.LoadResult `json:"tables"`
}

// Table returns the load result for name, if it was imported.
func (r Report) Table(name string) (warehouse.LoadResult, bool) {
	for _, t := range r.Tables {
		if t.Table == name {
			return t, true
		}
	}
	return warehouse.LoadResult{}, false
}

// Import copies every known table present in src into pool. Each table is
// one snapshot replacement; a table that fails to load stops the import, and
// tables already loaded stay committed.
func Import(ctx context.Context, src *Source, pool db.Pool) (Report, error) {
	rep := Report{Source: src.Path()}
	log := zap.L().With(zap.String("component", "sqliteimport"), zap.String("source", src.Path()))

	present, err := src.Tables(ctx)
	if err != nil {
		return rep, err
	}
	for _, t := range KnownTables {
		if !slices.Contains(present, t) {
			rep.Missing = append(rep.Missing, t)
		}
	}
	if len(present) == 0 {
		return rep, eris.Errorf("sqliteimport: %s has none of the tables %v", src.Path(), KnownTables)
	}
	log.Info("sqliteimport: tables found", zap.Strings("tables", present), zap.Strings("missing", rep.Missing))

	for _, table := range present {
		var (
			res warehouse.LoadResult
			err error
		)
		switch table {
		case model.TableCountries:
			res, err = importTable(ctx, src, pool, table, countryFields, warehouse.CountriesTable, countryRow)
		case model.TableLocations:
			res, err = importTable(ctx, src, pool, table, locationFields, warehouse.LocationsTable, locationRow)
		case model.TableParameters:
			res, err = importTable(ctx, src, pool, table, parameterFields, warehouse.ParametersTable, parameterRow)
		case model.TableStation:
			res, err = importTable(ctx, src, pool, table, stationFields, warehouse.StationTable, stationRow)
		}
		if err != nil {
			return rep, err
		}
		rep.Tables = append(rep.Tables, res)
		log.Info("sqliteimport: table imported",
			zap.String("table", table),
			zap.Int("read", res.Received),
			zap.Int64("written", res.Written),
			zap.Int64("skipped", res.TotalSkipped()),
		)
	}
	return rep, nil
}

type valuer interface {
	Values() []any
}

func importTable[R valuer](ctx context.Context, src *Source, pool db.Pool, table string, fields []field, spec warehouse.TableSpec, conv func(record) (R, error)) (warehouse.LoadResult, error) {
	recs, err := src.read(ctx, table, fields)
	if err != nil {
		return warehouse.LoadResult{Table: spec.Table}, err
	}
	res, err := warehouse.Load(ctx, pool, spec, recs, conv)
	if err != nil {
		return res, eris.Wrapf(err, "sqliteimport: import %s", table)
	}
	return res, nil
}
