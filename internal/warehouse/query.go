package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/guregu/null/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/openaq-sync/internal/db"
	"github.com/sells-group/openaq-sync/internal/model"
)

// ErrEmptyTable is returned by Validate when a reference table has no rows.
var ErrEmptyTable = eris.New("warehouse: reference table is empty")

// CountryCodes returns the distinct non-blank country codes in
// openaq_countries, sorted. An empty table yields an empty slice and no error;
// the caller decides what to fall back to.
func CountryCodes(ctx context.Context, pool db.Pool) ([]string, error) {
	rows, err := pool.Query(ctx,
		`SELECT DISTINCT code FROM openaq_countries
		 WHERE code IS NOT NULL AND code <> ''
		 ORDER BY code`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: query country codes")
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan country code")
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// LocationSensors is a stored location with its undecoded sensors blob.
type LocationSensors struct {
	LocationID int64
	Name       null.String
	Locality   null.String
	Sensors    json.RawMessage
}

// LocationSensorBlobs returns the stored locations of one country, ordered by
// location_id, with their sensors blobs.
func LocationSensorBlobs(ctx context.Context, pool db.Pool, countryCode string) ([]LocationSensors, error) {
	rows, err := pool.Query(ctx,
		`SELECT location_id, name, locality, sensors::text
		 FROM openaq_locations
		 WHERE country_code = $1
		 ORDER BY location_id`,
		countryCode,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: query locations for %s", countryCode)
	}
	defer rows.Close()

	var out []LocationSensors
	for rows.Next() {
		var ls LocationSensors
		var blob null.String
		if err := rows.Scan(&ls.LocationID, &ls.Name, &ls.Locality, &blob); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan location")
		}
		if blob.Valid {
			ls.Sensors = json.RawMessage(blob.String)
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}

// TableStat is a row count plus the distinct count of one descriptive column.
type TableStat struct {
	Table          string `json:"table"`
	Rows           int64  `json:"rows"`
	DistinctColumn string `json:"distinct_column"`
	Distinct       int64  `json:"distinct"`
}

// CountryLocations is a country with its number of stored locations.
type CountryLocations struct {
	CountryName string `json:"country_name"`
	Locations   int64  `json:"locations"`
}

// SensorMeasurements is a sensor with its number of stored measurements.
type SensorMeasurements struct {
	SensorID       int64       `json:"sensor_id"`
	ParameterName  null.String `json:"parameter_name"`
	Measurements   int64       `json:"measurements"`
	LatestPeriodTo null.Time   `json:"latest_period_to"`
}

// Stats summarizes the warehouse contents.
type Stats struct {
	Tables       []TableStat          `json:"tables"`
	TopCountries []CountryLocations   `json:"top_countries"`
	Sensors      []SensorMeasurements `json:"sensors"`
}

// Table returns the stat for name, or a zero stat if it was not collected.
func (s Stats) Table(name string) TableStat {
	for _, t := range s.Tables {
		if t.Table == name {
			return t
		}
	}
	return TableStat{Table: name}
}

var statQueries = []struct {
	table  string
	column string
}{
	{model.TableCountries, "code"},
	{model.TableLocations, "country_code"},
	{model.TableParameters, "name"},
	{model.TableMeasurements, "sensor_id"},
}

// CountTable returns the row count of table and the distinct count of column.
func CountTable(ctx context.Context, pool db.Pool, table, column string) (TableStat, error) {
	ts := TableStat{Table: table, DistinctColumn: column}
	sql := fmt.Sprintf("SELECT COUNT(*), COUNT(DISTINCT %s) FROM %s", column, table)
	if err := pool.QueryRow(ctx, sql).Scan(&ts.Rows, &ts.Distinct); err != nil {
		return TableStat{}, eris.Wrapf(err, "warehouse: count %s", table)
	}
	return ts, nil
}

// CollectStats reads row and distinct counts for the four entity tables, the
// top countries by location count and per-sensor measurement counts.
func CollectStats(ctx context.Context, pool db.Pool, topN int) (Stats, error) {
	var st Stats
	for _, q := range statQueries {
		ts, err := CountTable(ctx, pool, q.table, q.column)
		if err != nil {
			return Stats{}, err
		}
		st.Tables = append(st.Tables, ts)
	}

	rows, err := pool.Query(ctx,
		`SELECT country_name, COUNT(*) AS locations
		 FROM openaq_locations
		 WHERE country_name IS NOT NULL
		 GROUP BY country_name
		 ORDER BY locations DESC, country_name
		 LIMIT $1`,
		topN,
	)
	if err != nil {
		return Stats{}, eris.Wrap(err, "warehouse: query top countries")
	}
	for rows.Next() {
		var c CountryLocations
		if err := rows.Scan(&c.CountryName, &c.Locations); err != nil {
			rows.Close()
			return Stats{}, eris.Wrap(err, "warehouse: scan top country")
		}
		st.TopCountries = append(st.TopCountries, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, eris.Wrap(err, "warehouse: iterate top countries")
	}

	rows, err = pool.Query(ctx,
		`SELECT sensor_id, MAX(parameter_name), COUNT(*), MAX(period_to_utc)
		 FROM openaq_measurements
		 GROUP BY sensor_id
		 ORDER BY sensor_id`,
	)
	if err != nil {
		return Stats{}, eris.Wrap(err, "warehouse: query sensor measurement counts")
	}
	defer rows.Close()
	for rows.Next() {
		var s SensorMeasurements
		if err := rows.Scan(&s.SensorID, &s.ParameterName, &s.Measurements, &s.LatestPeriodTo); err != nil {
			return Stats{}, eris.Wrap(err, "warehouse: scan sensor measurement count")
		}
		st.Sensors = append(st.Sensors, s)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, eris.Wrap(err, "warehouse: iterate sensor measurement counts")
	}
	return st, nil
}

// Validate collects stats, logs them and fails with ErrEmptyTable when
// countries, locations or parameters are empty. Measurements may be empty.
func Validate(ctx context.Context, pool db.Pool) (Stats, error) {
	st, err := CollectStats(ctx, pool, 5)
	if err != nil {
		return st, err
	}

	log := zap.L().With(zap.String("component", "warehouse.validate"))
	for _, t := range st.Tables {
		log.Info("table stats",
			zap.String("table", t.Table),
			zap.Int64("rows", t.Rows),
			zap.String("distinct_column", t.DistinctColumn),
			zap.Int64("distinct", t.Distinct),
		)
	}
	for _, c := range st.TopCountries {
		log.Info("top country by locations", zap.String("country", c.CountryName), zap.Int64("locations", c.Locations))
	}
	log.Info("sensors with measurements", zap.Int("sensors", len(st.Sensors)))

	var empty []string
	for _, name := range []string{model.TableCountries, model.TableLocations, model.TableParameters} {
		if st.Table(name).Rows == 0 {
			empty = append(empty, name)
		}
	}
	if len(empty) > 0 {
		return st, eris.Wrapf(ErrEmptyTable, "warehouse: validate: %s", strings.Join(empty, ", "))
	}
	return st, nil
}

// IsEmptyTable reports whether err came from Validate finding an empty table.
func IsEmptyTable(err error) bool {
	return errors.Is(err, ErrEmptyTable)
}
