// Package normalize flattens API entities into warehouse rows.
//
// Nested references are projected to named columns, {utc, local} timestamps
// are reduced to their utc half, and absent optional fields become SQL NULL,
// never a sentinel such as 0 or "". A record missing its natural key is a
// row error; callers log and skip it.
package normalize

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/guregu/null/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/openaq-sync/internal/model"
	"github.com/sells-group/openaq-sync/internal/openaq"
)

// ErrMissingKey marks a record that cannot be keyed and therefore not stored.
var ErrMissingKey = eris.New("normalize: missing natural key")

// ErrBadTimestamp marks a key timestamp that is present but unparseable.
var ErrBadTimestamp = eris.New("normalize: unparseable timestamp")

var emptyList = json.RawMessage("[]")

// Country maps a /countries result.
func Country(c openaq.Country) (model.CountryRow, error) {
	if !c.ID.Valid {
		return model.CountryRow{}, eris.Wrap(ErrMissingKey, "normalize: country without id")
	}
	return model.CountryRow{
		CountryID:     c.ID.Int64,
		Code:          c.Code,
		Name:          c.Name,
		DatetimeFirst: Timestamp(c.DatetimeFirst.UTC),
		DatetimeLast:  Timestamp(c.DatetimeLast.UTC),
		Parameters:    List(c.Parameters),
	}, nil
}

// Location maps a /locations result.
func Location(l openaq.Location) (model.LocationRow, error) {
	if !l.ID.Valid {
		return model.LocationRow{}, eris.Wrap(ErrMissingKey, "normalize: location without id")
	}
	row := model.LocationRow{
		LocationID:    l.ID.Int64,
		Name:          l.Name,
		Locality:      l.Locality,
		Timezone:      l.Timezone,
		IsMobile:      l.IsMobile,
		IsMonitor:     l.IsMonitor,
		Sensors:       List(l.Sensors),
		Instruments:   List(l.Instruments),
		DatetimeFirst: Timestamp(l.DatetimeFirst.UTC),
		DatetimeLast:  Timestamp(l.DatetimeLast.UTC),
	}
	if l.Country != nil {
		row.CountryCode = l.Country.Code
		row.CountryName = l.Country.Name
	}
	if l.Owner != nil {
		row.OwnerName = l.Owner.Name
	}
	if l.Provider != nil {
		row.ProviderName = l.Provider.Name
	}
	if l.Coordinates != nil {
		row.Latitude = l.Coordinates.Latitude
		row.Longitude = l.Coordinates.Longitude
	}
	return row, nil
}

// Parameter maps a /parameters result.
func Parameter(p openaq.Parameter) (model.ParameterRow, error) {
	if !p.ID.Valid {
		return model.ParameterRow{}, eris.Wrap(ErrMissingKey, "normalize: parameter without id")
	}
	return model.ParameterRow{
		ParameterID: p.ID.Int64,
		Name:        p.Name,
		DisplayName: p.DisplayName,
		Units:       p.Units,
		Description: p.Description,
	}, nil
}

// Measurement decodes a tagged measurement payload. Both period bounds must
// carry a parseable utc timestamp since they are part of the row key. The
// payload itself is kept as raw_data.
func Measurement(sm openaq.SensorMeasurement) (model.MeasurementRow, error) {
	if sm.SensorID == 0 {
		return model.MeasurementRow{}, eris.Wrap(ErrMissingKey, "normalize: measurement without sensor id")
	}

	var m openaq.Measurement
	if err := json.Unmarshal(sm.Payload, &m); err != nil {
		return model.MeasurementRow{}, eris.Wrapf(err, "normalize: decode measurement for sensor %d", sm.SensorID)
	}

	var period openaq.Period
	if m.Period != nil {
		period = *m.Period
	}
	from, err := keyTimestamp(period.DatetimeFrom.UTC)
	if err != nil {
		return model.MeasurementRow{}, eris.Wrapf(err, "normalize: measurement for sensor %d: period start", sm.SensorID)
	}
	to, err := keyTimestamp(period.DatetimeTo.UTC)
	if err != nil {
		return model.MeasurementRow{}, eris.Wrapf(err, "normalize: measurement for sensor %d: period end", sm.SensorID)
	}

	row := model.MeasurementRow{
		SensorID:        sm.SensorID,
		Value:           m.Value,
		DatetimeUTC:     Timestamp(m.Datetime.UTC),
		DatetimeLocal:   m.Datetime.Local,
		PeriodLabel:     period.Label,
		PeriodInterval:  period.Interval,
		PeriodFromUTC:   from,
		PeriodToUTC:     to,
		PeriodFromLocal: period.DatetimeFrom.Local,
		PeriodToLocal:   period.DatetimeTo.Local,
		RawData:         sm.Payload,
	}
	if sm.LocationID != 0 {
		row.LocationID = null.IntFrom(sm.LocationID)
	}
	if m.Parameter != nil {
		row.ParameterID = m.Parameter.ID
		row.ParameterName = m.Parameter.Name
		row.ParameterUnits = m.Parameter.Units
	}
	if m.Coordinates != nil {
		row.CoordinatesLatitude = m.Coordinates.Latitude
		row.CoordinatesLongitude = m.Coordinates.Longitude
	}
	if m.Coverage != nil {
		row.CoverageExpectedCount = m.Coverage.ExpectedCount
		row.CoverageObservedCount = m.Coverage.ObservedCount
		row.CoveragePercentComplete = m.Coverage.PercentComplete
		row.CoveragePercentCoverage = m.Coverage.PercentCoverage
	}
	if m.FlagInfo != nil {
		row.HasFlags = m.FlagInfo.HasFlags
	}
	return row, nil
}

// List returns raw as a JSON list blob, substituting [] when it is absent
// or null.
func List(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return emptyList
	}
	return raw
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp parses the reduced utc string of a date-like field. Values
// without an offset are read as UTC. A null or unparseable value is null;
// the unparseable case is logged with the raw value.
func Timestamp(s null.String) null.Time {
	if !s.Valid || s.String == "" {
		return null.Time{}
	}
	t, ok := ParseTimestamp(s.String)
	if !ok {
		zap.L().Warn("normalize: unparseable timestamp stored as null", zap.String("raw", s.String))
		return null.Time{}
	}
	return null.TimeFrom(t)
}

// keyTimestamp parses a timestamp that is part of a row key. Absence is
// ErrMissingKey; a value that does not parse is ErrBadTimestamp.
func keyTimestamp(s null.String) (null.Time, error) {
	if !s.Valid || s.String == "" {
		return null.Time{}, ErrMissingKey
	}
	t, ok := ParseTimestamp(s.String)
	if !ok {
		return null.Time{}, eris.Wrapf(ErrBadTimestamp, "%q", s.String)
	}
	return null.TimeFrom(t), nil
}

// ParseTimestamp tries the layouts the API and the legacy SQLite file use.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
