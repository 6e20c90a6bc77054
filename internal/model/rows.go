// Package model defines the flat row shapes written to the warehouse tables.
package model

import (
	"encoding/json"

	"github.com/guregu/null/v5"
)

// TouchColumn is refreshed to CURRENT_TIMESTAMP on every insert and update.
const TouchColumn = "extracted_at"

// Table names.
const (
	TableCountries    = "openaq_countries"
	TableLocations    = "openaq_locations"
	TableParameters   = "openaq_parameters"
	TableMeasurements = "openaq_measurements"
	TableStation      = "station"
)

// CountryColumns is the column order of CountryRow.Values.
var CountryColumns = []string{"country_id", "code", "name", "datetime_first", "datetime_last", "parameters"}

// CountryRow is one row of openaq_countries. Codes are not unique; country_id is.
type CountryRow struct {
	CountryID     int64           `json:"country_id"`
	Code          null.String     `json:"code"`
	Name          null.String     `json:"name"`
	DatetimeFirst null.Time       `json:"datetime_first"`
	DatetimeLast  null.Time       `json:"datetime_last"`
	Parameters    json.RawMessage `json:"parameters"`
}

// Values returns the row in CountryColumns order.
func (r CountryRow) Values() []any {
	return []any{r.CountryID, r.Code, r.Name, r.DatetimeFirst, r.DatetimeLast, jsonb(r.Parameters)}
}

// LocationColumns is the column order of LocationRow.Values.
var LocationColumns = []string{
	"location_id", "name", "locality", "timezone",
	"country_code", "country_name", "owner_name", "provider_name",
	"is_mobile", "is_monitor", "latitude", "longitude",
	"sensors", "instruments", "datetime_first", "datetime_last",
}

// LocationRow is one row of openaq_locations. Sensors holds the location's
// sensor list verbatim and is the only source for sensor discovery.
type LocationRow struct {
	LocationID    int64           `json:"location_id"`
	Name          null.String     `json:"name"`
	Locality      null.String     `json:"locality"`
	Timezone      null.String     `json:"timezone"`
	CountryCode   null.String     `json:"country_code"`
	CountryName   null.String     `json:"country_name"`
	OwnerName     null.String     `json:"owner_name"`
	ProviderName  null.String     `json:"provider_name"`
	IsMobile      null.Bool       `json:"is_mobile"`
	IsMonitor     null.Bool       `json:"is_monitor"`
	Latitude      null.Float      `json:"latitude"`
	Longitude     null.Float      `json:"longitude"`
	Sensors       json.RawMessage `json:"sensors"`
	Instruments   json.RawMessage `json:"instruments"`
	DatetimeFirst null.Time       `json:"datetime_first"`
	DatetimeLast  null.Time       `json:"datetime_last"`
}

// Values returns the row in LocationColumns order.
func (r LocationRow) Values() []any {
	return []any{
		r.LocationID, r.Name, r.Locality, r.Timezone,
		r.CountryCode, r.CountryName, r.OwnerName, r.ProviderName,
		r.IsMobile, r.IsMonitor, r.Latitude, r.Longitude,
		jsonb(r.Sensors), jsonb(r.Instruments), r.DatetimeFirst, r.DatetimeLast,
	}
}

// ParameterColumns is the column order of ParameterRow.Values.
var ParameterColumns = []string{"parameter_id", "name", "display_name", "units", "description"}

// ParameterRow is one row of openaq_parameters.
type ParameterRow struct {
	ParameterID int64       `json:"parameter_id"`
	Name        null.String `json:"name"`
	DisplayName null.String `json:"display_name"`
	Units       null.String `json:"units"`
	Description null.String `json:"description"`
}

// Values returns the row in ParameterColumns order.
func (r ParameterRow) Values() []any {
	return []any{r.ParameterID, r.Name, r.DisplayName, r.Units, r.Description}
}

// MeasurementKey is the natural key of openaq_measurements.
var MeasurementKey = []string{"sensor_id", "period_from_utc", "period_to_utc"}

// MeasurementColumns is the column order of MeasurementRow.Values.
var MeasurementColumns = []string{
	"sensor_id", "location_id", "value",
	"parameter_id", "parameter_name", "parameter_units",
	"datetime_utc", "datetime_local",
	"period_label", "period_interval",
	"period_from_utc", "period_to_utc", "period_from_local", "period_to_local",
	"has_flags", "coordinates_latitude", "coordinates_longitude",
	"coverage_expected_count", "coverage_observed_count",
	"coverage_percent_complete", "coverage_percent_coverage",
	"raw_data",
}

// MeasurementRow is one aggregated reading of one sensor over one period.
// Local timestamps are kept as the API sent them, offset included.
type MeasurementRow struct {
	SensorID                int64           `json:"sensor_id"`
	LocationID              null.Int        `json:"location_id"`
	Value                   null.Float      `json:"value"`
	ParameterID             null.Int        `json:"parameter_id"`
	ParameterName           null.String     `json:"parameter_name"`
	ParameterUnits          null.String     `json:"parameter_units"`
	DatetimeUTC             null.Time       `json:"datetime_utc"`
	DatetimeLocal           null.String     `json:"datetime_local"`
	PeriodLabel             null.String     `json:"period_label"`
	PeriodInterval          null.String     `json:"period_interval"`
	PeriodFromUTC           null.Time       `json:"period_from_utc"`
	PeriodToUTC             null.Time       `json:"period_to_utc"`
	PeriodFromLocal         null.String     `json:"period_from_local"`
	PeriodToLocal           null.String     `json:"period_to_local"`
	HasFlags                null.Bool       `json:"has_flags"`
	CoordinatesLatitude     null.Float      `json:"coordinates_latitude"`
	CoordinatesLongitude    null.Float      `json:"coordinates_longitude"`
	CoverageExpectedCount   null.Int        `json:"coverage_expected_count"`
	CoverageObservedCount   null.Int        `json:"coverage_observed_count"`
	CoveragePercentComplete null.Float      `json:"coverage_percent_complete"`
	CoveragePercentCoverage null.Float      `json:"coverage_percent_coverage"`
	RawData                 json.RawMessage `json:"raw_data"`
}

// Values returns the row in MeasurementColumns order.
func (r MeasurementRow) Values() []any {
	return []any{
		r.SensorID, r.LocationID, r.Value,
		r.ParameterID, r.ParameterName, r.ParameterUnits,
		r.DatetimeUTC, r.DatetimeLocal,
		r.PeriodLabel, r.PeriodInterval,
		r.PeriodFromUTC, r.PeriodToUTC, r.PeriodFromLocal, r.PeriodToLocal,
		r.HasFlags, r.CoordinatesLatitude, r.CoordinatesLongitude,
		r.CoverageExpectedCount, r.CoverageObservedCount,
		r.CoveragePercentComplete, r.CoveragePercentCoverage,
		jsonb(r.RawData),
	}
}

// StationKey is the natural key of the legacy station table.
var StationKey = []string{"id", "sensor_id"}

// StationColumns is the column order of StationRow.Values.
var StationColumns = []string{
	"id", "name", "locality", "country_id", "provider_id", "provider_name",
	"sensor_id", "sensor_name", "latitude", "longitude", "timezone",
	"is_mobile", "is_monitor",
}

// StationRow is one location/sensor pair from the legacy SQLite station table.
type StationRow struct {
	ID           int64       `json:"id"`
	Name         null.String `json:"name"`
	Locality     null.String `json:"locality"`
	CountryID    null.Int    `json:"country_id"`
	ProviderID   null.Int    `json:"provider_id"`
	ProviderName null.String `json:"provider_name"`
	SensorID     int64       `json:"sensor_id"`
	SensorName   null.String `json:"sensor_name"`
	Latitude     null.Float  `json:"latitude"`
	Longitude    null.Float  `json:"longitude"`
	Timezone     null.String `json:"timezone"`
	IsMobile     null.Bool   `json:"is_mobile"`
	IsMonitor    null.Bool   `json:"is_monitor"`
}

// Values returns the row in StationColumns order.
func (r StationRow) Values() []any {
	return []any{
		r.ID, r.Name, r.Locality, r.CountryID, r.ProviderID, r.ProviderName,
		r.SensorID, r.SensorName, r.Latitude, r.Longitude, r.Timezone,
		r.IsMobile, r.IsMonitor,
	}
}

// Sensor is derived from a stored location's sensors blob. It is never
// persisted; it drives per-sensor measurement extraction.
type Sensor struct {
	SensorID       int64       `json:"sensor_id"`
	LocationID     int64       `json:"location_id"`
	LocationName   null.String `json:"location_name"`
	ParameterName  null.String `json:"parameter_name"`
	ParameterUnits null.String `json:"parameter_units"`
}

// jsonb turns an absent blob into SQL NULL instead of an empty byte string,
// which Postgres would reject as invalid JSON.
func jsonb(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
