// Package openaq models the OpenAQ v3 API entities and extracts them page by
// page through the paginate package.
package openaq

import (
	"bytes"
	"encoding/json"

	"github.com/guregu/null/v5"
)

// DateTime is a timestamp the API sends either as a bare string or as an
// {utc, local} object. Anything else, including null, decodes to an empty
// DateTime.
type DateTime struct {
	UTC   null.String `json:"utc"`
	Local null.String `json:"local"`
}

// UnmarshalJSON never fails.
func (d *DateTime) UnmarshalJSON(b []byte) error {
	*d = DateTime{}

	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err == nil && s != "" {
			d.UTC = null.StringFrom(s)
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(b, &obj); err != nil {
			return nil
		}
		d.UTC = stringField(obj["utc"])
		d.Local = stringField(obj["local"])
	}
	return nil
}

// MarshalJSON writes the object form, or null when both halves are absent.
func (d DateTime) MarshalJSON() ([]byte, error) {
	if !d.UTC.Valid && !d.Local.Valid {
		return []byte("null"), nil
	}
	type plain DateTime
	return json.Marshal(plain(d))
}

func stringField(raw json.RawMessage) null.String {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil || s == "" {
		return null.String{}
	}
	return null.StringFrom(s)
}

// Ref is a nested {id, code, name} reference such as a location's country,
// owner or provider.
type Ref struct {
	ID   null.Int    `json:"id"`
	Code null.String `json:"code"`
	Name null.String `json:"name"`
}

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Latitude  null.Float `json:"latitude"`
	Longitude null.Float `json:"longitude"`
}

// Country is one result of GET /countries.
type Country struct {
	ID            null.Int        `json:"id"`
	Code          null.String     `json:"code"`
	Name          null.String     `json:"name"`
	DatetimeFirst DateTime        `json:"datetimeFirst"`
	DatetimeLast  DateTime        `json:"datetimeLast"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
}

// Location is one result of GET /locations. Sensors and Instruments are kept
// verbatim; sensor discovery decodes them later from the stored row.
type Location struct {
	ID            null.Int        `json:"id"`
	Name          null.String     `json:"name"`
	Locality      null.String     `json:"locality"`
	Timezone      null.String     `json:"timezone"`
	Country       *Ref            `json:"country,omitempty"`
	Owner         *Ref            `json:"owner,omitempty"`
	Provider      *Ref            `json:"provider,omitempty"`
	IsMobile      null.Bool       `json:"isMobile"`
	IsMonitor     null.Bool       `json:"isMonitor"`
	Coordinates   *Coordinates    `json:"coordinates,omitempty"`
	Sensors       json.RawMessage `json:"sensors,omitempty"`
	Instruments   json.RawMessage `json:"instruments,omitempty"`
	DatetimeFirst DateTime        `json:"datetimeFirst"`
	DatetimeLast  DateTime        `json:"datetimeLast"`
}

// Parameter is one result of GET /parameters.
type Parameter struct {
	ID          null.Int    `json:"id"`
	Name        null.String `json:"name"`
	Units       null.String `json:"units"`
	DisplayName null.String `json:"displayName"`
	Description null.String `json:"description"`
}

// ParameterRef is the parameter embedded in a measurement or a sensor entry.
type ParameterRef struct {
	ID          null.Int    `json:"id"`
	Name        null.String `json:"name"`
	Units       null.String `json:"units"`
	DisplayName null.String `json:"displayName"`
}

// Period is the aggregation window of a measurement.
type Period struct {
	Label        null.String `json:"label"`
	Interval     null.String `json:"interval"`
	DatetimeFrom DateTime    `json:"datetimeFrom"`
	DatetimeTo   DateTime    `json:"datetimeTo"`
}

// Coverage reports how complete a measurement period is.
type Coverage struct {
	ExpectedCount   null.Int   `json:"expectedCount"`
	ObservedCount   null.Int   `json:"observedCount"`
	PercentComplete null.Float `json:"percentComplete"`
	PercentCoverage null.Float `json:"percentCoverage"`
}

// FlagInfo tells whether any flag applies to the measurement.
type FlagInfo struct {
	HasFlags null.Bool `json:"hasFlags"`
}

// Measurement is one result of GET /sensors/{id}/measurements.
type Measurement struct {
	Value       null.Float    `json:"value"`
	Datetime    DateTime      `json:"datetime"`
	Parameter   *ParameterRef `json:"parameter,omitempty"`
	Period      *Period       `json:"period,omitempty"`
	Coordinates *Coordinates  `json:"coordinates,omitempty"`
	Coverage    *Coverage     `json:"coverage,omitempty"`
	FlagInfo    *FlagInfo     `json:"flagInfo,omitempty"`
}

// SensorMeasurement is a measurement payload tagged with the sensor and
// location it was extracted for. Payload is the API object exactly as
// received; it is decoded at load time and stored as raw_data.
type SensorMeasurement struct {
	SensorID   int64           `json:"sensor_id"`
	LocationID int64           `json:"location_id"`
	Payload    json.RawMessage `json:"payload"`
}

// SensorEntry is one element of a location's sensors list.
type SensorEntry struct {
	ID        null.Int      `json:"id"`
	Name      null.String   `json:"name"`
	Parameter *ParameterRef `json:"parameter,omitempty"`
}
