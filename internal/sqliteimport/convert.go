package sqliteimport

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/openaq-sync/internal/model"
	"github.com/sells-group/openaq-sync/internal/normalize"
)

var countryFields = []field{
	{"country_id", []string{"country_id", "id"}},
	{"code", []string{"code"}},
	{"name", []string{"name"}},
	{"datetime_first", []string{"datetime_first", "datetimeFirst"}},
	{"datetime_last", []string{"datetime_last", "datetimeLast"}},
	{"parameters", []string{"parameters"}},
}

var locationFields = []field{
	{"location_id", []string{"location_id", "id"}},
	{"name", []string{"name"}},
	{"locality", []string{"locality"}},
	{"timezone", []string{"timezone"}},
	{"country_code", []string{"country_code", "countryCode"}},
	{"country_name", []string{"country_name", "countryName"}},
	{"owner_name", []string{"owner_name", "ownerName"}},
	{"provider_name", []string{"provider_name", "providerName"}},
	{"is_mobile", []string{"is_mobile", "isMobile"}},
	{"is_monitor", []string{"is_monitor", "isMonitor"}},
	{"latitude", []string{"latitude"}},
	{"longitude", []string{"longitude"}},
	{"sensors", []string{"sensors"}},
	{"instruments", []string{"instruments"}},
	{"datetime_first", []string{"datetime_first", "datetimeFirst"}},
	{"datetime_last", []string{"datetime_last", "datetimeLast"}},
}

var parameterFields = []field{
	{"parameter_id", []string{"parameter_id", "id"}},
	{"name", []string{"name"}},
	{"display_name", []string{"display_name", "displayName"}},
	{"units", []string{"units"}},
	{"description", []string{"description"}},
}

var stationFields = []field{
	{"id", []string{"id"}},
	{"name", []string{"name"}},
	{"locality", []string{"locality"}},
	{"country_id", []string{"country_id"}},
	{"provider_id", []string{"provider_id"}},
	{"provider_name", []string{"provider_name"}},
	{"sensor_id", []string{"sensor_id"}},
	{"sensor_name", []string{"sensor_name"}},
	{"latitude", []string{"latitude"}},
	{"longitude", []string{"longitude"}},
	{"timezone", []string{"timezone"}},
	{"is_mobile", []string{"is_mobile"}},
	{"is_monitor", []string{"is_monitor"}},
}

func countryRow(r record) (model.CountryRow, error) {
	id := asInt(r["country_id"])
	if !id.Valid {
		return model.CountryRow{}, eris.Wrap(normalize.ErrMissingKey, "sqliteimport: country without country_id")
	}
	return model.CountryRow{
		CountryID:     id.Int64,
		Code:          asString(r["code"]),
		Name:          asString(r["name"]),
		DatetimeFirst: asTime(r["datetime_first"]),
		DatetimeLast:  asTime(r["datetime_last"]),
		Parameters:    normalize.List(asJSON(r["parameters"])),
	}, nil
}

func locationRow(r record) (model.LocationRow, error) {
	id := asInt(r["location_id"])
	if !id.Valid {
		return model.LocationRow{}, eris.Wrap(normalize.ErrMissingKey, "sqliteimport: location without location_id")
	}
	return model.LocationRow{
		LocationID:    id.Int64,
		Name:          asString(r["name"]),
		Locality:      asString(r["locality"]),
		Timezone:      asString(r["timezone"]),
		CountryCode:   asString(r["country_code"]),
		CountryName:   asString(r["country_name"]),
		OwnerName:     asString(r["owner_name"]),
		ProviderName:  asString(r["provider_name"]),
		IsMobile:      asBool(r["is_mobile"]),
		IsMonitor:     asBool(r["is_monitor"]),
		Latitude:      asFloat(r["latitude"]),
		Longitude:     asFloat(r["longitude"]),
		Sensors:       normalize.List(asJSON(r["sensors"])),
		Instruments:   normalize.List(asJSON(r["instruments"])),
		DatetimeFirst: asTime(r["datetime_first"]),
		DatetimeLast:  asTime(r["datetime_last"]),
	}, nil
}

func parameterRow(r record) (model.ParameterRow, error) {
	id := asInt(r["parameter_id"])
	if !id.Valid {
		return model.ParameterRow{}, eris.Wrap(normalize.ErrMissingKey, "sqliteimport: parameter without parameter_id")
	}
	return model.ParameterRow{
		ParameterID: id.Int64,
		Name:        asString(r["name"]),
		DisplayName: asString(r["display_name"]),
		Units:       asString(r["units"]),
		Description: asString(r["description"]),
	}, nil
}

func stationRow(r record) (model.StationRow, error) {
	id, sensor := asInt(r["id"]), asInt(r["sensor_id"])
	if !id.Valid || !sensor.Valid {
		return model.StationRow{}, eris.Wrap(normalize.ErrMissingKey, "sqliteimport: station without id or sensor_id")
	}
	return model.StationRow{
		ID:           id.Int64,
		Name:         asString(r["name"]),
		Locality:     asString(r["locality"]),
		CountryID:    asInt(r["country_id"]),
		ProviderID:   asInt(r["provider_id"]),
		ProviderName: asString(r["provider_name"]),
		SensorID:     sensor.Int64,
		SensorName:   asString(r["sensor_name"]),
		Latitude:     asFloat(r["latitude"]),
		Longitude:    asFloat(r["longitude"]),
		Timezone:     asString(r["timezone"]),
		IsMobile:     asBool(r["is_mobile"]),
		IsMonitor:    asBool(r["is_monitor"]),
	}, nil
}

// SQLite is dynamically typed; the converters accept whatever storage class
// a legacy writer used and fall back to null.

func asInt(v any) null.Int {
	switch x := v.(type) {
	case int64:
		return null.IntFrom(x)
	case float64:
		if x == float64(int64(x)) {
			return null.IntFrom(int64(x))
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return null.IntFrom(n)
		}
	case []byte:
		return asInt(string(x))
	}
	return null.Int{}
}

func asFloat(v any) null.Float {
	switch x := v.(type) {
	case float64:
		return null.FloatFrom(x)
	case int64:
		return null.FloatFrom(float64(x))
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return null.FloatFrom(f)
		}
	case []byte:
		return asFloat(string(x))
	}
	return null.Float{}
}

func asString(v any) null.String {
	switch x := v.(type) {
	case string:
		return null.StringFrom(x)
	case []byte:
		return null.StringFrom(string(x))
	case int64:
		return null.StringFrom(strconv.FormatInt(x, 10))
	case float64:
		return null.StringFrom(strconv.FormatFloat(x, 'f', -1, 64))
	case time.Time:
		return null.StringFrom(x.Format(time.RFC3339))
	}
	return null.String{}
}

func asBool(v any) null.Bool {
	switch x := v.(type) {
	case bool:
		return null.BoolFrom(x)
	case int64:
		return null.BoolFrom(x != 0)
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
			return null.BoolFrom(b)
		}
	case []byte:
		return asBool(string(x))
	}
	return null.Bool{}
}

func asTime(v any) null.Time {
	switch x := v.(type) {
	case time.Time:
		return null.TimeFrom(x.UTC())
	case string:
		if t, ok := normalize.ParseTimestamp(x); ok {
			return null.TimeFrom(t)
		}
	case []byte:
		return asTime(string(x))
	}
	return null.Time{}
}

// asJSON returns stored JSON text, or nil when the value is not valid JSON.
func asJSON(v any) json.RawMessage {
	var b []byte
	switch x := v.(type) {
	case string:
		b = []byte(x)
	case []byte:
		b = x
	default:
		return nil
	}
	if !json.Valid(b) {
		return nil
	}
	return json.RawMessage(b)
}
