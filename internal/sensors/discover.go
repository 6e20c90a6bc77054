// Package sensors derives the sensor list for measurement extraction from
// locations already stored in the warehouse. It makes no network calls.
package sensors

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/guregu/null/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/openaq-sync/internal/db"
	"github.com/sells-group/openaq-sync/internal/model"
	"github.com/sells-group/openaq-sync/internal/openaq"
	"github.com/sells-group/openaq-sync/internal/warehouse"
)

// Outcome is the result of decoding one location's sensors blob.
type Outcome string

const (
	OutcomeDecoded   Outcome = "decoded"   // a list with at least one usable entry
	OutcomeEmpty     Outcome = "empty"     // null, absent, [] or no entry with an id
	OutcomeMalformed Outcome = "malformed" // not a JSON list of objects
)

// Filter selects which stored locations contribute sensors.
type Filter struct {
	CountryCode string
	Locality    string // case- and accent-insensitive substring; "" matches all
}

// Skipped records a location whose sensors blob could not be used.
type Skipped struct {
	LocationID int64   `json:"location_id"`
	Outcome    Outcome `json:"outcome"`
	Reason     string  `json:"reason,omitempty"`
}

// Discovery is the result of Discover.
type Discovery struct {
	Sensors   []model.Sensor `json:"sensors"`
	Locations int            `json:"locations"` // matched locations
	Skipped   []Skipped      `json:"skipped,omitempty"`
}

// Decode unpacks one location's sensors blob. Entries without an id are
// dropped; absent parameter fields stay null.
func Decode(loc warehouse.LocationSensors) ([]model.Sensor, Outcome, error) {
	blob := bytes.TrimSpace(loc.Sensors)
	if len(blob) == 0 || bytes.Equal(blob, []byte("null")) {
		return nil, OutcomeEmpty, nil
	}

	var entries []openaq.SensorEntry
	if err := json.Unmarshal(blob, &entries); err != nil {
		return nil, OutcomeMalformed, eris.Wrapf(err, "sensors: decode blob of location %d", loc.LocationID)
	}

	var out []model.Sensor
	for _, e := range entries {
		if !e.ID.Valid || e.ID.Int64 == 0 {
			continue
		}
		s := model.Sensor{
			SensorID:     e.ID.Int64,
			LocationID:   loc.LocationID,
			LocationName: loc.Name,
		}
		if e.Parameter != nil {
			s.ParameterName = e.Parameter.Name
			s.ParameterUnits = e.Parameter.Units
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, OutcomeEmpty, nil
	}
	return out, OutcomeDecoded, nil
}

// Discover reads the stored locations of f.CountryCode, keeps those whose
// locality matches f.Locality and decodes their sensors, in location_id
// order. A location with a malformed blob is skipped and reported; only the
// database read can fail the call.
func Discover(ctx context.Context, pool db.Pool, f Filter) (Discovery, error) {
	locs, err := warehouse.LocationSensorBlobs(ctx, pool, f.CountryCode)
	if err != nil {
		return Discovery{}, eris.Wrap(err, "sensors: discover")
	}

	log := zap.L().With(zap.String("component", "sensors"))
	var d Discovery
	for _, loc := range locs {
		if !Matches(loc.Locality, f.Locality) {
			continue
		}
		d.Locations++

		found, outcome, err := Decode(loc)
		switch outcome {
		case OutcomeDecoded:
			d.Sensors = append(d.Sensors, found...)
		case OutcomeEmpty:
			log.Debug("location has no sensors", zap.Int64("location_id", loc.LocationID))
		case OutcomeMalformed:
			log.Warn("skipping location with malformed sensors",
				zap.Int64("location_id", loc.LocationID),
				zap.String("name", loc.Name.String),
				zap.Error(err),
			)
			d.Skipped = append(d.Skipped, Skipped{LocationID: loc.LocationID, Outcome: outcome, Reason: err.Error()})
		}
	}

	log.Info("sensors discovered",
		zap.String("country", f.CountryCode),
		zap.String("locality", f.Locality),
		zap.Int("locations", d.Locations),
		zap.Int("sensors", len(d.Sensors)),
		zap.Int("skipped", len(d.Skipped)),
	)
	return d, nil
}

// Matches reports whether locality contains want, ignoring case and accents.
// An empty want matches everything, a null locality matches nothing else.
func Matches(locality null.String, want string) bool {
	if want == "" {
		return true
	}
	if !locality.Valid {
		return false
	}
	return strings.Contains(fold(locality.String), fold(want))
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
