package openaq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/openaq-sync/internal/config"
	"github.com/sells-group/openaq-sync/internal/fetcher"
	"github.com/sells-group/openaq-sync/internal/metrics"
	"github.com/sells-group/openaq-sync/internal/model"
	"github.com/sells-group/openaq-sync/internal/paginate"
)

// Entity names used for metrics labels and handoff batches.
const (
	EntityCountries    = "countries"
	EntityLocations    = "locations"
	EntityParameters   = "parameters"
	EntitySensors      = "sensors"
	EntityMeasurements = "measurements"
)

const measurementsEndpoint = "/sensors/{id}/measurements"

// Extractor pulls each entity from the API with the page sizes and ceilings
// from the extract config.
type Extractor struct {
	client       fetcher.Client
	measurements fetcher.Client
	cfg          config.ExtractConfig
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithMeasurementsClient sets the client used for per-sensor measurement
// requests, which typically need a longer timeout.
func WithMeasurementsClient(c fetcher.Client) ExtractorOption {
	return func(e *Extractor) { e.measurements = c }
}

// NewExtractor creates an Extractor. Without WithMeasurementsClient the
// measurement requests share c.
func NewExtractor(c fetcher.Client, cfg config.ExtractConfig, opts ...ExtractorOption) *Extractor {
	e := &Extractor{client: c, measurements: c, cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Countries walks GET /countries.
func (e *Extractor) Countries(ctx context.Context) (paginate.Result[Country], error) {
	res, err := paginate.Fetch[Country](ctx, e.client, paginate.Query{
		Path:     "/countries",
		Limit:    e.cfg.Countries.Limit,
		MaxPages: e.cfg.Countries.MaxPages,
	})
	if err != nil {
		return res, eris.Wrap(err, "openaq: extract countries")
	}

	metrics.RecordsExtracted.WithLabelValues(EntityCountries).Add(float64(len(res.Records)))
	zap.L().Info("openaq: countries extracted",
		zap.Int("records", len(res.Records)),
		zap.Int("pages", res.Pages),
		zap.String("stop", string(res.Stop)),
	)
	return res, nil
}

// Locations walks GET /locations once per ISO code, in the order given,
// stopping early at the configured global result ceiling.
func (e *Extractor) Locations(ctx context.Context, isoCodes []string) (paginate.MultiResult[Location], error) {
	codes := NormalizeISO(isoCodes)
	filters := make([]paginate.Filter, 0, len(codes))
	for _, iso := range codes {
		filters = append(filters, paginate.Filter{
			Value: iso,
			Query: paginate.Query{
				Endpoint: "/locations",
				Path:     "/locations",
				Params:   url.Values{"iso": {iso}},
				Limit:    e.cfg.Locations.Limit,
				MaxPages: e.cfg.Locations.MaxPages,
			},
		})
	}

	res, err := paginate.FetchEach[Location](ctx, e.client, filters, e.cfg.Locations.MaxResults)
	if err != nil {
		return res, eris.Wrap(err, "openaq: extract locations")
	}

	metrics.RecordsExtracted.WithLabelValues(EntityLocations).Add(float64(len(res.Records)))
	for _, fr := range res.PerFilter {
		zap.L().Info("openaq: locations extracted for country",
			zap.String("iso", fr.Value),
			zap.Int("records", fr.Count),
			zap.Int("pages", fr.Pages),
			zap.String("stop", string(fr.Stop)),
		)
	}
	zap.L().Info("openaq: locations extracted",
		zap.Int("records", len(res.Records)),
		zap.Int("countries", len(res.PerFilter)),
		zap.String("stop", string(res.Stop)),
	)
	return res, nil
}

// Parameters fetches GET /parameters. The endpoint is small and is read in a
// single request.
func (e *Extractor) Parameters(ctx context.Context) ([]Parameter, error) {
	var env paginate.Envelope[Parameter]
	if err := e.client.GetJSON(ctx, "/parameters", nil, &env); err != nil {
		return nil, eris.Wrap(err, "openaq: extract parameters")
	}
	metrics.PagesFetched.WithLabelValues("/parameters").Inc()
	metrics.RecordsExtracted.WithLabelValues(EntityParameters).Add(float64(len(env.Results)))

	zap.L().Info("openaq: parameters extracted", zap.Int("records", len(env.Results)))
	return env.Results, nil
}

// Measurements walks GET /sensors/{id}/measurements for each sensor within
// [from, to], in the order given. Payloads are kept raw and tagged with
// their sensor and location.
func (e *Extractor) Measurements(ctx context.Context, sensors []model.Sensor, from, to string) ([]SensorMeasurement, paginate.StopReason, error) {
	filters := make([]paginate.Filter, 0, len(sensors))
	for _, s := range sensors {
		params := url.Values{}
		if from != "" {
			params.Set("datetime_from", from)
		}
		if to != "" {
			params.Set("datetime_to", to)
		}
		filters = append(filters, paginate.Filter{
			Value: strconv.FormatInt(s.SensorID, 10),
			Query: paginate.Query{
				Endpoint: measurementsEndpoint,
				Path:     fmt.Sprintf("/sensors/%d/measurements", s.SensorID),
				Params:   params,
				Limit:    e.cfg.Measurements.Limit,
				MaxPages: e.cfg.Measurements.MaxPages,
			},
		})
	}

	res, err := paginate.FetchEach[json.RawMessage](ctx, e.measurements, filters, e.cfg.Measurements.MaxResults)
	if err != nil {
		return nil, "", eris.Wrap(err, "openaq: extract measurements")
	}

	out := make([]SensorMeasurement, 0, len(res.Records))
	for i, fr := range res.PerFilter {
		s := sensors[i]
		for _, payload := range res.Slice(i) {
			out = append(out, SensorMeasurement{
				SensorID:   s.SensorID,
				LocationID: s.LocationID,
				Payload:    payload,
			})
		}
		zap.L().Info("openaq: measurements extracted for sensor",
			zap.Int64("sensor_id", s.SensorID),
			zap.String("location", s.LocationName.String),
			zap.Int("records", fr.Count),
			zap.String("stop", string(fr.Stop)),
		)
	}

	metrics.RecordsExtracted.WithLabelValues(EntityMeasurements).Add(float64(len(out)))
	zap.L().Info("openaq: measurements extracted",
		zap.Int("records", len(out)),
		zap.Int("sensors", len(res.PerFilter)),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("stop", string(res.Stop)),
	)
	return out, res.Stop, nil
}

// NormalizeISO upper-cases and trims codes, dropping blanks and repeats while
// keeping the first-seen order.
func NormalizeISO(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
