package paginate

import (
	"context"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/openaq-sync/internal/fetcher"
	"github.com/sells-group/openaq-sync/internal/metrics"
)

// DefaultMaxPages bounds a query that does not set its own ceiling.
const DefaultMaxPages = 100

// StopReason records why a paginated walk ended.
type StopReason string

const (
	StopEmpty         StopReason = "empty"          // a page came back with no results
	StopFound         StopReason = "found"          // accumulated count reached meta.found
	StopShortPage     StopReason = "short_page"     // a page held fewer rows than requested
	StopCeiling       StopReason = "ceiling"        // per-query page ceiling hit; results are partial
	StopGlobalCeiling StopReason = "global_ceiling" // cross-filter result ceiling hit; results are partial
	StopExhausted     StopReason = "exhausted"      // every filter value was walked
)

// Partial reports whether the walk ended on a safety bound rather than a
// completion signal.
func (s StopReason) Partial() bool {
	return s == StopCeiling || s == StopGlobalCeiling
}

// Query describes one paginated walk.
type Query struct {
	Endpoint string     // metrics/log label; defaults to Path
	Path     string     // request path, e.g. "/locations"
	Params   url.Values // filters; page and limit are added per request
	Limit    int        // page size
	MaxPages int        // page ceiling; <= 0 means DefaultMaxPages
}

func (q Query) label() string {
	if q.Endpoint != "" {
		return q.Endpoint
	}
	return q.Path
}

// Result is the outcome of a single-filter walk.
type Result[T any] struct {
	Records []T
	Pages   int
	Found   Count // last authoritative found seen, if any
	Stop    StopReason
}

// Fetch requests pages 1, 2, ... of q in order and accumulates results.
// Termination is checked per page in this order: an empty page; the running
// count reaching an authoritative meta.found; a page shorter than Limit; the
// page ceiling. Any request or decode error aborts the walk and discards what
// was accumulated.
func Fetch[T any](ctx context.Context, c fetcher.Client, q Query) (Result[T], error) {
	var res Result[T]
	if q.Limit <= 0 {
		return res, eris.Errorf("paginate: %s: limit must be > 0", q.Path)
	}
	maxPages := q.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	log := zap.L().With(zap.String("component", "paginate"), zap.String("endpoint", q.label()))

	for page := 1; ; page++ {
		params := url.Values{}
		for k, v := range q.Params {
			params[k] = append([]string(nil), v...)
		}
		params.Set("page", strconv.Itoa(page))
		params.Set("limit", strconv.Itoa(q.Limit))

		var env Envelope[T]
		if err := c.GetJSON(ctx, q.Path, params, &env); err != nil {
			return Result[T]{}, eris.Wrapf(err, "paginate: %s page %d", q.label(), page)
		}
		res.Pages = page
		metrics.PagesFetched.WithLabelValues(q.label()).Inc()

		log.Debug("page fetched",
			zap.Int("page", page),
			zap.Int("results", len(env.Results)),
			zap.Int("found", env.Meta.Found.N),
			zap.Bool("found_known", env.Meta.Found.Known),
		)

		if len(env.Results) == 0 {
			res.Stop = StopEmpty
			break
		}

		batch := env.Results
		found := env.Meta.Found
		if found.Authoritative() {
			res.Found = found
			// Never return more than the server says exist.
			if room := found.N - len(res.Records); len(batch) > room {
				batch = batch[:max(room, 0)]
			}
		}
		res.Records = append(res.Records, batch...)

		if found.Authoritative() && len(res.Records) >= found.N {
			res.Stop = StopFound
			break
		}

		// Known risk: an API that varies its page size will be cut short here.
		// found is checked first so this only decides when found is absent or
		// not yet reached.
		if len(env.Results) < q.Limit {
			res.Stop = StopShortPage
			break
		}

		if page >= maxPages {
			res.Stop = StopCeiling
			log.Warn("page ceiling reached, returning partial results",
				zap.Int("max_pages", maxPages),
				zap.Int("records", len(res.Records)),
			)
			break
		}
	}

	metrics.PaginationStops.WithLabelValues(q.label(), string(res.Stop)).Inc()
	return res, nil
}

// Filter is one value of a multi-filter walk, e.g. one ISO code.
type Filter struct {
	Value string
	Query Query
}

// FilterResult summarises the walk for one filter value. Offset and Count
// locate its records in the concatenated slice.
type FilterResult struct {
	Value  string
	Offset int
	Count  int
	Pages  int
	Stop   StopReason
}

// MultiResult is the outcome of FetchEach.
type MultiResult[T any] struct {
	Records   []T
	PerFilter []FilterResult
	Stop      StopReason
}

// Slice returns the records contributed by PerFilter[i].
func (m MultiResult[T]) Slice(i int) []T {
	fr := m.PerFilter[i]
	return m.Records[fr.Offset : fr.Offset+fr.Count]
}

// FetchEach runs Fetch for each filter in the order given and concatenates
// the results. When maxResults > 0 and the running total reaches it, the
// remaining filters are not walked. An error from any filter aborts the whole
// walk.
func FetchEach[T any](ctx context.Context, c fetcher.Client, filters []Filter, maxResults int) (MultiResult[T], error) {
	out := MultiResult[T]{Stop: StopExhausted}

	for i, f := range filters {
		if err := ctx.Err(); err != nil {
			return MultiResult[T]{}, eris.Wrap(err, "paginate: cancelled")
		}

		res, err := Fetch[T](ctx, c, f.Query)
		if err != nil {
			return MultiResult[T]{}, eris.Wrapf(err, "paginate: filter %s", f.Value)
		}

		out.PerFilter = append(out.PerFilter, FilterResult{
			Value:  f.Value,
			Offset: len(out.Records),
			Count:  len(res.Records),
			Pages:  res.Pages,
			Stop:   res.Stop,
		})
		out.Records = append(out.Records, res.Records...)

		if maxResults > 0 && len(out.Records) >= maxResults {
			if i < len(filters)-1 {
				out.Stop = StopGlobalCeiling
				zap.L().Warn("paginate: global result ceiling reached, skipping remaining filters",
					zap.String("endpoint", f.Query.label()),
					zap.Int("max_results", maxResults),
					zap.Int("records", len(out.Records)),
					zap.Int("skipped_filters", len(filters)-i-1),
				)
			}
			break
		}
	}
	return out, nil
}
