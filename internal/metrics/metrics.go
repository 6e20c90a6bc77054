// Package metrics holds the Prometheus collectors for extraction, loading and
// task execution, registered on a private registry.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"
)

const namespace = "openaq"

// Registry is the registry every collector in this package is bound to.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	PagesFetched = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "API pages fetched, by endpoint.",
		},
		[]string{"endpoint"},
	)

	PaginationStops = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pagination_stops_total",
			Help:      "Paginated extractions finished, by endpoint and stop reason.",
		},
		[]string{"endpoint", "reason"},
	)

	RecordsExtracted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_extracted_total",
			Help:      "Records written to handoff batches, by entity.",
		},
		[]string{"entity"},
	)

	RowsWritten = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows inserted or updated, by table.",
		},
		[]string{"table"},
	)

	RowsSkipped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Rows skipped after a row-level failure, by table.",
		},
		[]string{"table"},
	)

	RowsDeleted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_deleted_total",
			Help:      "Rows cleared before a snapshot reload, by table.",
		},
		[]string{"table"},
	)

	TaskDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Pipeline task wall time, by task and final status.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5s to ~68min
		},
		[]string{"task", "status"},
	)

	TaskAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_attempts_total",
			Help:      "Pipeline task attempts, by task and outcome.",
		},
		[]string{"task", "status"},
	)

	TaskFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Failed pipeline task attempts, by task and error class (transient or permanent).",
		},
		[]string{"task", "class"},
	)

	HandoffOperations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoff_operations_total",
			Help:      "Handoff store operations, by backend, operation and outcome.",
		},
		[]string{"backend", "op", "status"},
	)

	LastRunSuccess = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success_timestamp_seconds",
			Help:      "Unix time of the last pipeline run that finished without failures.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Push sends the registry to a Pushgateway. An empty url is a no-op, so batch
// runs without a gateway configured skip it.
func Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(Registry).PushContext(ctx); err != nil {
		return eris.Wrap(err, "metrics: push to gateway")
	}
	return nil
}
