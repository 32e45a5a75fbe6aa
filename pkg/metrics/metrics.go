// Package metrics exposes the process's prometheus collectors: one
// counter/histogram vector per concern, registered at init time and served
// over /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts every request state machine run, by operation
	// (create_file, update_file, create_dataset, update_dataset, read_file,
	// read_dataset) and outcome kind ("" for success, else a dataerr.Kind).
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataplane_requests_total",
			Help: "Total number of data-plane requests by operation and error kind",
		},
		[]string{"operation", "kind"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataplane_request_duration_seconds",
			Help:    "Request latency in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// BytesTransferred and RowsTransferred track the pipeline's actual
	// throughput, split by direction (upload/download).
	BytesTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataplane_bytes_transferred_total",
			Help: "Total bytes moved through the streaming pipeline",
		},
		[]string{"direction"},
	)

	RowsTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataplane_rows_transferred_total",
			Help: "Total data rows moved through the streaming pipeline",
		},
		[]string{"direction"},
	)

	// ActivePipelines is the number of upload/download pipelines currently
	// running, per direction.
	ActivePipelines = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dataplane_active_pipelines",
			Help: "Number of upload/download pipelines currently running",
		},
		[]string{"direction"},
	)

	// CatalogueRequestDuration times each catalogue.Client RPC.
	CatalogueRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataplane_catalogue_request_duration_seconds",
			Help:    "Metadata catalogue RPC latency in seconds by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	CatalogueRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataplane_catalogue_requests_total",
			Help: "Total metadata catalogue RPCs by method and outcome",
		},
		[]string{"method", "kind"},
	)

	// RegistryTenants is the number of tenants currently loaded into the
	// runtime registry (§4.5).
	RegistryTenants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dataplane_registry_tenants",
			Help: "Number of tenants currently loaded in the runtime registry",
		},
	)

	OrphanedPathsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dataplane_orphaned_paths_total",
			Help: "Total storage paths reported as orphaned after a failed commit",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		BytesTransferred,
		RowsTransferred,
		ActivePipelines,
		CatalogueRequestDuration,
		CatalogueRequestsTotal,
		RegistryTenants,
		OrphanedPathsTotal,
	)
}

// ObserveCatalogue records one metadata catalogue RPC. Bound into
// catalogue.Instrumented.Observe by the reference binary so every
// catalogue.Client call, regardless of which implementation backs it, is
// counted the same way.
func ObserveCatalogue(method string, dur time.Duration, err error) {
	kind := ""
	if err != nil {
		kind = "ERROR"
	}
	CatalogueRequestsTotal.WithLabelValues(method, kind).Inc()
	CatalogueRequestDuration.WithLabelValues(method).Observe(dur.Seconds())
}

// Handler returns the prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing one operation and recording it to a
// histogram (vec) on completion.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
