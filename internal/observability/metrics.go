package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcoserve_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dcoserve_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// ad selections labelled by outcome (ok, unknown_segment, decode_mismatch, ...)
	SelectionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcoserve_selections_total",
			Help: "Total ad selections by outcome",
		},
		[]string{"outcome"},
	)

	// number of events recorded, labelled by type
	EventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcoserve_events_total",
			Help: "Total events recorded",
		},
		[]string{"type"},
	)

	// events that could not be persisted
	RecordFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcoserve_record_failures_total",
			Help: "Total events that failed to persist",
		},
		[]string{"type"},
	)

	// catalog cache lookups labelled by kind (template, campaign) and result (hit, miss, error)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcoserve_cache_lookups_total",
			Help: "Catalog cache lookups",
		},
		[]string{"kind", "result"},
	)

	// latency of calls to the storage collaborator
	StorageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dcoserve_storage_duration_seconds",
			Help:    "Duration of storage operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// creative renders labelled by outcome
	RenderCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcoserve_renders_total",
			Help: "Total creative renders",
		},
		[]string{"outcome"},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		SelectionCount,
		EventCount,
		RecordFailures,
		CacheLookups,
		StorageLatency,
		RenderCount,
	)
}
