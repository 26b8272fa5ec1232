package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// without handing global Prometheus collectors to every component.
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Selection metrics
	IncrementSelections(outcome string)

	// Event tracking metrics
	IncrementEvent(eventType string)
	IncrementRecordFailures(eventType string)

	// Storage metrics
	IncrementCacheLookups(kind, result string)
	RecordStorageLatency(operation string, duration time.Duration)

	// Render metrics
	IncrementRenders(outcome string)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

// HTTP Request metrics
func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Selection metrics
func (r *PrometheusRegistry) IncrementSelections(outcome string) {
	SelectionCount.WithLabelValues(outcome).Inc()
}

// Event tracking metrics
func (r *PrometheusRegistry) IncrementEvent(eventType string) {
	EventCount.WithLabelValues(eventType).Inc()
}

func (r *PrometheusRegistry) IncrementRecordFailures(eventType string) {
	RecordFailures.WithLabelValues(eventType).Inc()
}

// Storage metrics
func (r *PrometheusRegistry) IncrementCacheLookups(kind, result string) {
	CacheLookups.WithLabelValues(kind, result).Inc()
}

func (r *PrometheusRegistry) RecordStorageLatency(operation string, duration time.Duration) {
	StorageLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// Render metrics
func (r *PrometheusRegistry) IncrementRenders(outcome string) {
	RenderCount.WithLabelValues(outcome).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementSelections(outcome string)                                   {}
func (r *NoOpRegistry) IncrementEvent(eventType string)                                      {}
func (r *NoOpRegistry) IncrementRecordFailures(eventType string)                             {}
func (r *NoOpRegistry) IncrementCacheLookups(kind, result string)                            {}
func (r *NoOpRegistry) RecordStorageLatency(operation string, duration time.Duration)        {}
func (r *NoOpRegistry) IncrementRenders(outcome string)                                      {}
