package observability

import (
	"sync"
	"time"
)

// MockMetricsRegistry records counter increments so tests can assert on them.
type MockMetricsRegistry struct {
	mu             sync.Mutex
	Requests       map[string]int // "endpoint method status" -> count
	Selections     map[string]int
	Events         map[string]int
	RecordFailures map[string]int
	CacheLookups   map[string]int // "kind result" -> count
	Renders        map[string]int
}

// NewMockMetricsRegistry creates an empty MockMetricsRegistry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{
		Requests:       make(map[string]int),
		Selections:     make(map[string]int),
		Events:         make(map[string]int),
		RecordFailures: make(map[string]int),
		CacheLookups:   make(map[string]int),
		Renders:        make(map[string]int),
	}
}

func (m *MockMetricsRegistry) inc(counter map[string]int, key string) {
	m.mu.Lock()
	counter[key]++
	m.mu.Unlock()
}

// Count returns the value stored under key in counter while holding the lock.
func (m *MockMetricsRegistry) Count(counter map[string]int, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return counter[key]
}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {
	m.inc(m.Requests, endpoint+" "+method+" "+status)
}
func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (m *MockMetricsRegistry) IncrementSelections(outcome string)                                   { m.inc(m.Selections, outcome) }
func (m *MockMetricsRegistry) IncrementEvent(eventType string)                                      { m.inc(m.Events, eventType) }
func (m *MockMetricsRegistry) IncrementRecordFailures(eventType string) {
	m.inc(m.RecordFailures, eventType)
}
func (m *MockMetricsRegistry) IncrementCacheLookups(kind, result string) {
	m.inc(m.CacheLookups, kind+" "+result)
}
func (m *MockMetricsRegistry) RecordStorageLatency(operation string, duration time.Duration) {}
func (m *MockMetricsRegistry) IncrementRenders(outcome string)                               { m.inc(m.Renders, outcome) }
