package analytics

import (
	"context"
	"sort"
	"sync"

	"github.com/patrickwarner/dcoserve/internal/models"
)

var _ EventLog = (*MockAnalytics)(nil)

// MockAnalytics is an in-process EventLog for tests. Setting Err makes every
// call fail with it.
type MockAnalytics struct {
	mu     sync.Mutex
	events []models.Event
	Err    error
}

// NewMockAnalytics creates an empty mock.
func NewMockAnalytics() *MockAnalytics {
	return &MockAnalytics{}
}

// PutEvent records e.
func (m *MockAnalytics) PutEvent(_ context.Context, e models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	e.Timestamp = storedTimestamp(e.Timestamp)
	m.events = append(m.events, e)
	return nil
}

// ListEvents returns recorded events of the pair ordered by timestamp.
func (m *MockAnalytics) ListEvents(_ context.Context, campaignID, templateID string) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []models.Event
	for _, e := range m.events {
		if e.CampaignID == campaignID && e.TemplateID == templateID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Len returns the number of recorded events.
func (m *MockAnalytics) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
