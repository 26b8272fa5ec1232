package logic

import (
	"context"
	"testing"
	"time"

	"github.com/patrickwarner/dcoserve/internal/models"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func socksComponents() []models.ComponentDefinition {
	return []models.ComponentDefinition{
		{TemplateID: "T1", ComponentID: "headline", Position: 0, PossibleValues: map[string]string{"1": "Buy Socks", "2": "Warm Feet"}},
		{TemplateID: "T1", ComponentID: "image", Position: 1, PossibleValues: map[string]string{"1": "http://x/img.png", "2": "http://x/alt.png"}},
	}
}

// seedSocks stores template T1 and campaign C1 with a single-ad "news" segment.
func seedSocks(t *testing.T) *models.InMemoryStore {
	t.Helper()
	store := models.NewTestStore()
	ctx := context.Background()
	for _, c := range socksComponents() {
		if err := store.PutTemplateComponent(ctx, c); err != nil {
			t.Fatalf("put component: %v", err)
		}
	}
	err := store.PutCampaignRecord(ctx, models.CampaignRecord{
		CampaignID: "C1",
		TemplateID: "T1",
		Active:     true,
		Segments:   map[string][]string{"news": {"1-1"}, "wide": {"1-1", "1-2", "2-1", "2-2"}},
		CreatedAt:  baseTime,
	})
	if err != nil {
		t.Fatalf("put campaign: %v", err)
	}
	return store
}

// failingStore returns err from every call.
type failingStore struct {
	err error
}

func (f failingStore) GetTemplateComponents(context.Context, string) ([]models.ComponentDefinition, error) {
	return nil, f.err
}
func (f failingStore) GetCampaignRecords(context.Context, string, string) ([]models.CampaignRecord, error) {
	return nil, f.err
}
func (f failingStore) PutTemplateComponent(context.Context, models.ComponentDefinition) error {
	return f.err
}
func (f failingStore) PutCampaignRecord(context.Context, models.CampaignRecord) error { return f.err }
func (f failingStore) PutEvent(context.Context, models.Event) error                   { return f.err }

// blockingStore waits for ctx to expire on every call.
type blockingStore struct {
	*models.InMemoryStore
}

func (b blockingStore) PutEvent(ctx context.Context, _ models.Event) error {
	<-ctx.Done()
	return ctx.Err()
}
