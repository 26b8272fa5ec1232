package models

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestInMemoryStoreComponents(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.GetTemplateComponents(ctx, "T1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	values := map[string]string{"1": "http://x/img.png"}
	if err := s.PutTemplateComponent(ctx, ComponentDefinition{TemplateID: "T1", ComponentID: "image", Position: 1, PossibleValues: values}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutTemplateComponent(ctx, ComponentDefinition{TemplateID: "T1", ComponentID: "headline", PossibleValues: map[string]string{"1": "Buy Socks"}}); err != nil {
		t.Fatal(err)
	}
	values["1"] = "mutated"

	got, err := s.GetTemplateComponents(ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(ComponentIDs(got)) != "[headline image]" {
		t.Fatalf("unexpected order %v", ComponentIDs(got))
	}
	if got[1].PossibleValues["1"] != "http://x/img.png" {
		t.Fatal("store kept a reference to caller map")
	}
	if got[0].UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt not stamped")
	}

	// A newer version replaces the component for reads.
	if err := s.PutTemplateComponent(ctx, ComponentDefinition{TemplateID: "T1", ComponentID: "headline", PossibleValues: map[string]string{"1": "Warm Feet"}}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetTemplateComponents(ctx, "T1")
	if len(got) != 2 || got[0].PossibleValues["1"] != "Warm Feet" {
		t.Fatalf("expected replaced headline, got %+v", got)
	}

	if err := s.PutTemplateComponent(ctx, ComponentDefinition{TemplateID: "T1"}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("invalid component accepted: %v", err)
	}
}

func TestInMemoryStoreCampaignVersionsAppend(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := s.PutCampaignRecord(ctx, CampaignRecord{
			CampaignID: "C1", TemplateID: "T1", Active: i%2 == 0,
			Segments:  map[string][]string{"news": {fmt.Sprintf("%d", i)}},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	records, err := s.GetCampaignRecords(ctx, "C1", "T1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(records))
	}
	records[0].Segments["news"][0] = "mutated"
	again, _ := s.GetCampaignRecords(ctx, "C1", "T1")
	if again[0].Segments["news"][0] != "0" {
		t.Fatal("returned records share storage")
	}

	none, err := s.GetCampaignRecords(ctx, "C9", "T1")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty result, got %v %v", none, err)
	}
}

func TestInMemoryStoreCancelledContext(t *testing.T) {
	s := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.GetTemplateComponents(ctx, "T1"); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := s.GetCampaignRecords(ctx, "C1", "T1"); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestInMemoryStoreEvents(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.PutEvent(ctx, Event{
				EventID: fmt.Sprintf("e%d", i), Type: EventImpression, CampaignID: "C1", TemplateID: "T1",
				AdID: "1-1", SegmentID: "news", Timestamp: base.Add(time.Duration(20-i) * time.Second),
			})
		}(i)
	}
	wg.Wait()

	events, err := s.ListEvents(ctx, "C1", "T1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 20 {
		t.Fatalf("expected 20 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Fatal("events not ordered by timestamp")
		}
	}
	if err := s.PutEvent(ctx, Event{Type: EventClick}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("invalid event accepted: %v", err)
	}
}

func TestInMemoryStoreMarkupAndInventory(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	if _, err := s.GetTemplateMarkup(ctx, "T1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_ = s.PutTemplateComponent(ctx, ComponentDefinition{TemplateID: "T2", ComponentID: "headline", PossibleValues: map[string]string{"1": "a", "2": "b"}})
	_ = s.PutTemplateComponent(ctx, ComponentDefinition{TemplateID: "T1", ComponentID: "headline", PossibleValues: map[string]string{"1": "a"}})
	if err := s.PutTemplateMarkup(ctx, "T1", "<p>{{headline}}</p>"); err != nil {
		t.Fatal(err)
	}
	_ = s.PutCampaignRecord(ctx, CampaignRecord{CampaignID: "C2", TemplateID: "T1", Active: true, Segments: map[string][]string{"news": {"1"}}})
	_ = s.PutCampaignRecord(ctx, CampaignRecord{CampaignID: "C1", TemplateID: "T1", Active: true, Segments: map[string][]string{"news": {"1"}}})

	inv, err := s.ListInventory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(inv.Templates) != 2 || inv.Templates[0].TemplateID != "T1" || !inv.Templates[0].HasMarkup || inv.Templates[1].HasMarkup {
		t.Fatalf("unexpected templates %+v", inv.Templates)
	}
	if inv.Templates[1].ValueCounts["headline"] != 2 {
		t.Fatalf("unexpected value counts %+v", inv.Templates[1].ValueCounts)
	}
	if len(inv.Campaigns) != 2 || inv.Campaigns[0].CampaignID != "C1" {
		t.Fatalf("unexpected campaigns %+v", inv.Campaigns)
	}
}

func TestInMemoryStoreComponentBatchIsAtomic(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	batch := []ComponentDefinition{
		{TemplateID: "T1", ComponentID: "headline", PossibleValues: map[string]string{"1": "Buy Socks"}},
		{TemplateID: "T1", ComponentID: "image"},
	}
	if err := s.PutTemplateComponents(ctx, "T1", batch); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("invalid batch accepted: %v", err)
	}
	if _, err := s.GetTemplateComponents(ctx, "T1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("partial batch stored: %v", err)
	}

	dup := []ComponentDefinition{batch[0], batch[0]}
	if err := s.PutTemplateComponents(ctx, "T1", dup); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("duplicate component ids accepted: %v", err)
	}
	other := []ComponentDefinition{{TemplateID: "T2", ComponentID: "headline", PossibleValues: map[string]string{"1": "a"}}}
	if err := s.PutTemplateComponents(ctx, "T1", other); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("foreign template accepted: %v", err)
	}

	batch[1].PossibleValues = map[string]string{"1": "a.png"}
	if err := s.PutTemplateComponents(ctx, "T1", batch); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTemplateComponents(ctx, "T1")
	if err != nil || len(got) != 2 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestInMemoryStoreInventoryShowsServedVersion(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_ = s.PutCampaignRecord(ctx, CampaignRecord{CampaignID: "C1", TemplateID: "T1", Active: true, Segments: map[string][]string{"news": {"1", "2"}}, CreatedAt: base})
	_ = s.PutCampaignRecord(ctx, CampaignRecord{CampaignID: "C1", TemplateID: "T1", Segments: map[string][]string{"news": {"1"}}, CreatedAt: base.Add(time.Hour)})

	inv, err := s.ListInventory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(inv.Campaigns) != 1 {
		t.Fatalf("unexpected campaigns %+v", inv.Campaigns)
	}
	c := inv.Campaigns[0]
	if !c.Active || c.Versions != 2 || c.PoolSizes["news"] != 2 {
		t.Fatalf("inventory does not show the served version: %+v", c)
	}
}
