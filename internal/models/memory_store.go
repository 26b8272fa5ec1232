package models

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// catalogSnapshot is an immutable view of templates and campaign versions.
type catalogSnapshot struct {
	components map[string]map[string]ComponentDefinition // Template ID -> component ID -> latest definition
	markup     map[string]string                         // Template ID -> markup
	campaigns  map[campaignKey][]CampaignRecord          // (campaign, template) -> versions in write order
}

type campaignKey struct {
	campaignID string
	templateID string
}

// InMemoryStore implements Store with copy-on-write catalog snapshots and an
// append-only event log. Reads never block on writes.
type InMemoryStore struct {
	data atomic.Pointer[catalogSnapshot]

	// writeMu serialises snapshot swaps so concurrent writers do not lose updates.
	writeMu sync.Mutex

	eventsMu sync.RWMutex
	events   []Event
}

var (
	_ Store           = (*InMemoryStore)(nil)
	_ EventQuerier    = (*InMemoryStore)(nil)
	_ MarkupStore     = (*InMemoryStore)(nil)
	_ InventoryLister = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{}
	s.data.Store(&catalogSnapshot{
		components: make(map[string]map[string]ComponentDefinition),
		markup:     make(map[string]string),
		campaigns:  make(map[campaignKey][]CampaignRecord),
	})
	return s
}

// GetTemplateComponents returns a copy of the template's components in decode order.
func (s *InMemoryStore) GetTemplateComponents(ctx context.Context, templateID string) ([]ComponentDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("get template components", err)
	}
	byID, ok := s.data.Load().components[templateID]
	if !ok || len(byID) == 0 {
		return nil, ErrNotFound
	}
	out := make([]ComponentDefinition, 0, len(byID))
	for _, c := range byID {
		out = append(out, copyComponent(c))
	}
	SortComponents(out)
	return out, nil
}

// GetCampaignRecords returns copies of every version stored for the pair.
func (s *InMemoryStore) GetCampaignRecords(ctx context.Context, campaignID, templateID string) ([]CampaignRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("get campaign records", err)
	}
	versions := s.data.Load().campaigns[campaignKey{campaignID, templateID}]
	out := make([]CampaignRecord, len(versions))
	for i, r := range versions {
		out[i] = r.Clone()
	}
	return out, nil
}

// PutTemplateComponent stores a new version of a component, replacing the
// previous definition with the same component id for reads.
func (s *InMemoryStore) PutTemplateComponent(ctx context.Context, component ComponentDefinition) error {
	return s.PutTemplateComponents(ctx, component.TemplateID, []ComponentDefinition{component})
}

// PutTemplateComponents stores components of templateID in one snapshot swap.
// Nothing is stored when any component fails validation.
func (s *InMemoryStore) PutTemplateComponents(ctx context.Context, templateID string, components []ComponentDefinition) error {
	batch, err := PrepareComponentBatch(templateID, components)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return Unavailable("put template components", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.data.Load()
	next := make(map[string]map[string]ComponentDefinition, len(current.components)+1)
	for tpl, byID := range current.components {
		next[tpl] = byID
	}
	byID := make(map[string]ComponentDefinition, len(current.components[templateID])+len(batch))
	for id, c := range current.components[templateID] {
		byID[id] = c
	}
	for _, c := range batch {
		byID[c.ComponentID] = c
	}
	next[templateID] = byID

	s.data.Store(&catalogSnapshot{
		components: next,
		markup:     current.markup,
		campaigns:  current.campaigns,
	})
	return nil
}

// PutCampaignRecord appends a new campaign version.
func (s *InMemoryStore) PutCampaignRecord(ctx context.Context, record CampaignRecord) error {
	record = record.Clone()
	if err := record.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return Unavailable("put campaign record", err)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.data.Load()
	campaigns := make(map[campaignKey][]CampaignRecord, len(current.campaigns)+1)
	for k, v := range current.campaigns {
		campaigns[k] = v
	}
	key := campaignKey{record.CampaignID, record.TemplateID}
	versions := make([]CampaignRecord, 0, len(campaigns[key])+1)
	versions = append(versions, campaigns[key]...)
	campaigns[key] = append(versions, record)

	s.data.Store(&catalogSnapshot{
		components: current.components,
		markup:     current.markup,
		campaigns:  campaigns,
	})
	return nil
}

// GetTemplateMarkup returns the stored markup for the template.
func (s *InMemoryStore) GetTemplateMarkup(ctx context.Context, templateID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Unavailable("get template markup", err)
	}
	markup, ok := s.data.Load().markup[templateID]
	if !ok {
		return "", ErrNotFound
	}
	return markup, nil
}

// PutTemplateMarkup replaces the template's markup.
func (s *InMemoryStore) PutTemplateMarkup(ctx context.Context, templateID, markup string) error {
	if templateID == "" {
		return ErrInvalidRecord
	}
	if err := ctx.Err(); err != nil {
		return Unavailable("put template markup", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.data.Load()
	next := make(map[string]string, len(current.markup)+1)
	for k, v := range current.markup {
		next[k] = v
	}
	next[templateID] = markup
	s.data.Store(&catalogSnapshot{
		components: current.components,
		markup:     next,
		campaigns:  current.campaigns,
	})
	return nil
}

// PutEvent appends an event.
func (s *InMemoryStore) PutEvent(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return Unavailable("put event", err)
	}
	s.eventsMu.Lock()
	s.events = append(s.events, event)
	s.eventsMu.Unlock()
	return nil
}

// ListEvents returns the events recorded for the pair ordered by timestamp.
func (s *InMemoryStore) ListEvents(ctx context.Context, campaignID, templateID string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("list events", err)
	}
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.CampaignID == campaignID && e.TemplateID == templateID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ListInventory summarises every template and campaign in the store.
func (s *InMemoryStore) ListInventory(ctx context.Context) (Inventory, error) {
	if err := ctx.Err(); err != nil {
		return Inventory{}, Unavailable("list inventory", err)
	}
	data := s.data.Load()

	inv := Inventory{
		Templates: make([]TemplateSummary, 0, len(data.components)),
		Campaigns: make([]CampaignSummary, 0, len(data.campaigns)),
	}
	for tpl, byID := range data.components {
		components := make([]ComponentDefinition, 0, len(byID))
		for _, c := range byID {
			components = append(components, c)
		}
		SortComponents(components)
		_, hasMarkup := data.markup[tpl]
		inv.Templates = append(inv.Templates, NewTemplateSummary(tpl, components, hasMarkup))
	}
	for _, versions := range data.campaigns {
		inv.Campaigns = append(inv.Campaigns, NewCampaignSummary(versions))
	}
	SortInventory(&inv)
	return inv, nil
}

// SortInventory orders the listing by template id and campaign/template ids.
func SortInventory(inv *Inventory) {
	sort.Slice(inv.Templates, func(i, j int) bool { return inv.Templates[i].TemplateID < inv.Templates[j].TemplateID })
	sort.Slice(inv.Campaigns, func(i, j int) bool {
		if inv.Campaigns[i].CampaignID != inv.Campaigns[j].CampaignID {
			return inv.Campaigns[i].CampaignID < inv.Campaigns[j].CampaignID
		}
		return inv.Campaigns[i].TemplateID < inv.Campaigns[j].TemplateID
	})
}

func copyComponent(c ComponentDefinition) ComponentDefinition {
	values := make(map[string]string, len(c.PossibleValues))
	for k, v := range c.PossibleValues {
		values[k] = v
	}
	c.PossibleValues = values
	return c
}
