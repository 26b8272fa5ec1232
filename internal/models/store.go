package models

import (
	"context"
	"time"
)

// Store is the storage contract consumed by the selection and recording core.
// Implementations must treat every call as potentially blocking, honour ctx
// deadlines, and report transport failures as ErrStorageUnavailable.
type Store interface {
	// GetTemplateComponents returns the template's components in decode order.
	// ErrNotFound is returned when the template is unknown.
	GetTemplateComponents(ctx context.Context, templateID string) ([]ComponentDefinition, error)
	// GetCampaignRecords returns every stored version for the campaign/template pair.
	GetCampaignRecords(ctx context.Context, campaignID, templateID string) ([]CampaignRecord, error)

	// Append-only writes.
	PutTemplateComponent(ctx context.Context, component ComponentDefinition) error
	PutCampaignRecord(ctx context.Context, record CampaignRecord) error
	PutEvent(ctx context.Context, event Event) error
}

// ComponentBatchWriter stores several components of one template as a unit:
// either every component becomes visible or none does.
type ComponentBatchWriter interface {
	PutTemplateComponents(ctx context.Context, templateID string, components []ComponentDefinition) error
}

// EventQuerier lists recorded events for a campaign/template pair ordered by timestamp.
type EventQuerier interface {
	ListEvents(ctx context.Context, campaignID, templateID string) ([]Event, error)
}

// MarkupStore stores the raw creative markup a template renders into.
type MarkupStore interface {
	GetTemplateMarkup(ctx context.Context, templateID string) (string, error)
	PutTemplateMarkup(ctx context.Context, templateID, markup string) error
}

// InventoryLister produces the static inventory listing.
type InventoryLister interface {
	ListInventory(ctx context.Context) (Inventory, error)
}

// Inventory summarises the templates and campaigns the server can serve.
type Inventory struct {
	Templates []TemplateSummary `json:"templates"`
	Campaigns []CampaignSummary `json:"campaigns"`
}

// TemplateSummary lists a template's components and how many values each offers.
type TemplateSummary struct {
	TemplateID  string         `json:"template_id"`
	Components  []string       `json:"components"`
	ValueCounts map[string]int `json:"value_counts"`
	HasMarkup   bool           `json:"has_markup"`
}

// CampaignSummary describes the served version of a campaign/template pair.
// Active is false only when no stored version is active, in which case the
// summary shows the latest version.
type CampaignSummary struct {
	CampaignID string         `json:"campaign_id"`
	TemplateID string         `json:"template_id"`
	Active     bool           `json:"active"`
	Versions   int            `json:"versions"`
	CreatedAt  time.Time      `json:"created_at"`
	Segments   []string       `json:"segments"`
	PoolSizes  map[string]int `json:"pool_sizes"`
}

// NewTemplateSummary builds a summary from ordered components.
func NewTemplateSummary(templateID string, components []ComponentDefinition, hasMarkup bool) TemplateSummary {
	counts := make(map[string]int, len(components))
	for _, c := range components {
		counts[c.ComponentID] = len(c.PossibleValues)
	}
	return TemplateSummary{
		TemplateID:  templateID,
		Components:  ComponentIDs(components),
		ValueCounts: counts,
		HasMarkup:   hasMarkup,
	}
}

// NewCampaignSummary summarises the version CurrentVersion selects.
func NewCampaignSummary(records []CampaignRecord) CampaignSummary {
	current, active := CurrentVersion(records)
	if current == nil {
		return CampaignSummary{}
	}
	sizes := make(map[string]int, len(current.Segments))
	for seg, pool := range current.Segments {
		sizes[seg] = len(pool)
	}
	return CampaignSummary{
		CampaignID: current.CampaignID,
		TemplateID: current.TemplateID,
		Active:     active,
		Versions:   len(records),
		CreatedAt:  current.CreatedAt,
		Segments:   current.SegmentIDs(),
		PoolSizes:  sizes,
	}
}
