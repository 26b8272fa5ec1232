package models

import (
	"fmt"
	"sort"
	"time"
)

// CampaignRecord is one stored version of a campaign's assignment for a template.
// Updates never overwrite an older record; every write appends a new version with
// its own CreatedAt timestamp. Segments maps an audience segment to the set of
// ad identifiers eligible for it.
type CampaignRecord struct {
	CampaignID string              `json:"campaign_id"`
	TemplateID string              `json:"template_id"`
	Active     bool                `json:"active"`
	Segments   map[string][]string `json:"segments"`
	ClickURL   string              `json:"click_url,omitempty"` // Optional landing page, may contain click macros.
	CreatedAt  time.Time           `json:"created_at"`
}

// Validate checks the record and normalises every segment pool into a sorted set.
func (c *CampaignRecord) Validate() error {
	if c.CampaignID == "" || c.TemplateID == "" {
		return fmt.Errorf("%w: campaign record requires campaign and template ids", ErrInvalidRecord)
	}
	for segment, pool := range c.Segments {
		if segment == "" {
			return fmt.Errorf("%w: campaign %q has an empty segment id", ErrInvalidRecord, c.CampaignID)
		}
		c.Segments[segment] = normalizePool(pool)
		for _, adID := range c.Segments[segment] {
			if adID == "" {
				return fmt.Errorf("%w: campaign %q segment %q has an empty ad identifier", ErrInvalidRecord, c.CampaignID, segment)
			}
		}
	}
	return nil
}

// Clone returns a copy that shares no segment maps or pools with c.
func (c CampaignRecord) Clone() CampaignRecord {
	segments := make(map[string][]string, len(c.Segments))
	for seg, pool := range c.Segments {
		segments[seg] = append([]string(nil), pool...)
	}
	c.Segments = segments
	return c
}

// CurrentVersion returns the version that is served: the active record with
// the latest CreatedAt, where a later position breaks ties. A later inactive
// version does not hide an earlier active one. When no record is active it
// returns the latest record and false; with no records it returns nil, false.
func CurrentVersion(records []CampaignRecord) (*CampaignRecord, bool) {
	var active, latest *CampaignRecord
	for i := range records {
		r := &records[i]
		if latest == nil || !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
		}
		if r.Active && (active == nil || !r.CreatedAt.Before(active.CreatedAt)) {
			active = r
		}
	}
	if active != nil {
		return active, true
	}
	return latest, false
}

// Pool returns the ad identifiers eligible for segment.
func (c *CampaignRecord) Pool(segment string) ([]string, bool) {
	pool, ok := c.Segments[segment]
	return pool, ok
}

// SegmentIDs returns the campaign's segments in sorted order.
func (c *CampaignRecord) SegmentIDs() []string {
	ids := make([]string, 0, len(c.Segments))
	for id := range c.Segments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func normalizePool(pool []string) []string {
	seen := make(map[string]struct{}, len(pool))
	out := make([]string, 0, len(pool))
	for _, id := range pool {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
