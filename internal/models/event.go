package models

import (
	"fmt"
	"time"
)

// EventType identifies what an Event records.
type EventType string

const (
	EventImpression EventType = "impression"
	EventClick      EventType = "click"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == EventImpression || t == EventClick
}

// Event is an immutable impression or click record. Events are never updated or
// deleted and may reference ad identifiers that are no longer in the campaign's
// current pool.
type Event struct {
	EventID    string    `json:"event_id"`
	Type       EventType `json:"event_type"`
	CampaignID string    `json:"campaign_id"`
	TemplateID string    `json:"template_id"`
	AdID       string    `json:"ad_id"`
	SegmentID  string    `json:"segment_id"`
	Timestamp  time.Time `json:"timestamp"`
	DeviceType string    `json:"device_type,omitempty"`
	Country    string    `json:"country,omitempty"`
}

// Validate checks that the event carries every identifier it is keyed by.
func (e Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidRecord, e.Type)
	}
	if e.EventID == "" || e.CampaignID == "" || e.TemplateID == "" || e.AdID == "" || e.SegmentID == "" {
		return fmt.Errorf("%w: %s event missing identifiers", ErrInvalidRecord, e.Type)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: %s event missing timestamp", ErrInvalidRecord, e.Type)
	}
	return nil
}

// RecordHandle confirms that an event was appended.
type RecordHandle struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Selection is the result of choosing an ad: the identifier and its decoded
// component values keyed by component id.
type Selection struct {
	AdID            string            `json:"ad_id"`
	ComponentValues map[string]string `json:"component_values"`
}
