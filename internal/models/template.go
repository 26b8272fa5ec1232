package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// AdIDDelimiter separates the per-component value codes of an ad identifier.
const AdIDDelimiter = "-"

// ComponentDefinition is one slot of a creative template (headline, image, price, ...)
// together with the pool of values it may take. PossibleValues maps short value codes
// to rendered content such as text, a URL or a price string.
type ComponentDefinition struct {
	TemplateID     string            `json:"template_id"`
	ComponentID    string            `json:"component_id"`
	Position       int               `json:"position"`        // Slot index used for positional decoding.
	PossibleValues map[string]string `json:"possible_values"` // Value code -> rendered content.
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Validate checks the definition before it enters the core.
func (c ComponentDefinition) Validate() error {
	if c.TemplateID == "" {
		return fmt.Errorf("%w: component %q missing template id", ErrInvalidRecord, c.ComponentID)
	}
	if c.ComponentID == "" {
		return fmt.Errorf("%w: template %q component missing id", ErrInvalidRecord, c.TemplateID)
	}
	if c.Position < 0 {
		return fmt.Errorf("%w: component %q has negative position", ErrInvalidRecord, c.ComponentID)
	}
	if len(c.PossibleValues) == 0 {
		return fmt.Errorf("%w: component %q has no possible values", ErrInvalidRecord, c.ComponentID)
	}
	for code := range c.PossibleValues {
		if code == "" {
			return fmt.Errorf("%w: component %q has an empty value code", ErrInvalidRecord, c.ComponentID)
		}
		if strings.Contains(code, AdIDDelimiter) {
			return fmt.Errorf("%w: component %q value code %q contains %q", ErrInvalidRecord, c.ComponentID, code, AdIDDelimiter)
		}
	}
	return nil
}

// Codes returns the component's value codes in sorted order.
func (c ComponentDefinition) Codes() []string {
	codes := make([]string, 0, len(c.PossibleValues))
	for code := range c.PossibleValues {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Template groups the ordered components of a creative with its raw markup.
type Template struct {
	TemplateID string                `json:"template_id"`
	Components []ComponentDefinition `json:"components"`
	Markup     string                `json:"markup,omitempty"`
}

// SortComponents orders components by position, then component id, which is the
// order ad identifiers are decoded in.
func SortComponents(components []ComponentDefinition) {
	sort.SliceStable(components, func(i, j int) bool {
		if components[i].Position != components[j].Position {
			return components[i].Position < components[j].Position
		}
		return components[i].ComponentID < components[j].ComponentID
	})
}

// ComponentIDs returns the ids of components in decode order.
func ComponentIDs(components []ComponentDefinition) []string {
	ids := make([]string, len(components))
	for i, c := range components {
		ids[i] = c.ComponentID
	}
	return ids
}

// PrepareComponentBatch validates components as one write to templateID and
// returns stamped copies. An empty batch, a component of another template or
// a repeated component id rejects the whole batch.
func PrepareComponentBatch(templateID string, components []ComponentDefinition) ([]ComponentDefinition, error) {
	if len(components) == 0 {
		return nil, fmt.Errorf("%w: template %q: no components given", ErrInvalidRecord, templateID)
	}
	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(components))
	out := make([]ComponentDefinition, len(components))
	for i, c := range components {
		if c.TemplateID != templateID {
			return nil, fmt.Errorf("%w: component %q belongs to template %q, not %q", ErrInvalidRecord, c.ComponentID, c.TemplateID, templateID)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[c.ComponentID]; dup {
			return nil, fmt.Errorf("%w: component %q given twice", ErrInvalidRecord, c.ComponentID)
		}
		seen[c.ComponentID] = struct{}{}
		c = copyComponent(c)
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = now
		}
		out[i] = c
	}
	return out, nil
}
