package logic

import (
	"fmt"
	"strings"

	"github.com/patrickwarner/dcoserve/internal/models"
)

// ParseAdID splits an ad identifier into its positional value codes.
func ParseAdID(adID string) []string {
	return strings.Split(adID, models.AdIDDelimiter)
}

// EncodeAdID joins positional value codes into an ad identifier.
func EncodeAdID(codes []string) string {
	return strings.Join(codes, models.AdIDDelimiter)
}

// DecodeAdID maps each positional code of adID through the matching component's
// possible values. components must already be in decode order. A code count that
// differs from the component count fails with a *models.DecodeMismatchError and
// no partial mapping is returned.
func DecodeAdID(components []models.ComponentDefinition, adID string) (map[string]string, error) {
	codes := ParseAdID(adID)
	if len(codes) != len(components) {
		return nil, &models.DecodeMismatchError{AdID: adID, Codes: len(codes), Components: len(components)}
	}
	values := make(map[string]string, len(components))
	for i, c := range components {
		v, ok := c.PossibleValues[codes[i]]
		if !ok {
			return nil, fmt.Errorf("%w: code %q not defined for component %q of template %q",
				models.ErrNotFound, codes[i], c.ComponentID, c.TemplateID)
		}
		values[c.ComponentID] = v
	}
	return values, nil
}

// EncodeSelection builds the ad identifier that selects the given code for each
// component. codes is keyed by component id.
func EncodeSelection(components []models.ComponentDefinition, codes map[string]string) (string, error) {
	out := make([]string, len(components))
	for i, c := range components {
		code, ok := codes[c.ComponentID]
		if !ok {
			return "", fmt.Errorf("%w: no code given for component %q", models.ErrInvalidRequest, c.ComponentID)
		}
		if _, ok := c.PossibleValues[code]; !ok {
			return "", fmt.Errorf("%w: code %q not defined for component %q", models.ErrNotFound, code, c.ComponentID)
		}
		out[i] = code
	}
	return EncodeAdID(out), nil
}

// ErrTooManyCombinations is returned by EnumerateAdIDs when the cartesian
// product of value codes exceeds the caller's limit.
var ErrTooManyCombinations = fmt.Errorf("%w: too many ad combinations", models.ErrInvalidRequest)

// EnumerateAdIDs returns every ad identifier the template can produce, one per
// combination of value codes, in lexical order of codes per component.
// A limit <= 0 disables the size check.
func EnumerateAdIDs(components []models.ComponentDefinition, limit int) ([]string, error) {
	if len(components) == 0 {
		return nil, nil
	}
	total := 1
	codes := make([][]string, len(components))
	for i, c := range components {
		codes[i] = c.Codes()
		total *= len(codes[i])
		if limit > 0 && total > limit {
			return nil, fmt.Errorf("%w: more than %d", ErrTooManyCombinations, limit)
		}
	}

	ids := make([]string, 0, total)
	idx := make([]int, len(components))
	current := make([]string, len(components))
	for {
		for i := range components {
			current[i] = codes[i][idx[i]]
		}
		ids = append(ids, EncodeAdID(current))

		// advance the odometer, last component fastest
		pos := len(idx) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(codes[pos]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return ids, nil
		}
	}
}
