package render

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/observability"
)

// ErrUnknownPlaceholder is returned in strict mode when markup references a
// placeholder with no value.
var ErrUnknownPlaceholder = errors.New("unknown placeholder")

// ClickURLPlaceholder is filled with the tracked click link rather than a
// component value.
const ClickURLPlaceholder = "click_url"

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Renderer substitutes {{component_id}} placeholders in template markup with
// HTML-escaped component values.
type Renderer struct {
	strict  bool
	metrics observability.MetricsRegistry
	logger  *zap.Logger
}

// NewRenderer builds a renderer. In lenient mode unknown placeholders render
// as empty strings.
func NewRenderer(strict bool, metrics observability.MetricsRegistry, logger *zap.Logger) *Renderer {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{strict: strict, metrics: metrics, logger: logger}
}

// Render fills markup with values.
func (r *Renderer) Render(markup string, values map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(markup))
	var missing []string

	rest := markup
	for {
		start := strings.Index(rest, openDelim)
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start+len(openDelim):], closeDelim)
		if end == -1 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])
		name := strings.TrimSpace(rest[start+len(openDelim) : start+len(openDelim)+end])
		rest = rest[start+len(openDelim)+end+len(closeDelim):]

		value, ok := values[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		b.WriteString(html.EscapeString(value))
	}

	if len(missing) > 0 {
		if r.strict {
			r.metrics.IncrementRenders("error")
			return "", fmt.Errorf("%w: %s", ErrUnknownPlaceholder, strings.Join(missing, ", "))
		}
		r.logger.Warn("markup references placeholders without values",
			zap.Strings("placeholders", missing))
		r.metrics.IncrementRenders("partial")
		return b.String(), nil
	}
	r.metrics.IncrementRenders("ok")
	return b.String(), nil
}

// Placeholders lists the distinct placeholder names in markup in order of
// first appearance.
func Placeholders(markup string) []string {
	var names []string
	seen := map[string]bool{}
	rest := markup
	for {
		start := strings.Index(rest, openDelim)
		if start == -1 {
			return names
		}
		end := strings.Index(rest[start+len(openDelim):], closeDelim)
		if end == -1 {
			return names
		}
		name := strings.TrimSpace(rest[start+len(openDelim) : start+len(openDelim)+end])
		rest = rest[start+len(openDelim)+end+len(closeDelim):]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
}

// UnknownPlaceholders returns the placeholders in markup that are neither a
// component id nor the click URL.
func UnknownPlaceholders(markup string, componentIDs []string) []string {
	known := map[string]bool{ClickURLPlaceholder: true}
	for _, id := range componentIDs {
		known[id] = true
	}
	var unknown []string
	for _, name := range Placeholders(markup) {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}
