package macros

import (
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const customPrefix = "CUSTOM."

// ExpansionFunc produces the value of one macro.
type ExpansionFunc func(ctx *ExpansionContext) (string, error)

// ExpansionContext is the data a click URL can reference.
type ExpansionContext struct {
	EventID   string
	Timestamp time.Time

	CampaignID string
	TemplateID string
	AdID       string
	SegmentID  string

	// CustomParams back {CUSTOM.key} placeholders.
	CustomParams map[string]string
}

type expanderMetrics struct {
	expansions *prometheus.CounterVec
	duration   prometheus.Histogram
	failures   *prometheus.CounterVec
}

func newExpanderMetrics(factory promauto.Factory) expanderMetrics {
	return expanderMetrics{
		expansions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcoserve_macro_expansions_total",
			Help: "Macro expansions by macro and outcome",
		}, []string{"macro", "success"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dcoserve_macro_expansion_duration_seconds",
			Help:    "Time spent expanding one click URL",
			Buckets: prometheus.DefBuckets,
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcoserve_macro_expansion_failures_total",
			Help: "Macro expansion failures by macro and reason",
		}, []string{"macro", "error_type"}),
	}
}

// MacroExpander replaces {NAME} tokens in click URLs in a single left to
// right pass. Substituted values are query escaped and never rescanned.
// Unknown tokens are left as written.
type MacroExpander struct {
	logger  *zap.Logger
	metrics expanderMetrics
	strict  atomic.Bool
	macros  map[string]ExpansionFunc
}

// NewMacroExpander creates a lenient expander registered on the default
// Prometheus registry. It must be called at most once per process.
func NewMacroExpander(logger *zap.Logger) *MacroExpander {
	return NewMacroExpanderWithMode(logger, false)
}

// NewMacroExpanderWithMode creates an expander on the default registry.
func NewMacroExpanderWithMode(logger *zap.Logger, strict bool) *MacroExpander {
	return newMacroExpander(logger, strict, promauto.With(prometheus.DefaultRegisterer))
}

// NewMacroExpanderForTesting creates an expander with an isolated registry.
func NewMacroExpanderForTesting(logger *zap.Logger, strict bool) *MacroExpander {
	return newMacroExpander(logger, strict, promauto.With(prometheus.NewRegistry()))
}

func newMacroExpander(logger *zap.Logger, strict bool, factory promauto.Factory) *MacroExpander {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &MacroExpander{
		logger:  logger,
		metrics: newExpanderMetrics(factory),
		macros:  builtinMacros(),
	}
	e.strict.Store(strict)
	return e
}

// SetStrictMode makes any failing macro fail the whole URL.
func (e *MacroExpander) SetStrictMode(strict bool) {
	e.strict.Store(strict)
}

// scanTokens calls visit for every {NAME} token in raw and returns raw with
// each token replaced by visit's result. visit returning ok=false keeps the
// token verbatim. An unterminated brace ends the scan.
func scanTokens(raw string, visit func(name string) (value string, ok bool)) string {
	var b strings.Builder
	scanned := false
	rest := raw
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			break
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			break
		}
		token := rest[open : open+closing+1]
		scanned = true
		b.WriteString(rest[:open])
		if v, ok := visit(token[1 : len(token)-1]); ok {
			b.WriteString(v)
		} else {
			b.WriteString(token)
		}
		rest = rest[open+closing+1:]
	}
	if !scanned {
		return raw
	}
	b.WriteString(rest)
	return b.String()
}

// ExpandURL expands rawURL for ctx. In lenient mode a failing macro is left
// unexpanded and the failures are only logged.
func (e *MacroExpander) ExpandURL(rawURL string, ctx *ExpansionContext) (string, error) {
	start := time.Now()
	defer func() { e.metrics.duration.Observe(time.Since(start).Seconds()) }()

	if rawURL == "" {
		return "", nil
	}
	if _, err := url.Parse(rawURL); err != nil {
		return rawURL, fmt.Errorf("parse click url: %w", err)
	}
	if ctx == nil {
		ctx = &ExpansionContext{}
	}


	var errs []error
	found := 0
	out := scanTokens(rawURL, func(name string) (string, bool) {
		if key, ok := strings.CutPrefix(name, customPrefix); ok {
			v, ok := ctx.CustomParams[key]
			if !ok {
				return "", false
			}
			found++
			return url.QueryEscape(v), true
		}
		fn, ok := e.macros[name]
		if !ok {
			return "", false
		}
		found++
		v, err := fn(ctx)
		if err != nil {
			e.metrics.expansions.WithLabelValues(name, "false").Inc()
			e.metrics.failures.WithLabelValues(name, "expansion_error").Inc()
			errs = append(errs, fmt.Errorf("macro %s: %w", name, err))
			return "", false
		}
		e.metrics.expansions.WithLabelValues(name, "true").Inc()
		return url.QueryEscape(v), true
	})

	if err := errors.Join(errs...); err != nil {
		if e.strict.Load() {
			return "", err
		}
		e.logger.Warn("click url partially expanded",
			zap.String("url", rawURL),
			zap.String("partial_url", out),
			zap.Error(err))
	}
	if found > 0 {
		e.logger.Debug("expanded click url",
			zap.String("url", rawURL),
			zap.String("expanded_url", out),
			zap.Int("macros_found", found))
	}
	return out, nil
}

// GetRegisteredMacros returns every macro name in sorted order. {CUSTOM.key}
// placeholders are accepted in addition to these.
func (e *MacroExpander) GetRegisteredMacros() []string {
	names := make([]string, 0, len(e.macros))
	for name := range e.macros {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateURL returns the tokens in rawURL that no macro handles, in order.
// {CUSTOM.*} tokens are always accepted.
func (e *MacroExpander) ValidateURL(rawURL string) []string {
	var unknown []string
	scanTokens(rawURL, func(name string) (string, bool) {
		if strings.HasPrefix(name, customPrefix) {
			return "", false
		}
		if _, ok := e.macros[name]; !ok {
			unknown = append(unknown, name)
		}
		return "", false
	})
	return unknown
}

func builtinMacros() map[string]ExpansionFunc {
	field := func(get func(*ExpansionContext) string) ExpansionFunc {
		return func(ctx *ExpansionContext) (string, error) { return get(ctx), nil }
	}
	return map[string]ExpansionFunc{
		"CAMPAIGN_ID": field(func(c *ExpansionContext) string { return c.CampaignID }),
		"TEMPLATE_ID": field(func(c *ExpansionContext) string { return c.TemplateID }),
		"AD_ID":       field(func(c *ExpansionContext) string { return c.AdID }),
		"SEGMENT_ID":  field(func(c *ExpansionContext) string { return c.SegmentID }),
		"EVENT_ID": func(c *ExpansionContext) (string, error) {
			if c.EventID == "" {
				return "", fmt.Errorf("event id not available")
			}
			return c.EventID, nil
		},
		"TIMESTAMP":     field(func(c *ExpansionContext) string { return strconv.FormatInt(c.Timestamp.Unix(), 10) }),
		"TIMESTAMP_MS":  field(func(c *ExpansionContext) string { return strconv.FormatInt(c.Timestamp.UnixMilli(), 10) }),
		"ISO_TIMESTAMP": field(func(c *ExpansionContext) string { return c.Timestamp.UTC().Format(time.RFC3339) }),
		"RANDOM":        field(func(*ExpansionContext) string { return strconv.FormatInt(rand.Int63(), 10) }),
		"UUID":          field(func(*ExpansionContext) string { return uuid.NewString() }),
	}
}
