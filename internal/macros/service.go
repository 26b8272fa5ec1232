package macros

import (
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/models"
)

// Service resolves click destinations for campaigns.
type Service struct {
	expander *MacroExpander
	logger   *zap.Logger
}

// NewService creates a service registered on the default Prometheus registry.
func NewService(logger *zap.Logger) *Service {
	return &Service{
		expander: NewMacroExpander(logger),
		logger:   logger.Named("macro_service"),
	}
}

// NewServiceForTesting creates a service with isolated metrics.
func NewServiceForTesting(logger *zap.Logger) *Service {
	return &Service{
		expander: NewMacroExpanderForTesting(logger, false),
		logger:   logger.Named("macro_service"),
	}
}

// GetRegisteredMacros lists the supported macro names in sorted order.
func (s *Service) GetRegisteredMacros() []string {
	return s.expander.GetRegisteredMacros()
}

// ValidateURL returns unsupported macros found in rawURL.
func (s *Service) ValidateURL(rawURL string) []string {
	return s.expander.ValidateURL(rawURL)
}

// ClickContext holds the identifiers of one click.
type ClickContext struct {
	EventID    string
	Timestamp  time.Time
	CampaignID string
	TemplateID string
	AdID       string
	SegmentID  string

	CustomParams map[string]string
}

// ExpandClickURL expands macros in rawURL for the click.
func (s *Service) ExpandClickURL(rawURL string, click *ClickContext) (string, error) {
	if rawURL == "" {
		return "", nil
	}
	return s.expander.ExpandURL(rawURL, &ExpansionContext{
		EventID:      click.EventID,
		Timestamp:    click.Timestamp,
		CampaignID:   click.CampaignID,
		TemplateID:   click.TemplateID,
		AdID:         click.AdID,
		SegmentID:    click.SegmentID,
		CustomParams: click.CustomParams,
	})
}

// DestinationURL picks the landing page for a click: the campaign's ClickURL
// with macros expanded, or fallback when the campaign has none. A failed
// expansion returns the unexpanded campaign URL so the click still lands.
func (s *Service) DestinationURL(record *models.CampaignRecord, click *ClickContext, fallback string) string {
	if record == nil || record.ClickURL == "" {
		return fallback
	}
	expanded, err := s.ExpandClickURL(record.ClickURL, click)
	if err != nil {
		s.logger.Error("failed to expand click URL macros, using original URL",
			zap.String("raw_url", record.ClickURL),
			zap.Error(err))
		return record.ClickURL
	}
	return expanded
}
