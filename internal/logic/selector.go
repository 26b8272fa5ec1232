package logic

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/logic/selectors"
	"github.com/patrickwarner/dcoserve/internal/models"
	"github.com/patrickwarner/dcoserve/internal/observability"
)

// DefaultStorageTimeout bounds every storage call made by the selector and recorder.
const DefaultStorageTimeout = 2 * time.Second

// AdSelector chooses one ad identifier from a campaign's segment pool and
// decodes it into component values.
type AdSelector struct {
	store    models.Store
	strategy selectors.Strategy
	metrics  observability.MetricsRegistry
	logger   *zap.Logger
	timeout  time.Duration
}

// NewAdSelector builds a selector. A nil strategy falls back to an unseeded
// uniform draw and nil metrics or logger disable those concerns.
func NewAdSelector(store models.Store, strategy selectors.Strategy, metrics observability.MetricsRegistry, logger *zap.Logger) *AdSelector {
	if strategy == nil {
		strategy = selectors.NewRandomStrategy(0)
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdSelector{
		store:    store,
		strategy: strategy,
		metrics:  metrics,
		logger:   logger,
		timeout:  DefaultStorageTimeout,
	}
}

// SetTimeout overrides the per call storage timeout. Non-positive values are ignored.
func (s *AdSelector) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Select picks an ad for the segment and returns the decoded selection.
func (s *AdSelector) Select(ctx context.Context, campaignID, templateID, segmentID string) (*models.Selection, error) {
	return s.SelectWithTrace(ctx, campaignID, templateID, segmentID, nil)
}

// SelectWithTrace is Select with optional step recording for debug responses.
func (s *AdSelector) SelectWithTrace(ctx context.Context, campaignID, templateID, segmentID string, trace *SelectionTrace) (*models.Selection, error) {
	tracer := observability.GetTracer("dco-selector")
	ctx, span := tracer.Start(ctx, "AdSelector.Select")
	defer span.End()
	span.SetAttributes(
		attribute.String("dco.campaign_id", campaignID),
		attribute.String("dco.template_id", templateID),
		attribute.String("dco.segment_id", segmentID),
	)

	sel, err := s.selectAd(ctx, campaignID, templateID, segmentID, trace)
	s.metrics.IncrementSelections(models.ErrorCode(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, models.ErrorCode(err))
		if errors.Is(err, models.ErrStorageUnavailable) {
			s.logger.Warn("selection storage failure",
				zap.String("campaign_id", campaignID),
				zap.String("template_id", templateID),
				zap.Error(err))
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("dco.ad_id", sel.AdID))
	return sel, nil
}

func (s *AdSelector) selectAd(ctx context.Context, campaignID, templateID, segmentID string, trace *SelectionTrace) (*models.Selection, error) {
	if s.store == nil {
		return nil, ErrNilStore
	}
	if campaignID == "" || templateID == "" || segmentID == "" {
		return nil, fmt.Errorf("%w: campaign, template and segment are required", models.ErrInvalidRequest)
	}

	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	components, err := s.store.GetTemplateComponents(tctx, templateID)
	cancel()
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: template %q", models.ErrNotFound, templateID)
		}
		return nil, storageError("get template components", err)
	}
	if len(components) == 0 {
		return nil, fmt.Errorf("%w: template %q has no components", models.ErrNotFound, templateID)
	}
	models.SortComponents(components)
	trace.AddStep("template", map[string]string{"components": strconv.Itoa(len(components))})

	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	record, err := CampaignResolver{Store: s.store}.Resolve(rctx, campaignID, templateID)
	cancel()
	if err != nil {
		return nil, err
	}
	trace.AddStep("campaign", map[string]string{
		"created_at": record.CreatedAt.Format(time.RFC3339Nano),
		"segments":   strconv.Itoa(len(record.Segments)),
	})

	pool, ok := record.Pool(segmentID)
	if !ok || len(pool) == 0 {
		return nil, fmt.Errorf("%w: %q in campaign %q", models.ErrUnknownSegment, segmentID, campaignID)
	}
	trace.AddStep("pool", map[string]string{"segment": segmentID, "size": strconv.Itoa(len(pool))})

	adID, err := s.strategy.Pick(pool)
	if err != nil {
		return nil, err
	}
	trace.AddStep("draw", map[string]string{"ad_id": adID})

	values, err := DecodeAdID(components, adID)
	if err != nil {
		return nil, err
	}
	trace.AddStep("decode", map[string]string{"ad_id": adID})
	return &models.Selection{AdID: adID, ComponentValues: values}, nil
}

// storageError classifies a store failure. Domain errors pass through and
// everything else, including deadline expiry, is reported as unavailable.
func storageError(op string, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrInvalidRecord),
		errors.Is(err, models.ErrNoActiveCampaign):
		return err
	default:
		return models.Unavailable(op, err)
	}
}
