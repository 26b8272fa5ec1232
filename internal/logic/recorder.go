package logic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/models"
	"github.com/patrickwarner/dcoserve/internal/observability"
)

// EventInput carries the caller supplied fields of an impression or click.
type EventInput struct {
	Type       models.EventType
	CampaignID string
	TemplateID string
	AdID       string
	SegmentID  string
	DeviceType string
	Country    string
}

// Recorder appends impression and click events to storage. Writes are detached
// from the caller's cancellation so a client disconnect does not drop an event,
// but they are still bounded by the storage timeout.
type Recorder struct {
	store   models.Store
	metrics observability.MetricsRegistry
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store models.Store, metrics observability.MetricsRegistry, logger *zap.Logger) *Recorder {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:   store,
		metrics: metrics,
		logger:  logger,
		timeout: DefaultStorageTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetTimeout overrides the storage timeout. Non-positive values are ignored.
func (r *Recorder) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// RecordImpression appends an impression event.
func (r *Recorder) RecordImpression(ctx context.Context, in EventInput) (*models.RecordHandle, error) {
	in.Type = models.EventImpression
	return r.Record(ctx, in)
}

// RecordClick appends a click event.
func (r *Recorder) RecordClick(ctx context.Context, in EventInput) (*models.RecordHandle, error) {
	in.Type = models.EventClick
	return r.Record(ctx, in)
}

// Record validates in, stamps it with a fresh event id and UTC timestamp and
// appends it. The ad id is not checked against the campaign's current pool.
func (r *Recorder) Record(ctx context.Context, in EventInput) (*models.RecordHandle, error) {
	tracer := observability.GetTracer("dco-recorder")
	ctx, span := tracer.Start(ctx, "Recorder.Record")
	defer span.End()
	span.SetAttributes(
		attribute.String("dco.event_type", string(in.Type)),
		attribute.String("dco.campaign_id", in.CampaignID),
		attribute.String("dco.ad_id", in.AdID),
	)

	if r.store == nil {
		return nil, ErrNilStore
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", models.ErrInvalidRequest, in.Type)
	}
	if in.CampaignID == "" || in.TemplateID == "" || in.AdID == "" || in.SegmentID == "" {
		return nil, fmt.Errorf("%w: %s requires campaign, template, ad and segment ids", models.ErrInvalidRequest, in.Type)
	}

	event := models.Event{
		EventID:    uuid.NewString(),
		Type:       in.Type,
		CampaignID: in.CampaignID,
		TemplateID: in.TemplateID,
		AdID:       in.AdID,
		SegmentID:  in.SegmentID,
		Timestamp:  r.now(),
		DeviceType: in.DeviceType,
		Country:    in.Country,
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.store.PutEvent(wctx, event); err != nil {
		r.metrics.IncrementRecordFailures(string(in.Type))
		span.RecordError(err)
		span.SetStatus(codes.Error, "put event")
		r.logger.Error("failed to record event",
			zap.String("event_type", string(in.Type)),
			zap.String("campaign_id", in.CampaignID),
			zap.String("ad_id", in.AdID),
			zap.Error(err))
		return nil, storageError("put event", err)
	}
	r.metrics.IncrementEvent(string(in.Type))
	span.SetAttributes(attribute.String("dco.event_id", event.EventID))
	return &models.RecordHandle{EventID: event.EventID, Timestamp: event.Timestamp}, nil
}
