package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/logic"
	"github.com/patrickwarner/dcoserve/internal/macros"
	"github.com/patrickwarner/dcoserve/internal/middleware"
	"github.com/patrickwarner/dcoserve/internal/models"
	"github.com/patrickwarner/dcoserve/internal/observability"
)

// ClickCounterHandler handles GET /click_counter. It records the click and
// always redirects: to the campaign's click URL when one is configured and
// safe, otherwise to the default landing page.
func (s *Server) ClickCounterHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ClickCounterHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/click_counter"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "click_counter"
	const method = "GET"

	req := parseAdRequest(r)
	span.SetAttributes(
		attribute.String("campaign_id", req.CampaignID),
		attribute.String("template_id", req.TemplateID),
		attribute.String("ad_id", req.AdID),
	)
	rc := logic.ResolveRequestContext(r, s.GeoIP)

	click := &macros.ClickContext{
		Timestamp:  time.Now().UTC(),
		CampaignID: req.CampaignID,
		TemplateID: req.TemplateID,
		AdID:       req.AdID,
		SegmentID:  req.SegmentID,
	}
	handle, err := s.Recorder.RecordClick(ctx, logic.EventInput{
		CampaignID: req.CampaignID,
		TemplateID: req.TemplateID,
		AdID:       req.AdID,
		SegmentID:  req.SegmentID,
		DeviceType: rc.DeviceType,
		Country:    rc.Country,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, models.ErrorCode(err))
		logger.Error("click not recorded",
			zap.String("campaign_id", req.CampaignID),
			zap.String("ad_id", req.AdID),
			zap.String("code", models.ErrorCode(err)),
			zap.Error(err))
	} else {
		click.EventID = handle.EventID
		click.Timestamp = handle.Timestamp
		if observability.ShouldSample(observability.GetSamplingRate()) {
			logger.Info("click", zap.String("event_id", handle.EventID), zap.String("event_type", "click"))
		}
	}

	destination := s.clickDestination(ctx, logger, req, click)
	logger.Debug("redirecting click", zap.String("url", destination))
	http.Redirect(w, r, destination, http.StatusFound)
	s.observe(endpoint, method, http.StatusFound, start)
}

// clickDestination resolves the campaign's landing page, falling back to the
// configured default whenever it is missing or not an http(s) URL.
func (s *Server) clickDestination(ctx context.Context, logger *zap.Logger, req adRequest, click *macros.ClickContext) string {
	fallback := s.Config.DefaultClickURL
	if req.CampaignID == "" || req.TemplateID == "" || s.MacroService == nil {
		return fallback
	}
	rctx, cancel := context.WithTimeout(ctx, s.storageTimeout())
	defer cancel()
	record, err := logic.CampaignResolver{Store: s.Store}.Resolve(rctx, req.CampaignID, req.TemplateID)
	if err != nil {
		logger.Debug("no campaign for click destination", zap.Error(err))
		return fallback
	}
	destination := s.MacroService.DestinationURL(record, click, fallback)
	parsed, err := url.Parse(destination)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		logger.Warn("unsafe destination URL, using default",
			zap.String("url", destination),
			zap.String("campaign_id", req.CampaignID))
		return fallback
	}
	return destination
}
