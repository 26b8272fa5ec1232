package api

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/logic"
	"github.com/patrickwarner/dcoserve/internal/middleware"
	"github.com/patrickwarner/dcoserve/internal/models"
	"github.com/patrickwarner/dcoserve/internal/observability"
)

// pixelGIF is a transparent 1x1 GIF.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// ImpressionHandler handles GET /impression pixel requests. The pixel is
// returned even when the impression could not be recorded.
func (s *Server) ImpressionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ImpressionHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/impression"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "impression"
	const method = "GET"

	req := parseAdRequest(r)
	span.SetAttributes(
		attribute.String("campaign_id", req.CampaignID),
		attribute.String("template_id", req.TemplateID),
		attribute.String("ad_id", req.AdID),
	)
	rc := logic.ResolveRequestContext(r, s.GeoIP)
	if rc.IsBot {
		span.SetAttributes(attribute.Bool("bot", true))
	}

	handle, err := s.Recorder.RecordImpression(ctx, logic.EventInput{
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
		logger.Error("impression not recorded",
			zap.String("campaign_id", req.CampaignID),
			zap.String("ad_id", req.AdID),
			zap.String("code", models.ErrorCode(err)),
			zap.Error(err))
	} else if observability.ShouldSample(observability.GetSamplingRate()) {
		logger.Info("impression", zap.String("event_id", handle.EventID), zap.String("event_type", "impression"))
	}

	s.sendPixelResponse(w)
	s.observe(endpoint, method, http.StatusOK, start)
}

// sendPixelResponse sends a 1x1 tracking pixel response
func (s *Server) sendPixelResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixelGIF)
}
