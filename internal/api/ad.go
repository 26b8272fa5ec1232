package api

import (
	"fmt"
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

// adRequest holds the identifiers shared by the serving endpoints.
type adRequest struct {
	CampaignID string
	TemplateID string
	SegmentID  string
	AdID       string
}

func parseAdRequest(r *http.Request) adRequest {
	q := r.URL.Query()
	return adRequest{
		CampaignID: q.Get("campaign"),
		TemplateID: q.Get("template"),
		SegmentID:  q.Get("segment"),
		AdID:       q.Get("ad_id"),
	}
}

func (a adRequest) requireSelection() error {
	if a.CampaignID == "" || a.TemplateID == "" || a.SegmentID == "" {
		return fmt.Errorf("%w: campaign, template and segment query parameters are required", models.ErrInvalidRequest)
	}
	return nil
}

type adResponse struct {
	*models.Selection
	Debug *logic.SelectionTrace `json:"debug,omitempty"`
}

// AdServerHandler handles GET /ad_server and returns the selected ad with its
// decoded component values.
func (s *Server) AdServerHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "AdServerHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/ad_server"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "ad_server"
	const method = "GET"

	req := parseAdRequest(r)
	if err := req.requireSelection(); err != nil {
		logger.Warn("missing selection parameters", zap.String("event_type", "ad_request"))
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	span.SetAttributes(
		attribute.String("campaign_id", req.CampaignID),
		attribute.String("template_id", req.TemplateID),
		attribute.String("segment_id", req.SegmentID),
	)

	var selTrace *logic.SelectionTrace
	if s.DebugTrace || r.URL.Query().Get("debug") == "1" {
		selTrace = &logic.SelectionTrace{}
	}

	sel, err := s.Selector.SelectWithTrace(ctx, req.CampaignID, req.TemplateID, req.SegmentID, selTrace)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, models.ErrorCode(err))
		logger.Info("no ad selected",
			zap.String("campaign_id", req.CampaignID),
			zap.String("template_id", req.TemplateID),
			zap.String("segment_id", req.SegmentID),
			zap.String("code", models.ErrorCode(err)),
			zap.Error(err))
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}

	span.SetAttributes(attribute.String("ad_id", sel.AdID))
	if observability.ShouldSample(observability.GetSamplingRate()) {
		logger.Info("ad served",
			zap.String("campaign_id", req.CampaignID),
			zap.String("ad_id", sel.AdID),
			zap.String("event_type", "ad_request"))
	}
	writeJSON(w, http.StatusOK, adResponse{Selection: sel, Debug: selTrace})
	s.observe(endpoint, method, http.StatusOK, start)
}
