package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/logic/render"
	"github.com/patrickwarner/dcoserve/internal/middleware"
	"github.com/patrickwarner/dcoserve/internal/models"
)

// clickLink builds the tracked click link embedded in rendered creatives.
func clickLink(req adRequest, adID string) string {
	q := url.Values{}
	q.Set("campaign", req.CampaignID)
	q.Set("template", req.TemplateID)
	q.Set("segment", req.SegmentID)
	q.Set("ad_id", adID)
	return "/click_counter?" + q.Encode()
}

func (s *Server) templateMarkup(ctx context.Context, templateID string) (string, error) {
	ms, ok := s.Store.(models.MarkupStore)
	if !ok {
		return "", fmt.Errorf("%w: store does not serve template markup", models.ErrNotFound)
	}
	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout())
	defer cancel()
	markup, err := ms.GetTemplateMarkup(ctx, templateID)
	if err != nil {
		if ctx.Err() != nil {
			return "", models.Unavailable("get template markup", err)
		}
		return "", err
	}
	return markup, nil
}

// CreativeHandler handles GET /creative: it selects an ad and renders the
// template markup with the decoded component values.
func (s *Server) CreativeHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "CreativeHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/creative"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "creative"
	const method = "GET"

	req := parseAdRequest(r)
	if err := req.requireSelection(); err != nil {
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}

	sel, err := s.Selector.Select(ctx, req.CampaignID, req.TemplateID, req.SegmentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, models.ErrorCode(err))
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}

	markup, err := s.templateMarkup(ctx, req.TemplateID)
	if err != nil {
		span.RecordError(err)
		logger.Warn("template markup unavailable", zap.String("template_id", req.TemplateID), zap.Error(err))
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}

	values := make(map[string]string, len(sel.ComponentValues)+1)
	for k, v := range sel.ComponentValues {
		values[k] = v
	}
	values[render.ClickURLPlaceholder] = clickLink(req, sel.AdID)

	html, err := s.Renderer.Render(markup, values)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render")
		logger.Error("render failed", zap.String("template_id", req.TemplateID), zap.Error(err))
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Ad-Id", sel.AdID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
	s.observe(endpoint, method, http.StatusOK, start)
}
