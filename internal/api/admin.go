package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/db"
	"github.com/patrickwarner/dcoserve/internal/logic"
	"github.com/patrickwarner/dcoserve/internal/logic/render"
	"github.com/patrickwarner/dcoserve/internal/models"
)

const maxMarkupBytes = 1 << 20

// allAds is the pool shorthand that expands to every ad the template can produce.
const allAds = "all"

func decodeJSONBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", models.ErrInvalidRequest, err)
	}
	return nil
}

// ===== Templates =====

type componentInput struct {
	ComponentID    string            `json:"component_id"`
	Position       int               `json:"position"`
	PossibleValues map[string]string `json:"possible_values"`
}

// PutComponentsHandler handles POST /api/templates/{template}/components. Each
// posted component is stored as a new version; the batch is all or nothing
// on stores that implement models.ComponentBatchWriter.
func (s *Server) PutComponentsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "admin_components"
	const method = "POST"
	templateID := mux.Vars(r)["template"]

	var in []componentInput
	if err := decodeJSONBody(r, &in); err != nil {
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	if len(in) == 0 {
		s.observe(endpoint, method, writeError(w, fmt.Errorf("%w: no components given", models.ErrInvalidRequest)), start)
		return
	}

	components := make([]models.ComponentDefinition, len(in))
	for i, c := range in {
		components[i] = models.ComponentDefinition{
			TemplateID:     templateID,
			ComponentID:    c.ComponentID,
			Position:       c.Position,
			PossibleValues: c.PossibleValues,
		}
		if err := components[i].Validate(); err != nil {
			s.observe(endpoint, method, writeError(w, err), start)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.storageTimeout())
	defer cancel()
	if err := s.putComponents(ctx, templateID, components); err != nil {
		s.Logger.Error("put template components", zap.String("template_id", templateID), zap.Error(err))
		s.observe(endpoint, method, writeError(w, storeWriteError(ctx, "put template components", err)), start)
		return
	}
	stored, err := s.Store.GetTemplateComponents(ctx, templateID)
	if err != nil {
		s.observe(endpoint, method, writeError(w, storeWriteError(ctx, "get template components", err)), start)
		return
	}
	s.Logger.Info("template components stored", zap.String("template_id", templateID), zap.Int("count", len(components)))
	writeJSON(w, http.StatusCreated, models.Template{TemplateID: templateID, Components: stored})
	s.observe(endpoint, method, http.StatusCreated, start)
}

// putComponents writes the batch in one call when the store supports it and
// falls back to one write per component.
func (s *Server) putComponents(ctx context.Context, templateID string, components []models.ComponentDefinition) error {
	if bw, ok := s.Store.(models.ComponentBatchWriter); ok {
		return bw.PutTemplateComponents(ctx, templateID, components)
	}
	for _, c := range components {
		if err := s.Store.PutTemplateComponent(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

type markupResponse struct {
	TemplateID   string   `json:"template_id"`
	Placeholders []string `json:"placeholders"`
	Unknown      []string `json:"unknown_placeholders,omitempty"`
}

// PutMarkupHandler handles PUT /api/templates/{template}/markup. The raw body
// is stored as the template's markup after its placeholders are checked
// against the template's components.
func (s *Server) PutMarkupHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "admin_markup"
	const method = "PUT"
	templateID := mux.Vars(r)["template"]

	ms, ok := s.Store.(models.MarkupStore)
	if !ok {
		s.observe(endpoint, method, writeError(w, fmt.Errorf("%w: store does not accept markup", models.ErrNotFound)), start)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMarkupBytes+1))
	if err != nil || len(body) == 0 || len(body) > maxMarkupBytes {
		s.observe(endpoint, method, writeError(w, fmt.Errorf("%w: markup body must be 1 byte to 1MiB", models.ErrInvalidRequest)), start)
		return
	}
	markup := string(body)

	ctx, cancel := context.WithTimeout(r.Context(), s.storageTimeout())
	defer cancel()
	components, err := s.Store.GetTemplateComponents(ctx, templateID)
	if err != nil {
		s.observe(endpoint, method, writeError(w, storeWriteError(ctx, "get template components", err)), start)
		return
	}
	unknown := render.UnknownPlaceholders(markup, models.ComponentIDs(components))
	if len(unknown) > 0 && s.Config.RenderStrict {
		err := fmt.Errorf("%w: markup references unknown placeholders %s", models.ErrInvalidRecord, strings.Join(unknown, ", "))
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	if err := ms.PutTemplateMarkup(ctx, templateID, markup); err != nil {
		s.Logger.Error("put template markup", zap.String("template_id", templateID), zap.Error(err))
		s.observe(endpoint, method, writeError(w, storeWriteError(ctx, "put template markup", err)), start)
		return
	}
	writeJSON(w, http.StatusOK, markupResponse{
		TemplateID:   templateID,
		Placeholders: render.Placeholders(markup),
		Unknown:      unknown,
	})
	s.observe(endpoint, method, http.StatusOK, start)
}

// ===== Campaigns =====

type campaignInput struct {
	CampaignID string              `json:"campaign_id"`
	TemplateID string              `json:"template_id"`
	Active     *bool               `json:"active"`
	Segments   map[string][]string `json:"segments"`
	ClickURL   string              `json:"click_url"`

	// Variants adds ads to a segment pool by component id to value code
	// instead of by encoded ad id.
	Variants map[string][]map[string]string `json:"variants,omitempty"`
}

// buildCampaignRecord validates in against the template's components. A pool
// of exactly ["all"] expands to every ad the template can produce.
func (s *Server) buildCampaignRecord(in campaignInput, components []models.ComponentDefinition) (models.CampaignRecord, error) {
	rec := models.CampaignRecord{
		CampaignID: in.CampaignID,
		TemplateID: in.TemplateID,
		Active:     in.Active == nil || *in.Active,
		Segments:   make(map[string][]string, len(in.Segments)),
		ClickURL:   in.ClickURL,
	}
	var all []string
	for segment, pool := range in.Segments {
		if len(pool) == 1 && pool[0] == allAds {
			if all == nil {
				ids, err := logic.EnumerateAdIDs(components, maxEnumeratedAds)
				if err != nil {
					return rec, err
				}
				all = ids
			}
			rec.Segments[segment] = append([]string(nil), all...)
			continue
		}
		for _, adID := range pool {
			if _, err := logic.DecodeAdID(components, adID); err != nil {
				return rec, fmt.Errorf("%w: segment %q ad %q: %v", models.ErrInvalidRecord, segment, adID, err)
			}
		}
		rec.Segments[segment] = pool
	}
	for segment, selections := range in.Variants {
		for _, codes := range selections {
			if len(codes) != len(components) {
				return rec, fmt.Errorf("%w: segment %q variant names %d components, template has %d", models.ErrInvalidRecord, segment, len(codes), len(components))
			}
			adID, err := logic.EncodeSelection(components, codes)
			if err != nil {
				return rec, fmt.Errorf("%w: segment %q variant: %v", models.ErrInvalidRecord, segment, err)
			}
			rec.Segments[segment] = append(rec.Segments[segment], adID)
		}
	}
	if in.ClickURL != "" && s.MacroService != nil {
		if bad := s.MacroService.ValidateURL(in.ClickURL); len(bad) > 0 {
			return rec, fmt.Errorf("%w: click_url uses unsupported macros %s (supported: %s)", models.ErrInvalidRecord,
				strings.Join(bad, ", "), strings.Join(s.MacroService.GetRegisteredMacros(), ", "))
		}
	}
	if err := rec.Validate(); err != nil {
		return rec, err
	}
	return rec, nil
}

// CreateCampaignHandler handles POST /api/campaigns by appending a new
// campaign version.
func (s *Server) CreateCampaignHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "admin_campaigns"
	const method = "POST"

	var in campaignInput
	if err := decodeJSONBody(r, &in); err != nil {
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	if in.CampaignID == "" || in.TemplateID == "" {
		s.observe(endpoint, method, writeError(w, fmt.Errorf("%w: campaign_id and template_id are required", models.ErrInvalidRequest)), start)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.storageTimeout())
	defer cancel()
	components, err := s.Store.GetTemplateComponents(ctx, in.TemplateID)
	if err != nil {
		s.observe(endpoint, method, writeError(w, storeWriteError(ctx, "get template components", err)), start)
		return
	}
	rec, err := s.buildCampaignRecord(in, components)
	if err != nil {
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	rec.CreatedAt = time.Now().UTC()
	if err := s.Store.PutCampaignRecord(ctx, rec); err != nil {
		s.Logger.Error("put campaign record", zap.String("campaign_id", rec.CampaignID), zap.Error(err))
		s.observe(endpoint, method, writeError(w, storeWriteError(ctx, "put campaign record", err)), start)
		return
	}
	s.Logger.Info("campaign version stored",
		zap.String("campaign_id", rec.CampaignID),
		zap.String("template_id", rec.TemplateID),
		zap.Bool("active", rec.Active))
	history, err := s.Store.GetCampaignRecords(ctx, rec.CampaignID, rec.TemplateID)
	if err != nil || len(history) == 0 {
		s.Logger.Warn("campaign history unavailable after write", zap.String("campaign_id", rec.CampaignID), zap.Error(err))
		history = []models.CampaignRecord{rec}
	}
	writeJSON(w, http.StatusCreated, models.NewCampaignSummary(history))
	s.observe(endpoint, method, http.StatusCreated, start)
}

type eventsResponse struct {
	CampaignID string                 `json:"campaign_id"`
	TemplateID string                 `json:"template_id"`
	Events     []models.Event         `json:"events"`
	Counts     map[string]db.AdCounts `json:"counts,omitempty"`
}

// ListEventsHandler handles GET /api/campaigns/{campaign}/templates/{template}/events.
func (s *Server) ListEventsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "admin_events"
	const method = "GET"
	vars := mux.Vars(r)
	campaignID, templateID := vars["campaign"], vars["template"]

	q, ok := s.Store.(models.EventQuerier)
	if !ok {
		s.observe(endpoint, method, writeError(w, fmt.Errorf("%w: store does not list events", models.ErrNotFound)), start)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.storageTimeout())
	defer cancel()
	events, err := q.ListEvents(ctx, campaignID, templateID)
	if err != nil {
		s.observe(endpoint, method, writeError(w, storeWriteError(ctx, "list events", err)), start)
		return
	}
	resp := eventsResponse{CampaignID: campaignID, TemplateID: templateID, Events: events}
	if resp.Events == nil {
		resp.Events = []models.Event{}
	}
	if c, ok := s.Store.(eventCounter); ok {
		counts, err := c.EventCounts(ctx, campaignID, templateID)
		if err != nil {
			s.Logger.Debug("event counts unavailable", zap.Error(err))
		} else {
			resp.Counts = counts
		}
	}
	writeJSON(w, http.StatusOK, resp)
	s.observe(endpoint, method, http.StatusOK, start)
}

// storeWriteError reports deadline expiry as storage unavailability.
func storeWriteError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return models.Unavailable(op, err)
	}
	return err
}
