package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/config"
	"github.com/patrickwarner/dcoserve/internal/db"
	"github.com/patrickwarner/dcoserve/internal/logic"
	"github.com/patrickwarner/dcoserve/internal/logic/selectors"
	"github.com/patrickwarner/dcoserve/internal/models"
	"github.com/patrickwarner/dcoserve/internal/observability"
)

const toolTimeout = 10 * time.Second

type ListInventoryInput struct{}

type SelectAdInput struct {
	CampaignID string `json:"campaign_id" jsonschema:"campaign to select for"`
	TemplateID string `json:"template_id" jsonschema:"template the campaign is assigned to"`
	SegmentID  string `json:"segment_id" jsonschema:"audience segment"`
}

type SelectAdOutput struct {
	AdID            string            `json:"ad_id"`
	ComponentValues map[string]string `json:"component_values"`
	Steps           []logic.TraceStep `json:"steps"`
}

type CampaignEventsInput struct {
	CampaignID string `json:"campaign_id" jsonschema:"campaign id"`
	TemplateID string `json:"template_id" jsonschema:"template id"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of most recent events to return, 0 for all"`
}

type CampaignEventsOutput struct {
	Total  int                    `json:"total"`
	Events []models.Event         `json:"events"`
	Counts map[string]db.AdCounts `json:"counts,omitempty"`
}

// DCOServer exposes read-only catalog and selection tools to MCP clients.
type DCOServer struct {
	store    *db.Store
	selector *logic.AdSelector
	logger   *zap.Logger
}

func NewDCOServer(store *db.Store, metrics observability.MetricsRegistry, seed int64, logger *zap.Logger) *DCOServer {
	return &DCOServer{
		store:    store,
		selector: logic.NewAdSelector(store, selectors.NewRandomStrategy(seed), metrics, logger),
		logger:   logger,
	}
}

// ListInventory returns every template and campaign the server can serve.
func (s *DCOServer) ListInventory(ctx context.Context, req *mcp.CallToolRequest, _ ListInventoryInput) (*mcp.CallToolResult, models.Inventory, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()
	inv, err := s.store.ListInventory(ctx)
	if err != nil {
		return nil, models.Inventory{}, fmt.Errorf("list inventory: %w", err)
	}
	s.logger.Info("inventory listed",
		zap.Int("templates", len(inv.Templates)),
		zap.Int("campaigns", len(inv.Campaigns)))
	return nil, inv, nil
}

// SelectAd runs a traced selection without recording any event.
func (s *DCOServer) SelectAd(ctx context.Context, req *mcp.CallToolRequest, input SelectAdInput) (*mcp.CallToolResult, SelectAdOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()
	trace := &logic.SelectionTrace{}
	sel, err := s.selector.SelectWithTrace(ctx, input.CampaignID, input.TemplateID, input.SegmentID, trace)
	if err != nil {
		s.logger.Info("select_ad failed", zap.String("code", models.ErrorCode(err)), zap.Error(err))
		return nil, SelectAdOutput{}, fmt.Errorf("%s: %w", models.ErrorCode(err), err)
	}
	return nil, SelectAdOutput{AdID: sel.AdID, ComponentValues: sel.ComponentValues, Steps: trace.Steps}, nil
}

// CampaignEvents returns recorded events for a campaign/template pair.
func (s *DCOServer) CampaignEvents(ctx context.Context, req *mcp.CallToolRequest, input CampaignEventsInput) (*mcp.CallToolResult, CampaignEventsOutput, error) {
	if input.CampaignID == "" || input.TemplateID == "" {
		return nil, CampaignEventsOutput{}, fmt.Errorf("%w: campaign_id and template_id are required", models.ErrInvalidRequest)
	}
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()
	events, err := s.store.ListEvents(ctx, input.CampaignID, input.TemplateID)
	if err != nil {
		return nil, CampaignEventsOutput{}, fmt.Errorf("list events: %w", err)
	}
	out := CampaignEventsOutput{Total: len(events), Events: events}
	if input.Limit > 0 && len(out.Events) > input.Limit {
		out.Events = out.Events[len(out.Events)-input.Limit:]
	}
	if out.Events == nil {
		out.Events = []models.Event{}
	}
	counts, err := s.store.EventCounts(ctx, input.CampaignID, input.TemplateID)
	if err != nil {
		s.logger.Debug("event counts unavailable", zap.Error(err))
	} else {
		out.Counts = counts
	}
	return nil, out, nil
}

func (s *DCOServer) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_inventory",
		Description: "List DCO templates with their components and campaigns with their segment pool sizes",
	}, s.ListInventory)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "select_ad",
		Description: "Select an ad for a campaign, template and segment and show the decoded component values",
	}, s.SelectAd)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "campaign_events",
		Description: "List impression and click events recorded for a campaign/template pair",
	}, s.CampaignEvents)
}

func main() {
	cfg := config.Load()

	// stdout carries the MCP protocol, so logs go to stderr
	logger, err := observability.InitStderrLogger(cfg.ServiceName + "-mcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	store, closeStore, err := db.Open(cfg, observability.NewNoOpRegistry(), logger)
	defer closeStore()
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}

	dco := NewDCOServer(store, observability.NewNoOpRegistry(), cfg.SelectionSeed, logger)
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "dcoserve",
		Version: "1.0.0",
	}, nil)
	dco.register(server)

	var logBuffer bytes.Buffer
	loggingTransport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("MCP Server running via stdio", zap.String("storage_backend", cfg.StorageBackend))
	if err := server.Run(context.Background(), loggingTransport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
