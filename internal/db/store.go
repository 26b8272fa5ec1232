package db

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/analytics"
	"github.com/patrickwarner/dcoserve/internal/models"
	"github.com/patrickwarner/dcoserve/internal/observability"
)

// Catalog is the authoritative template and campaign storage. *Postgres is the
// production implementation; *models.InMemoryStore serves development mode.
type Catalog interface {
	GetTemplateComponents(ctx context.Context, templateID string) ([]models.ComponentDefinition, error)
	GetCampaignRecords(ctx context.Context, campaignID, templateID string) ([]models.CampaignRecord, error)
	PutTemplateComponent(ctx context.Context, c models.ComponentDefinition) error
	models.ComponentBatchWriter
	PutCampaignRecord(ctx context.Context, r models.CampaignRecord) error
	models.MarkupStore
	models.InventoryLister
}

var (
	_ Catalog = (*Postgres)(nil)
	_ Catalog = (*models.InMemoryStore)(nil)

	_ models.Store                = (*Store)(nil)
	_ models.EventQuerier         = (*Store)(nil)
	_ models.ComponentBatchWriter = (*Store)(nil)
	_ models.MarkupStore          = (*Store)(nil)
	_ models.InventoryLister      = (*Store)(nil)
)

// Store composes the catalog, an optional Redis cache and counter store, and
// the event log into a single models.Store.
type Store struct {
	Catalog Catalog
	Cache   *RedisStore // nil disables caching and counters
	Events  analytics.EventLog
	TTL     time.Duration
	Metrics observability.MetricsRegistry
	Logger  *zap.Logger
}

// NewStore builds a composite store. cache and events may be nil.
func NewStore(catalog Catalog, cache *RedisStore, events analytics.EventLog, ttl time.Duration, metrics observability.MetricsRegistry, logger *zap.Logger) *Store {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{Catalog: catalog, Cache: cache, Events: events, TTL: ttl, Metrics: metrics, Logger: logger}
}

func (s *Store) observe(op string, start time.Time) {
	s.Metrics.RecordStorageLatency(op, time.Since(start))
}

// GetTemplateComponents reads through the cache. Cache failures fall back to
// the catalog.
func (s *Store) GetTemplateComponents(ctx context.Context, templateID string) ([]models.ComponentDefinition, error) {
	ctx, span := observability.GetTracer("dco-store").Start(ctx, "Store.GetTemplateComponents")
	defer span.End()
	span.SetAttributes(attribute.String("dco.template_id", templateID))
	defer s.observe("get_template_components", time.Now())

	if s.Cache != nil {
		components, found, err := s.Cache.GetTemplateComponents(ctx, templateID)
		switch {
		case err != nil:
			s.Metrics.IncrementCacheLookups("template", "error")
			s.Logger.Warn("template cache read failed", zap.String("template_id", templateID), zap.Error(err))
		case found:
			s.Metrics.IncrementCacheLookups("template", "hit")
			return components, nil
		default:
			s.Metrics.IncrementCacheLookups("template", "miss")
		}
	}

	components, err := s.Catalog.GetTemplateComponents(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		if err := s.Cache.SetTemplateComponents(ctx, templateID, components, s.TTL); err != nil {
			s.Logger.Warn("template cache write failed", zap.String("template_id", templateID), zap.Error(err))
		}
	}
	return components, nil
}

// GetCampaignRecords reads through the cache. Empty results are not cached.
func (s *Store) GetCampaignRecords(ctx context.Context, campaignID, templateID string) ([]models.CampaignRecord, error) {
	ctx, span := observability.GetTracer("dco-store").Start(ctx, "Store.GetCampaignRecords")
	defer span.End()
	span.SetAttributes(attribute.String("dco.campaign_id", campaignID), attribute.String("dco.template_id", templateID))
	defer s.observe("get_campaign_records", time.Now())

	if s.Cache != nil {
		records, found, err := s.Cache.GetCampaignRecords(ctx, campaignID, templateID)
		switch {
		case err != nil:
			s.Metrics.IncrementCacheLookups("campaign", "error")
			s.Logger.Warn("campaign cache read failed", zap.String("campaign_id", campaignID), zap.Error(err))
		case found:
			s.Metrics.IncrementCacheLookups("campaign", "hit")
			return records, nil
		default:
			s.Metrics.IncrementCacheLookups("campaign", "miss")
		}
	}

	records, err := s.Catalog.GetCampaignRecords(ctx, campaignID, templateID)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil && len(records) > 0 {
		if err := s.Cache.SetCampaignRecords(ctx, campaignID, templateID, records, s.TTL); err != nil {
			s.Logger.Warn("campaign cache write failed", zap.String("campaign_id", campaignID), zap.Error(err))
		}
	}
	return records, nil
}

// PutTemplateComponent writes to the catalog and invalidates the cached template.
func (s *Store) PutTemplateComponent(ctx context.Context, c models.ComponentDefinition) error {
	defer s.observe("put_template_component", time.Now())
	if err := s.Catalog.PutTemplateComponent(ctx, c); err != nil {
		return err
	}
	s.invalidateTemplate(ctx, c.TemplateID)
	return nil
}

// PutTemplateComponents writes the batch atomically and invalidates the cached template.
func (s *Store) PutTemplateComponents(ctx context.Context, templateID string, components []models.ComponentDefinition) error {
	defer s.observe("put_template_components", time.Now())
	if err := s.Catalog.PutTemplateComponents(ctx, templateID, components); err != nil {
		return err
	}
	s.invalidateTemplate(ctx, templateID)
	return nil
}

func (s *Store) invalidateTemplate(ctx context.Context, templateID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.InvalidateTemplate(ctx, templateID); err != nil {
		s.Logger.Warn("template cache invalidation failed", zap.String("template_id", templateID), zap.Error(err))
	}
}

// PutCampaignRecord writes to the catalog and invalidates the cached pair.
func (s *Store) PutCampaignRecord(ctx context.Context, r models.CampaignRecord) error {
	defer s.observe("put_campaign_record", time.Now())
	if err := s.Catalog.PutCampaignRecord(ctx, r); err != nil {
		return err
	}
	if s.Cache != nil {
		if err := s.Cache.InvalidateCampaign(ctx, r.CampaignID, r.TemplateID); err != nil {
			s.Logger.Warn("campaign cache invalidation failed", zap.String("campaign_id", r.CampaignID), zap.Error(err))
		}
	}
	return nil
}

// PutEvent appends the event to the event log and bumps its Redis counter.
// Counter failures are logged only.
func (s *Store) PutEvent(ctx context.Context, e models.Event) error {
	defer s.observe("put_event", time.Now())
	if s.Events == nil {
		return analytics.ErrUnavailable
	}
	if err := s.Events.PutEvent(ctx, e); err != nil {
		return err
	}
	if s.Cache != nil {
		if _, err := s.Cache.IncrementEventCount(ctx, e); err != nil {
			s.Logger.Warn("event counter increment failed",
				zap.String("campaign_id", e.CampaignID),
				zap.String("ad_id", e.AdID),
				zap.Error(err))
		}
	}
	return nil
}

// ListEvents lists events from the event log.
func (s *Store) ListEvents(ctx context.Context, campaignID, templateID string) ([]models.Event, error) {
	defer s.observe("list_events", time.Now())
	if s.Events == nil {
		return nil, analytics.ErrUnavailable
	}
	return s.Events.ListEvents(ctx, campaignID, templateID)
}

// EventCounts returns the Redis counters of the pair. Without a cache it
// reports ErrStorageUnavailable.
func (s *Store) EventCounts(ctx context.Context, campaignID, templateID string) (map[string]AdCounts, error) {
	if s.Cache == nil {
		return nil, models.Unavailable("event counts", errors.New("redis not configured"))
	}
	counts, err := s.Cache.GetEventCounts(ctx, campaignID, templateID)
	if err != nil {
		return nil, models.Unavailable("event counts", err)
	}
	return counts, nil
}

// GetTemplateMarkup reads markup from the catalog.
func (s *Store) GetTemplateMarkup(ctx context.Context, templateID string) (string, error) {
	defer s.observe("get_template_markup", time.Now())
	return s.Catalog.GetTemplateMarkup(ctx, templateID)
}

// PutTemplateMarkup writes markup to the catalog.
func (s *Store) PutTemplateMarkup(ctx context.Context, templateID, markup string) error {
	defer s.observe("put_template_markup", time.Now())
	return s.Catalog.PutTemplateMarkup(ctx, templateID, markup)
}

// ListInventory lists the catalog.
func (s *Store) ListInventory(ctx context.Context) (models.Inventory, error) {
	defer s.observe("list_inventory", time.Now())
	return s.Catalog.ListInventory(ctx)
}

// FlushCache drops every cached catalog entry. It is a no-op without a cache.
func (s *Store) FlushCache(ctx context.Context) (int, error) {
	if s.Cache == nil {
		return 0, nil
	}
	n, err := s.Cache.FlushCatalog(ctx)
	if err != nil {
		return n, models.Unavailable("flush cache", err)
	}
	return n, nil
}
