package api

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/config"
	"github.com/patrickwarner/dcoserve/internal/db"
	"github.com/patrickwarner/dcoserve/internal/geoip"
	"github.com/patrickwarner/dcoserve/internal/logic"
	"github.com/patrickwarner/dcoserve/internal/logic/render"
	"github.com/patrickwarner/dcoserve/internal/logic/selectors"
	"github.com/patrickwarner/dcoserve/internal/macros"
	"github.com/patrickwarner/dcoserve/internal/models"
	"github.com/patrickwarner/dcoserve/internal/observability"
)

var tracer = otel.Tracer("dcoserve")

// maxEnumeratedAds bounds the pool a campaign write may expand with "all".
const maxEnumeratedAds = 10000

// cacheFlusher is implemented by stores fronted by a catalog cache.
type cacheFlusher interface {
	FlushCache(ctx context.Context) (int, error)
}

// eventCounter is implemented by stores that keep per ad counters.
type eventCounter interface {
	EventCounts(ctx context.Context, campaignID, templateID string) (map[string]db.AdCounts, error)
}

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger       *zap.Logger
	Store        models.Store
	Selector     *logic.AdSelector
	Recorder     *logic.Recorder
	Renderer     *render.Renderer
	MacroService *macros.Service
	GeoIP        *geoip.GeoIP
	Metrics      observability.MetricsRegistry
	Config       config.Config
	DebugTrace   bool
	reloadMu     sync.Mutex
}

// NewServer constructs a Server whose selector and recorder share store.
func NewServer(logger *zap.Logger, store models.Store, geo *geoip.GeoIP, metrics observability.MetricsRegistry, macroService *macros.Service, cfg config.Config) *Server {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	selector := logic.NewAdSelector(store, selectors.NewRandomStrategy(cfg.SelectionSeed), metrics, logger)
	selector.SetTimeout(cfg.StorageTimeout)
	recorder := logic.NewRecorder(store, metrics, logger)
	recorder.SetTimeout(cfg.StorageTimeout)

	return &Server{
		Logger:       logger,
		Store:        store,
		Selector:     selector,
		Recorder:     recorder,
		Renderer:     render.NewRenderer(cfg.RenderStrict, metrics, logger),
		MacroService: macroService,
		GeoIP:        geo,
		Metrics:      metrics,
		Config:       cfg,
		DebugTrace:   cfg.DebugTrace,
	}
}

func (s *Server) storageTimeout() time.Duration {
	if s.Config.StorageTimeout > 0 {
		return s.Config.StorageTimeout
	}
	return logic.DefaultStorageTimeout
}
