package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/config"
	"github.com/patrickwarner/dcoserve/internal/db"
	"github.com/patrickwarner/dcoserve/internal/logic"
	"github.com/patrickwarner/dcoserve/internal/models"
	"github.com/patrickwarner/dcoserve/internal/observability"
)

var (
	templateCount = flag.Int("templates", 2, "number of templates")
	campPerTpl    = flag.Int("campaigns", 3, "campaigns per template")
	valuesPer     = flag.Int("values", 3, "possible values per component")
	segmentsCSV   = flag.String("segments", "news,sports,finance", "comma-separated segments to assign")
	seed          = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	skipReload    = flag.Bool("skip-reload", false, "skip cache flush after data insertion")
)

var (
	headlines = []string{"Buy Socks", "Warm Feet", "Cozy Winter", "Run Faster", "Stay Dry", "Big Savings", "New Arrivals", "Limited Offer"}
	images    = []string{"socks.png", "boots.png", "jacket.png", "runner.png", "rain.png", "sale.png", "new.png", "clock.png"}
	ctas      = []string{"Shop Now", "Learn More", "Get Yours", "See Deals", "Try Free", "Order Today", "Discover", "Claim Offer"}
	landing   = []string{
		"https://example.com/shop?utm_campaign={CAMPAIGN_ID}&utm_content={AD_ID}&utm_term={SEGMENT_ID}",
		"https://example.com/landing?c={CAMPAIGN_ID}&ad={AD_ID}&click={EVENT_ID}&ts={TIMESTAMP}",
		"",
	}
)

const markupTemplate = `<div class="dco-ad">
  <a href="{{ click_url }}">
    <img src="https://cdn.example.com/{{ image }}" alt="{{ headline }}">
    <h2>{{ headline }}</h2>
    <span class="cta">{{ cta }}</span>
  </a>
</div>`

// catalog is the generated fixture set.
type catalog struct {
	Components []models.ComponentDefinition
	Markup     map[string]string
	Campaigns  []models.CampaignRecord
}

func (c catalog) byTemplate() map[string][]models.ComponentDefinition {
	out := make(map[string][]models.ComponentDefinition, len(c.Markup))
	for _, comp := range c.Components {
		out[comp.TemplateID] = append(out[comp.TemplateID], comp)
	}
	return out
}

func pickValues(r *rand.Rand, words []string, n int) map[string]string {
	if n > len(words) {
		n = len(words)
	}
	out := make(map[string]string, n)
	for i, idx := range r.Perm(len(words))[:n] {
		out[strconv.Itoa(i+1)] = words[idx]
	}
	return out
}

// buildCatalog generates templates with headline/image/cta components and
// campaigns whose segment pools are random subsets of each template's ads.
func buildCatalog(r *rand.Rand, templates, campaignsPer, values int, segments []string, now time.Time) (catalog, error) {
	out := catalog{Markup: make(map[string]string, templates)}
	for t := 1; t <= templates; t++ {
		tplID := fmt.Sprintf("tpl-%d", t)
		components := []models.ComponentDefinition{
			{TemplateID: tplID, ComponentID: "headline", Position: 0, PossibleValues: pickValues(r, headlines, values), UpdatedAt: now},
			{TemplateID: tplID, ComponentID: "image", Position: 1, PossibleValues: pickValues(r, images, values), UpdatedAt: now},
			{TemplateID: tplID, ComponentID: "cta", Position: 2, PossibleValues: pickValues(r, ctas, values), UpdatedAt: now},
		}
		out.Components = append(out.Components, components...)
		out.Markup[tplID] = markupTemplate

		ads, err := logic.EnumerateAdIDs(components, 0)
		if err != nil {
			return catalog{}, err
		}
		for c := 1; c <= campaignsPer; c++ {
			rec := models.CampaignRecord{
				CampaignID: fmt.Sprintf("demo-%d", c),
				TemplateID: tplID,
				Active:     r.Float64() > 0.1,
				Segments:   make(map[string][]string, len(segments)),
				ClickURL:   landing[r.Intn(len(landing))],
				CreatedAt:  now,
			}
			for _, seg := range segments {
				size := 1 + r.Intn(len(ads))
				pool := make([]string, 0, size)
				for _, idx := range r.Perm(len(ads))[:size] {
					pool = append(pool, ads[idx])
				}
				sort.Strings(pool)
				rec.Segments[seg] = pool
			}
			if err := rec.Validate(); err != nil {
				return catalog{}, err
			}
			out.Campaigns = append(out.Campaigns, rec)
		}
	}
	return out, nil
}

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	r := rand.New(rand.NewSource(*seed))
	cat, err := buildCatalog(r, *templateCount, *campPerTpl, *valuesPer, splitCSV(*segmentsCSV), time.Now().UTC())
	if err != nil {
		logger.Fatal("build catalog", zap.Error(err))
	}

	ctx := context.Background()
	for tplID, components := range cat.byTemplate() {
		if err := pg.PutTemplateComponents(ctx, tplID, components); err != nil {
			logger.Fatal("insert components", zap.String("template_id", tplID), zap.Error(err))
		}
	}
	for tplID, markup := range cat.Markup {
		if err := pg.PutTemplateMarkup(ctx, tplID, markup); err != nil {
			logger.Fatal("insert markup", zap.String("template_id", tplID), zap.Error(err))
		}
	}
	for _, rec := range cat.Campaigns {
		if err := pg.PutCampaignRecord(ctx, rec); err != nil {
			logger.Fatal("insert campaign", zap.String("campaign_id", rec.CampaignID), zap.Error(err))
		}
	}

	logger.Info("fake data inserted",
		zap.Int64("seed", *seed),
		zap.Int("components", len(cat.Components)),
		zap.Int("campaign_versions", len(cat.Campaigns)))

	if !*skipReload {
		if err := callReloadEndpoint(&cfg); err != nil {
			logger.Error("reload endpoint failed", zap.Error(err))
			fmt.Fprintf(os.Stderr, "Warning: failed to flush server cache: %v\n", err)
		} else {
			fmt.Println("server cache flushed")
		}
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func callReloadEndpoint(cfg *config.Config) error {
	reloadURL := fmt.Sprintf("http://localhost:%s/reload", cfg.Port)
	req, err := http.NewRequest("POST", reloadURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}
