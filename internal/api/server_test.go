package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/patrickwarner/dcoserve/internal/analytics"
	"github.com/patrickwarner/dcoserve/internal/config"
	"github.com/patrickwarner/dcoserve/internal/db"
	"github.com/patrickwarner/dcoserve/internal/macros"
	"github.com/patrickwarner/dcoserve/internal/models"
	"github.com/patrickwarner/dcoserve/internal/observability"
)

const defaultClick = "https://default.example/landing"

func testConfig() config.Config {
	return config.Config{
		StorageTimeout:  time.Second,
		SelectionSeed:   7,
		DefaultClickURL: defaultClick,
	}
}

func seedCatalog(t *testing.T, store models.Store, clickURL string) {
	t.Helper()
	ctx := context.Background()
	components := []models.ComponentDefinition{
		{TemplateID: "T1", ComponentID: "headline", Position: 0, PossibleValues: map[string]string{"1": "Buy Socks", "2": "Warm <Feet>"}},
		{TemplateID: "T1", ComponentID: "image", Position: 1, PossibleValues: map[string]string{"1": "http://x/img.png", "2": "http://x/alt.png"}},
	}
	for _, c := range components {
		require.NoError(t, store.PutTemplateComponent(ctx, c))
	}
	require.NoError(t, store.PutCampaignRecord(ctx, models.CampaignRecord{
		CampaignID: "C1",
		TemplateID: "T1",
		Active:     true,
		Segments:   map[string][]string{"news": {"1-1"}, "sale": {"2-2"}},
		ClickURL:   clickURL,
		CreatedAt:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}))
	if ms, ok := store.(models.MarkupStore); ok {
		require.NoError(t, ms.PutTemplateMarkup(ctx, "T1", `<a href="{{click_url}}"><h1>{{ headline }}</h1><img src="{{image}}"></a>`))
	}
}

func newTestServer(t *testing.T, store models.Store) (*Server, *observability.MockMetricsRegistry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMockMetricsRegistry()
	return NewServer(logger, store, nil, metrics, macros.NewServiceForTesting(logger), testConfig()), metrics
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	NewRouter(s).ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.ErrInvalidRequest, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", models.ErrInvalidRecord), http.StatusBadRequest},
		{models.ErrUnknownSegment, http.StatusNotFound},
		{models.ErrNoActiveCampaign, http.StatusNotFound},
		{models.ErrNotFound, http.StatusNotFound},
		{&models.DecodeMismatchError{AdID: "1", Codes: 1, Components: 2}, http.StatusUnprocessableEntity},
		{models.Unavailable("get", errors.New("dial tcp")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusForError(tc.err), tc.err.Error())
	}
}

func TestAdServerHandler(t *testing.T) {
	store := models.NewTestStore()
	seedCatalog(t, store, "")
	s, metrics := newTestServer(t, store)

	rec := do(t, s, "GET", "/ad_server?campaign=C1&template=T1&segment=news", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sel models.Selection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sel))
	assert.Equal(t, "1-1", sel.AdID)
	assert.Equal(t, map[string]string{"headline": "Buy Socks", "image": "http://x/img.png"}, sel.ComponentValues)
	assert.Equal(t, 1, metrics.Count(metrics.Requests, "ad_server GET 200"))
	assert.Equal(t, 1, metrics.Count(metrics.Selections, "ok"))
}

func TestAdServerHandlerErrors(t *testing.T) {
	store := models.NewTestStore()
	seedCatalog(t, store, "")
	s, _ := newTestServer(t, store)

	cases := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"missing segment", "/ad_server?campaign=C1&template=T1", http.StatusBadRequest, "invalid_request"},
		{"unknown segment", "/ad_server?campaign=C1&template=T1&segment=sports", http.StatusNotFound, "unknown_segment"},
		{"unknown campaign", "/ad_server?campaign=C9&template=T1&segment=news", http.StatusNotFound, "not_found"},
		{"unknown template", "/ad_server?campaign=C1&template=T9&segment=news", http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, "GET", tc.target, "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeError(t, rec).Code)
		})
	}
}

func TestAdServerHandlerDebugTrace(t *testing.T) {
	store := models.NewTestStore()
	seedCatalog(t, store, "")
	s, _ := newTestServer(t, store)

	rec := do(t, s, "GET", "/ad_server?campaign=C1&template=T1&segment=news&debug=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		AdID  string `json:"ad_id"`
		Debug struct {
			Steps []struct {
				Stage string `json:"stage"`
			} `json:"steps"`
		} `json:"debug"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Debug.Steps)
}

func TestClickRedirectsToCampaignURL(t *testing.T) {
	store := models.NewTestStore()
	seedCatalog(t, store, "https://shop.example/p?c={CAMPAIGN_ID}&ad={AD_ID}")
	s, metrics := newTestServer(t, store)

	rec := do(t, s, "GET", "/click_counter?campaign=C1&template=T1&segment=news&ad_id=1-1", "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://shop.example/p?c=C1&ad=1-1", rec.Header().Get("Location"))

	events, err := store.ListEvents(context.Background(), "C1", "T1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventClick, events[0].Type)
	assert.Equal(t, 1, metrics.Count(metrics.Events, "click"))
}

func TestClickFallsBackToDefault(t *testing.T) {
	cases := []struct {
		name     string
		clickURL string
		target   string
	}{
		{"no campaign url", "", "/click_counter?campaign=C1&template=T1&ad_id=1-1"},
		{"unsafe scheme", "javascript:alert(1)", "/click_counter?campaign=C1&template=T1&ad_id=1-1"},
		{"unknown campaign", "", "/click_counter?campaign=C9&template=T1&ad_id=1-1"},
		{"missing ids", "", "/click_counter"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := models.NewTestStore()
			seedCatalog(t, store, tc.clickURL)
			s, _ := newTestServer(t, store)

			rec := do(t, s, "GET", tc.target, "")
			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, defaultClick, rec.Header().Get("Location"))
		})
	}
}

func TestImpressionAlwaysReturnsPixel(t *testing.T) {
	store := models.NewTestStore()
	seedCatalog(t, store, "")
	s, metrics := newTestServer(t, store)

	rec := do(t, s, "GET", "/impression?campaign=C1&template=T1&segment=news&ad_id=1-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, pixelGIF, rec.Body.Bytes())
	assert.Equal(t, 1, metrics.Count(metrics.Events, "impression"))

	// Missing ids cannot be recorded but the pixel is still served.
	rec = do(t, s, "GET", "/impression", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pixelGIF, rec.Body.Bytes())

	events, err := store.ListEvents(context.Background(), "C1", "T1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCreativeHandlerRendersMarkup(t *testing.T) {
	store := models.NewTestStore()
	seedCatalog(t, store, "")
	s, metrics := newTestServer(t, store)

	rec := do(t, s, "GET", "/creative?campaign=C1&template=T1&segment=sale", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2-2", rec.Header().Get("X-Ad-Id"))
	body := rec.Body.String()
	assert.Contains(t, body, "<h1>Warm &lt;Feet&gt;</h1>")
	assert.Contains(t, body, `src="http://x/alt.png"`)
	assert.Contains(t, body, "/click_counter?ad_id=2-2&amp;campaign=C1")
	assert.Equal(t, 1, metrics.Count(metrics.Renders, "ok"))
}

func TestCreativeHandlerMissingMarkup(t *testing.T) {
	store := models.NewTestStore()
	seedCatalog(t, store, "")
	require.NoError(t, store.PutTemplateComponent(context.Background(), models.ComponentDefinition{
		TemplateID: "T2", ComponentID: "headline", PossibleValues: map[string]string{"1": "Hi"},
	}))
	require.NoError(t, store.PutCampaignRecord(context.Background(), models.CampaignRecord{
		CampaignID: "C2", TemplateID: "T2", Active: true, Segments: map[string][]string{"news": {"1"}},
	}))
	s, _ := newTestServer(t, store)

	rec := do(t, s, "GET", "/creative?campaign=C2&template=T2&segment=news", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInventoryHandler(t *testing.T) {
	store := models.NewTestStore()
	seedCatalog(t, store, "")
	s, _ := newTestServer(t, store)

	rec := do(t, s, "GET", "/inventory", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var inv models.Inventory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	require.Len(t, inv.Templates, 1)
	assert.Equal(t, []string{"headline", "image"}, inv.Templates[0].Components)
	assert.True(t, inv.Templates[0].HasMarkup)
	require.Len(t, inv.Campaigns, 1)
	assert.Equal(t, map[string]int{"news": 1, "sale": 1}, inv.Campaigns[0].PoolSizes)
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t, models.NewTestStore())
	rec := do(t, s, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func newCachedStore(t *testing.T) (*db.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := zaptest.NewLogger(t)
	store := db.NewStore(models.NewInMemoryStore(), &db.RedisStore{Client: client}, analytics.NewMockAnalytics(),
		time.Minute, observability.NewNoOpRegistry(), logger)
	return store, mr
}

func TestReloadFlushesCatalogCache(t *testing.T) {
	store, mr := newCachedStore(t)
	seedCatalog(t, store, "")
	s, _ := newTestServer(t, store)

	rec := do(t, s, "GET", "/ad_server?campaign=C1&template=T1&segment=news", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, mr.Exists("dco:tpl:T1"))

	rec = do(t, s, "POST", "/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, resp["flushed"], 1)
	assert.False(t, mr.Exists("dco:tpl:T1"))
}

func TestReloadWithoutCache(t *testing.T) {
	s, _ := newTestServer(t, models.NewTestStore())
	rec := do(t, s, "POST", "/reload", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"flushed":0}`, rec.Body.String())
}

func TestEventsEndpointWithCounts(t *testing.T) {
	store, _ := newCachedStore(t)
	seedCatalog(t, store, "")
	s, _ := newTestServer(t, store)

	do(t, s, "GET", "/impression?campaign=C1&template=T1&segment=news&ad_id=1-1", "")
	do(t, s, "GET", "/impression?campaign=C1&template=T1&segment=news&ad_id=1-1", "")
	do(t, s, "GET", "/click_counter?campaign=C1&template=T1&segment=news&ad_id=1-1", "")

	rec := do(t, s, "GET", "/api/campaigns/C1/templates/T1/events", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Events, 3)
	assert.Equal(t, db.AdCounts{Impressions: 2, Clicks: 1}, resp.Counts["1-1"])
}
