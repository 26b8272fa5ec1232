package main

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseTargets(t *testing.T) {
	got, err := parseTargets(" C1:T1:news , C2:T1:sports,")
	require.NoError(t, err)
	assert.Equal(t, []target{
		{Campaign: "C1", Template: "T1", Segment: "news"},
		{Campaign: "C2", Template: "T1", Segment: "sports"},
	}, got)

	for _, bad := range []string{"", "C1:T1", "C1::news", "a:b:c:d"} {
		_, err := parseTargets(bad)
		assert.Error(t, err, bad)
	}
}

func TestVisitServesImpressionAndClick(t *testing.T) {
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits[r.URL.Path]++
		switch r.URL.Path {
		case "/ad_server":
			if r.URL.Query().Get("segment") == "missing" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(`{"ad_id":"1-2","component_values":{}}`))
		case "/impression":
			assert.Equal(t, "1-2", r.URL.Query().Get("ad_id"))
			w.WriteHeader(http.StatusOK)
		case "/click_counter":
			http.Redirect(w, r, "https://landing.example/", http.StatusFound)
		}
	}))
	defer srv.Close()

	sim := newSimulator(srv.URL, 1, zaptest.NewLogger(t))
	r := rand.New(rand.NewSource(1))
	sim.visit(context.Background(), r, target{Campaign: "C1", Template: "T1", Segment: "news"})
	sim.visit(context.Background(), r, target{Campaign: "C1", Template: "T1", Segment: "missing"})

	assert.Equal(t, uint64(2), sim.counts.sent.Load())
	assert.Equal(t, uint64(1), sim.counts.served.Load())
	assert.Equal(t, uint64(1), sim.counts.noAd.Load())
	assert.Equal(t, uint64(1), sim.counts.clicks.Load())
	assert.Equal(t, uint64(1), sim.counts.redirects.Load())
	assert.Zero(t, sim.counts.errors.Load())
	assert.Equal(t, 1, hits["/click_counter"])
	assert.Equal(t, map[string]int{"1-2": 1}, sim.variants["C1:T1:news"])
}

func TestVisitCountsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"down","code":"StorageUnavailable"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sim := newSimulator(srv.URL, 0, zaptest.NewLogger(t))
	sim.visit(context.Background(), rand.New(rand.NewSource(1)), target{Campaign: "C1", Template: "T1", Segment: "news"})
	assert.Equal(t, uint64(1), sim.counts.errors.Load())
	assert.Zero(t, sim.counts.served.Load())
}
