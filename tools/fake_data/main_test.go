package main

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/dcoserve/internal/logic"
	"github.com/patrickwarner/dcoserve/internal/logic/render"
	"github.com/patrickwarner/dcoserve/internal/models"
)

func TestBuildCatalog(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cat, err := buildCatalog(rand.New(rand.NewSource(42)), 2, 3, 3, []string{"news", "sports"}, now)
	require.NoError(t, err)

	assert.Len(t, cat.Components, 6)
	assert.Len(t, cat.Markup, 2)
	assert.Len(t, cat.Campaigns, 6)

	byTemplate := cat.byTemplate()
	require.Len(t, byTemplate, 2)
	for tplID, components := range byTemplate {
		_, err := models.PrepareComponentBatch(tplID, components)
		require.NoError(t, err)
	}
	for tplID, markup := range cat.Markup {
		assert.Empty(t, render.UnknownPlaceholders(markup, models.ComponentIDs(byTemplate[tplID])))
	}
	for _, rec := range cat.Campaigns {
		components := byTemplate[rec.TemplateID]
		for seg, pool := range rec.Segments {
			require.NotEmpty(t, pool, seg)
			for _, adID := range pool {
				_, err := logic.DecodeAdID(components, adID)
				assert.NoError(t, err, adID)
			}
		}
	}
}

func TestBuildCatalogIsDeterministic(t *testing.T) {
	now := time.Now().UTC()
	a, err := buildCatalog(rand.New(rand.NewSource(7)), 1, 2, 2, []string{"news"}, now)
	require.NoError(t, err)
	b, err := buildCatalog(rand.New(rand.NewSource(7)), 1, 2, 2, []string{"news"}, now)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"news", "sports"}, splitCSV("news,,sports,"))
	assert.Nil(t, splitCSV(""))
}
