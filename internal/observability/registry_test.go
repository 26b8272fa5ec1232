package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestPrometheusRegistryCounters(t *testing.T) {
	r := NewPrometheusRegistry()

	before := testutil.ToFloat64(SelectionCount.WithLabelValues("unknown_segment"))
	r.IncrementSelections("unknown_segment")
	assert.Equal(t, before+1, testutil.ToFloat64(SelectionCount.WithLabelValues("unknown_segment")))

	before = testutil.ToFloat64(EventCount.WithLabelValues("click"))
	r.IncrementEvent("click")
	assert.Equal(t, before+1, testutil.ToFloat64(EventCount.WithLabelValues("click")))

	before = testutil.ToFloat64(CacheLookups.WithLabelValues("template", "hit"))
	r.IncrementCacheLookups("template", "hit")
	assert.Equal(t, before+1, testutil.ToFloat64(CacheLookups.WithLabelValues("template", "hit")))

	r.RecordStorageLatency("get_campaign_records", 3*time.Millisecond)
	r.RecordRequestLatency("ad_server", "GET", time.Millisecond)
	assert.Positive(t, testutil.CollectAndCount(StorageLatency))
}

func TestMockRegistryCounts(t *testing.T) {
	m := NewMockMetricsRegistry()
	m.IncrementRequests("ad_server", "GET", "200")
	m.IncrementRequests("ad_server", "GET", "200")
	m.IncrementRecordFailures("impression")
	m.IncrementRenders("partial")

	assert.Equal(t, 2, m.Count(m.Requests, "ad_server GET 200"))
	assert.Equal(t, 1, m.Count(m.RecordFailures, "impression"))
	assert.Equal(t, 1, m.Count(m.Renders, "partial"))
	assert.Zero(t, m.Count(m.Events, "click"))
}

func TestShouldSampleBounds(t *testing.T) {
	ResetSamplingStats()
	assert.True(t, ShouldSample(1))
	assert.False(t, ShouldSample(0))
	for i := 0; i < 100; i++ {
		ShouldSample(0.5)
	}
	stats := GetSamplingStats()[0.5]
	assert.Equal(t, int64(100), stats.Total)
	assert.LessOrEqual(t, stats.Sampled, stats.Total)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("chatty"))
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("ENV", "dev")
	assert.Equal(t, zapcore.DebugLevel, LevelFromEnv())
	t.Setenv("ENV", "production")
	assert.Equal(t, zapcore.InfoLevel, LevelFromEnv())
	t.Setenv("LOG_LEVEL", "error")
	assert.Equal(t, zapcore.ErrorLevel, LevelFromEnv())
}

func TestSamplerFor(t *testing.T) {
	assert.Contains(t, samplerFor(1).Description(), "root:AlwaysOnSampler")
	assert.Contains(t, samplerFor(0).Description(), "root:AlwaysOffSampler")
	assert.Contains(t, samplerFor(0.25).Description(), "root:TraceIDRatioBased")
}
