package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Record(t *testing.T) {
	// Given
	c := NewCollector("kbsearch")

	// When
	c.Record(QueryEvent{Strategy: "semantic", ResultCount: 3, Latency: 30 * time.Millisecond})
	c.Record(QueryEvent{Strategy: "semantic", ResultCount: 3, CacheHit: true})
	c.Record(QueryEvent{Strategy: "hybrid", ErrorCode: "ERR_500"})

	// Then
	assert.Equal(t, 2.0, testutil.ToFloat64(c.queriesTotal.WithLabelValues("semantic", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queriesTotal.WithLabelValues("hybrid", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheLookups.WithLabelValues("miss")))
}

func TestCollector_RecordFeedback(t *testing.T) {
	c := NewCollector("kbsearch")

	c.RecordFeedback(FeedbackEvent{Strategy: "fulltext", Polarity: "positive"})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.feedbackTotal.WithLabelValues("fulltext", "positive")))
}

func TestCollector_Handler_ExposesGauges(t *testing.T) {
	// Given
	c := NewCollector("kbsearch")
	require.NoError(t, c.RegisterGaugeFunc("kbsearch", "cache", "entries", "Cached entries.", func() float64 { return 7 }))
	c.Record(QueryEvent{Strategy: "hybrid", ResultCount: 1})

	// When
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	// Then
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "kbsearch_cache_entries 7"), text)
	assert.Contains(t, text, `kbsearch_search_queries_total{outcome="ok",strategy="hybrid"} 1`)
}

func TestCollector_RegisterGaugeFunc_Duplicate(t *testing.T) {
	c := NewCollector("kbsearch")
	require.NoError(t, c.RegisterGaugeFunc("kbsearch", "cache", "entries", "h", func() float64 { return 0 }))

	assert.Error(t, c.RegisterGaugeFunc("kbsearch", "cache", "entries", "h", func() float64 { return 0 }))
}
