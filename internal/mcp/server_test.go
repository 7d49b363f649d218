package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbsearch/internal/cache"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/feedback"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/strategy"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeEngine struct {
	resp      *search.SearchResponse
	searchErr error
	lastQuery search.Query

	ack       feedback.Ack
	ackErr    error
	lastEvent feedback.Event

	stats    cache.Stats
	cleared  int
	settings search.Settings
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{settings: search.DefaultSettings()}
}

func (f *fakeEngine) Search(_ context.Context, q search.Query) (*search.SearchResponse, error) {
	f.lastQuery = q
	return f.resp, f.searchErr
}

func (f *fakeEngine) SubmitFeedback(_ context.Context, ev feedback.Event) (feedback.Ack, error) {
	f.lastEvent = ev
	return f.ack, f.ackErr
}

func (f *fakeEngine) GetCacheStats() cache.Stats { return f.stats }

func (f *fakeEngine) ClearCache() {
	f.cleared++
	f.stats.Size = 0
}

func (f *fakeEngine) GetStrategies() []search.StrategyInfo { return search.Strategies() }

func (f *fakeEngine) Settings() search.Settings { return f.settings }

type fakeCatalog struct {
	cols []*store.Collection
	err  error
}

func (f *fakeCatalog) ListCollections(context.Context) ([]*store.Collection, error) {
	return f.cols, f.err
}

type fakeStats map[string]feedback.Snapshot

func (f fakeStats) Snapshot(collection string) feedback.Snapshot { return f[collection] }

func newTestServer(t *testing.T, engine Engine, catalog Catalog, opts ...Option) *Server {
	t.Helper()
	s, err := NewServer(engine, catalog, opts...)
	require.NoError(t, err)
	return s
}

func ptr(v float64) *float64 { return &v }

// =============================================================================
// Construction
// =============================================================================

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	s := newTestServer(t, newFakeEngine(), nil)

	names := make([]string, 0)
	for _, tool := range s.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}

	assert.Equal(t, []string{"search", "submit_feedback", "cache_stats", "clear_cache", "list_strategies", "list_collections"}, names)
	assert.NotNil(t, s.MCPServer())
}

// =============================================================================
// search
// =============================================================================

func TestToQuery(t *testing.T) {
	// Given
	in := SearchInput{
		Query:          "reset password",
		Collections:    []string{"docs", "faq"},
		Strategy:       "Hybrid",
		FullTextWeight: ptr(0.5),
		MaxResults:     5,
		Rerank:         true,
		Cluster:        true,
		FanOut:         "adaptive",
		Merge:          "weighted",
		Explain:        true,
	}

	// When
	q, err := ToQuery(in, search.DefaultWeights())

	// Then
	require.NoError(t, err)
	assert.Equal(t, "reset password", q.Text)
	assert.Equal(t, []string{"docs", "faq"}, q.Collections)
	assert.Equal(t, strategy.Hybrid, q.Strategy)
	require.NotNil(t, q.Weights)
	assert.Equal(t, search.Weights{Semantic: 0.7, FullText: 0.5}, *q.Weights)
	assert.Equal(t, 5, q.MaxResults)
	assert.True(t, q.UseReranking)
	assert.True(t, q.UseClustering)
	assert.Equal(t, search.FanOutAdaptive, q.FanOut)
	assert.Equal(t, search.MergeWeighted, q.Merge)
	assert.True(t, q.Explain)
}

func TestToQuery_DefaultsLeftToEngine(t *testing.T) {
	q, err := ToQuery(SearchInput{Query: "x", Collections: []string{"docs"}}, search.DefaultWeights())

	require.NoError(t, err)
	assert.Equal(t, strategy.Auto, q.Strategy)
	assert.Nil(t, q.Weights)
	assert.Nil(t, q.MinScore)
	assert.Zero(t, q.MaxResults)
}

func TestToQuery_ZeroMinScoreIsExplicit(t *testing.T) {
	q, err := ToQuery(SearchInput{Query: "x", Collections: []string{"docs"}, MinScore: ptr(0.0)}, search.DefaultWeights())

	require.NoError(t, err)
	require.NotNil(t, q.MinScore)
	assert.Zero(t, *q.MinScore)
}

func TestToQuery_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   SearchInput
	}{
		{"empty query", SearchInput{Query: "  ", Collections: []string{"docs"}}},
		{"no collections", SearchInput{Query: "x"}},
		{"unknown strategy", SearchInput{Query: "x", Collections: []string{"docs"}, Strategy: "psychic"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToQuery(tt.in, search.DefaultWeights())

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
		})
	}
}

func sampleResponse() *search.SearchResponse {
	rerank := 0.91
	return &search.SearchResponse{
		Results: []search.ScoredResult{
			{ID: "r1", DocumentID: "d1", Collection: "docs", Title: "Password reset", Content: "Use the reset link.",
				Score: 0.9, RerankScore: &rerank, Cluster: "Password", Strategy: strategy.Hybrid},
			{ID: "r2", DocumentID: "d2", Collection: "faq", Content: "Contact support.", Score: 0.4, Strategy: strategy.FullText},
		},
		Strategy:   strategy.Auto,
		Strategies: map[string]strategy.Strategy{"docs": strategy.Hybrid, "faq": strategy.FullText},
		TotalFound: 7,
		Clusters:   []search.Cluster{{Name: "Password", Collection: "docs", Members: []string{"r1"}, Count: 1}},
		Elapsed:    42 * time.Millisecond,
		CacheHit:   true,
	}
}

func TestHandleSearch(t *testing.T) {
	// Given
	engine := newFakeEngine()
	engine.resp = sampleResponse()
	s := newTestServer(t, engine, nil)

	// When
	_, out, err := s.handleSearch(context.Background(), nil, SearchInput{Query: "reset", Collections: []string{"docs", "faq"}})

	// Then
	require.NoError(t, err)
	assert.Equal(t, "reset", engine.lastQuery.Text)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "r1", out.Results[0].ID)
	assert.Equal(t, "hybrid", out.Results[0].Strategy)
	assert.Equal(t, 0.91, *out.Results[0].RerankScore)
	assert.Equal(t, "auto", out.Strategy)
	assert.Equal(t, map[string]string{"docs": "hybrid", "faq": "fulltext"}, out.Strategies)
	assert.Equal(t, 7, out.TotalFound)
	assert.Equal(t, int64(42), out.ElapsedMS)
	assert.True(t, out.CacheHit)
	assert.Contains(t, out.Markdown, "Password reset")
}

func TestHandleSearch_MapsEngineErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"unknown collection", kberrors.UnknownCollection("nope"), ErrCodeUnknownCollection},
		{"invalid query", kberrors.InvalidQuery("bad weights"), ErrCodeInvalidParams},
		{"timeout", kberrors.Timeout("search", context.DeadlineExceeded), ErrCodeTimeout},
		{"all failed", kberrors.AllBackendsFailed("docs", errors.New("down")), ErrCodeBackendUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine()
			engine.searchErr = tt.err
			s := newTestServer(t, engine, nil)

			_, _, err := s.handleSearch(context.Background(), nil, SearchInput{Query: "x", Collections: []string{"docs"}})

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, tt.code, mcpErr.Code)
		})
	}
}

// =============================================================================
// submit_feedback
// =============================================================================

func TestHandleFeedback(t *testing.T) {
	// Given
	engine := newFakeEngine()
	engine.ack = feedback.Ack{FeedbackID: "f1", ResultID: "r1", Collection: "docs", Strategy: strategy.Hybrid, Polarity: "positive"}
	s := newTestServer(t, engine, nil)

	// When
	_, out, err := s.handleFeedback(context.Background(), nil, FeedbackInput{ResultID: "r1", Kind: "Rating", Rating: ptr(4), Comment: "useful"})

	// Then
	require.NoError(t, err)
	assert.Equal(t, FeedbackOutput{FeedbackID: "f1", ResultID: "r1", Collection: "docs", Strategy: "hybrid", Polarity: "positive"}, out)
	assert.Equal(t, feedback.KindRating, engine.lastEvent.Kind)
	assert.Equal(t, 4.0, *engine.lastEvent.Rating)
	assert.Equal(t, "useful", engine.lastEvent.Comment)
	assert.False(t, engine.lastEvent.Timestamp.IsZero())
}

func TestHandleFeedback_Errors(t *testing.T) {
	engine := newFakeEngine()
	s := newTestServer(t, engine, nil)
	var mcpErr *MCPError

	_, _, err := s.handleFeedback(context.Background(), nil, FeedbackInput{Kind: "like"})
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)

	_, _, err = s.handleFeedback(context.Background(), nil, FeedbackInput{ResultID: "r1", Kind: "meh"})
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)

	engine.ackErr = kberrors.New(kberrors.ErrCodeUnknownResult, "unknown result r9", nil)
	_, _, err = s.handleFeedback(context.Background(), nil, FeedbackInput{ResultID: "r9", Kind: "like"})
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeUnknownResult, mcpErr.Code)
}

// =============================================================================
// cache, strategies, collections
// =============================================================================

func TestHandleCacheStatsAndClear(t *testing.T) {
	// Given
	engine := newFakeEngine()
	engine.stats = cache.Stats{Hits: 3, Misses: 1, Size: 2, Capacity: 1000, HitRate: 0.75}
	s := newTestServer(t, engine, nil)

	// When
	_, stats, err := s.handleCacheStats(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	_, cleared, err := s.handleClearCache(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)

	// Then
	assert.True(t, stats.Enabled)
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, 0.75, stats.HitRate)
	assert.Equal(t, "1h0m0s", stats.TTL)
	assert.Equal(t, 2, cleared.Cleared)
	assert.Equal(t, 1, engine.cleared)
}

func TestHandleStrategies(t *testing.T) {
	// Given
	snap := feedback.Snapshot{Collection: "docs"}
	snap.Strategies[0] = feedback.StrategyStats{Strategy: strategy.Semantic, Queries: 10, AvgLatency: 15 * time.Millisecond, Positive: 3, Negative: 1}
	snap.Strategies[1] = feedback.StrategyStats{Strategy: strategy.FullText}
	snap.Strategies[2] = feedback.StrategyStats{Strategy: strategy.Hybrid}
	s := newTestServer(t, newFakeEngine(), nil, WithStrategyStats(fakeStats{"docs": snap}))

	// When
	_, out, err := s.handleStrategies(context.Background(), nil, StrategiesInput{Collections: []string{"docs"}})

	// Then
	require.NoError(t, err)
	assert.Len(t, out.Strategies, 4)
	require.Len(t, out.Stats, 3)
	assert.Equal(t, "semantic", out.Stats[0].Strategy)
	assert.Equal(t, 15.0, out.Stats[0].AvgLatencyMS)
	assert.Equal(t, 0.75, out.Stats[0].PositiveRatio)
}

func TestHandleStrategies_WithoutStats(t *testing.T) {
	s := newTestServer(t, newFakeEngine(), nil)

	_, out, err := s.handleStrategies(context.Background(), nil, StrategiesInput{Collections: []string{"docs"}})

	require.NoError(t, err)
	assert.Empty(t, out.Stats)
}

func TestHandleCollections(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	catalog := &fakeCatalog{cols: []*store.Collection{{ID: "docs", Name: "Docs", DocumentCount: 12, CreatedAt: created}}}
	s := newTestServer(t, newFakeEngine(), catalog)

	_, out, err := s.handleCollections(context.Background(), nil, EmptyInput{})

	require.NoError(t, err)
	assert.Equal(t, []CollectionOutput{{ID: "docs", Name: "Docs", DocumentCount: 12, CreatedAt: "2026-01-02T03:04:05Z"}}, out.Collections)
}

func TestHandleCollections_NoCatalogAndErrors(t *testing.T) {
	_, out, err := newTestServer(t, newFakeEngine(), nil).handleCollections(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	assert.Empty(t, out.Collections)

	s := newTestServer(t, newFakeEngine(), &fakeCatalog{err: errors.New("disk gone")})
	_, _, err = s.handleCollections(context.Background(), nil, EmptyInput{})
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeStorage, mcpErr.Code)
}

// =============================================================================
// Resources
// =============================================================================

func TestReadSettings(t *testing.T) {
	s := newTestServer(t, newFakeEngine(), nil)

	res, err := s.readSettings(context.Background(), nil)

	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, SettingsURI, res.Contents[0].URI)
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &got))
	assert.Equal(t, search.DefaultSettings().Map(), got)
}

func TestReadQueryMetrics_NotConfigured(t *testing.T) {
	s := newTestServer(t, newFakeEngine(), nil)

	_, err := s.readQueryMetrics(context.Background(), nil)

	assert.Error(t, err)
}

func TestServe_UnknownTransport(t *testing.T) {
	s := newTestServer(t, newFakeEngine(), nil)

	err := s.Serve(context.Background(), "carrier-pigeon")

	assert.ErrorContains(t, err, "unknown transport")
}
