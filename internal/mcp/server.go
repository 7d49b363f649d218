package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/kbsearch/internal/cache"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/feedback"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/strategy"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
	"github.com/Aman-CERP/kbsearch/pkg/version"
)

// ServerName is the implementation name announced to clients.
const ServerName = "kbsearch"

// Engine is the search service the server exposes. *search.Engine implements it.
type Engine interface {
	Search(ctx context.Context, q search.Query) (*search.SearchResponse, error)
	SubmitFeedback(ctx context.Context, ev feedback.Event) (feedback.Ack, error)
	GetCacheStats() cache.Stats
	ClearCache()
	GetStrategies() []search.StrategyInfo
	Settings() search.Settings
}

// Catalog lists collections. *store.SQLiteStore implements it.
type Catalog interface {
	ListCollections(ctx context.Context) ([]*store.Collection, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithQueryMetrics exposes m as the query_metrics resource.
func WithQueryMetrics(m *telemetry.QueryMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithStrategyStats lets list_strategies report per-collection feedback stats.
func WithStrategyStats(src search.StatsSource) Option {
	return func(s *Server) { s.stats = src }
}

// Server bridges MCP clients with the search engine.
type Server struct {
	mcp     *mcp.Server
	engine  Engine
	catalog Catalog
	stats   search.StatsSource
	metrics *telemetry.QueryMetrics
	logger  *slog.Logger
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name: "search",
		Description: "Search one or more knowledge base collections. Picks semantic, full-text or hybrid " +
			"retrieval per collection unless a strategy is given, and can rerank and cluster the results. " +
			"Each result carries an id to pass to submit_feedback.",
	},
	{
		Name: "submit_feedback",
		Description: "Record feedback (like, dislike, rating 1-5, comment) on a result returned by search. " +
			"Feedback steers future strategy selection for the result's collection.",
	},
	{Name: "cache_stats", Description: "Report result cache hits, misses, size and evictions."},
	{Name: "clear_cache", Description: "Drop every cached search result."},
	{
		Name:        "list_strategies",
		Description: "List retrieval strategies, optionally with their observed performance per collection.",
	},
	{Name: "list_collections", Description: "List the collections that can be searched."},
}

// NewServer creates an MCP server over engine. catalog may be nil, in which
// case list_collections reports an empty list.
func NewServer(engine Engine, catalog Catalog, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}

	s := &Server{engine: engine, catalog: catalog, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version.Version}, nil)
	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

func (s *Server) registerTools() {
	desc := make(map[string]string, len(tools))
	for _, t := range tools {
		desc[t.Name] = t.Description
	}
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "search", Description: desc["search"]}, s.handleSearch)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "submit_feedback", Description: desc["submit_feedback"]}, s.handleFeedback)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "cache_stats", Description: desc["cache_stats"]}, s.handleCacheStats)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "clear_cache", Description: desc["clear_cache"]}, s.handleClearCache)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "list_strategies", Description: desc["list_strategies"]}, s.handleStrategies)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "list_collections", Description: desc["list_collections"]}, s.handleCollections)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// ToQuery converts search tool input into an engine query. Defaults are
// left zero for the engine to fill.
func ToQuery(in SearchInput, defaults search.Weights) (search.Query, error) {
	if strings.TrimSpace(in.Query) == "" {
		return search.Query{}, NewInvalidParamsError("query parameter is required")
	}
	if len(in.Collections) == 0 {
		return search.Query{}, NewInvalidParamsError("at least one collection is required")
	}
	st, err := strategy.Parse(in.Strategy)
	if err != nil {
		return search.Query{}, NewInvalidParamsError(err.Error())
	}

	q := search.Query{
		Text:              in.Query,
		Collections:       in.Collections,
		Strategy:          st,
		MaxResults:        in.MaxResults,
		MinScore:          in.MinScore,
		UseReranking:      in.Rerank,
		UseClustering:     in.Cluster,
		ClusterThreshold:  in.ClusterThreshold,
		FanOut:            search.FanOutMode(in.FanOut),
		Merge:             search.MergeMode(in.Merge),
		CollectionWeights: in.CollectionWeights,
		Explain:           in.Explain,
	}
	if in.SemanticWeight != nil || in.FullTextWeight != nil {
		w := defaults
		if in.SemanticWeight != nil {
			w.Semantic = *in.SemanticWeight
		}
		if in.FullTextWeight != nil {
			w.FullText = *in.FullTextWeight
		}
		q.Weights = &w
	}
	return q, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	requestID := generateRequestID()
	q, err := ToQuery(input, s.engine.Settings().Weights)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	resp, err := s.engine.Search(ctx, q)
	if err != nil {
		s.logger.Warn("mcp_search_failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(err)
	}

	s.logger.Debug("mcp_search_completed",
		slog.String("request_id", requestID),
		slog.Int("result_count", len(resp.Results)),
		slog.Bool("cache_hit", resp.CacheHit))
	return nil, ToSearchOutput(input.Query, resp), nil
}

// ToSearchOutput converts an engine response to the tool output.
func ToSearchOutput(query string, resp *search.SearchResponse) SearchOutput {
	out := SearchOutput{
		Results:    make([]ResultOutput, 0, len(resp.Results)),
		Strategy:   string(resp.Strategy),
		Strategies: make(map[string]string, len(resp.Strategies)),
		TotalFound: resp.TotalFound,
		Clusters:   resp.Clusters,
		Degraded:   resp.Degraded,
		Failures:   resp.Failures,
		ElapsedMS:  resp.Elapsed.Milliseconds(),
		CacheHit:   resp.CacheHit,
		Explain:    resp.Explain,
		Markdown:   FormatSearchResponse(query, resp),
	}
	for c, st := range resp.Strategies {
		out.Strategies[c] = string(st)
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, ResultOutput{
			ID:          r.ID,
			DocumentID:  r.DocumentID,
			Collection:  r.Collection,
			Title:       r.Title,
			Content:     r.Content,
			Metadata:    r.Metadata,
			Score:       r.Score,
			RerankScore: r.RerankScore,
			Cluster:     r.Cluster,
			Strategy:    string(r.Strategy),
		})
	}
	return out
}

func (s *Server) handleFeedback(ctx context.Context, _ *mcp.CallToolRequest, input FeedbackInput) (
	*mcp.CallToolResult,
	FeedbackOutput,
	error,
) {
	if strings.TrimSpace(input.ResultID) == "" {
		return nil, FeedbackOutput{}, NewInvalidParamsError("result_id parameter is required")
	}
	kind, err := feedback.ParseKind(input.Kind)
	if err != nil {
		return nil, FeedbackOutput{}, MapError(err)
	}

	ack, err := s.engine.SubmitFeedback(ctx, feedback.Event{
		ResultID:  input.ResultID,
		Kind:      kind,
		Rating:    input.Rating,
		Comment:   input.Comment,
		UserID:    input.UserID,
		Timestamp: time.Now(),
	})
	if err != nil {
		return nil, FeedbackOutput{}, MapError(err)
	}
	return nil, FeedbackOutput{
		FeedbackID: ack.FeedbackID,
		ResultID:   ack.ResultID,
		Collection: ack.Collection,
		Strategy:   string(ack.Strategy),
		Polarity:   ack.Polarity,
	}, nil
}

func (s *Server) handleCacheStats(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (
	*mcp.CallToolResult,
	CacheStatsOutput,
	error,
) {
	st := s.engine.GetCacheStats()
	settings := s.engine.Settings()
	return nil, CacheStatsOutput{
		Enabled:   settings.CacheCapacity > 0,
		Hits:      st.Hits,
		Misses:    st.Misses,
		HitRate:   st.HitRate,
		Size:      st.Size,
		Capacity:  st.Capacity,
		Bytes:     st.Bytes,
		Evictions: st.Evictions,
		Expired:   st.Expired,
		Shared:    st.Shared,
		TTL:       settings.CacheTTL.String(),
	}, nil
}

func (s *Server) handleClearCache(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (
	*mcp.CallToolResult,
	ClearCacheOutput,
	error,
) {
	n := s.engine.GetCacheStats().Size
	s.engine.ClearCache()
	return nil, ClearCacheOutput{Cleared: n}, nil
}

func (s *Server) handleStrategies(_ context.Context, _ *mcp.CallToolRequest, input StrategiesInput) (
	*mcp.CallToolResult,
	StrategiesOutput,
	error,
) {
	out := StrategiesOutput{Strategies: s.engine.GetStrategies()}
	if s.stats == nil {
		return nil, out, nil
	}
	for _, c := range input.Collections {
		snap := s.stats.Snapshot(c)
		for _, st := range snap.Strategies {
			out.Stats = append(out.Stats, StrategyStatsOutput{
				Collection:    c,
				Strategy:      string(st.Strategy),
				Queries:       st.Queries,
				AvgLatencyMS:  float64(st.AvgLatency) / float64(time.Millisecond),
				Positive:      st.Positive,
				Negative:      st.Negative,
				PositiveRatio: st.PositiveRatio(),
			})
		}
	}
	return nil, out, nil
}

func (s *Server) handleCollections(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (
	*mcp.CallToolResult,
	CollectionsOutput,
	error,
) {
	out := CollectionsOutput{Collections: []CollectionOutput{}}
	if s.catalog == nil {
		return nil, out, nil
	}
	cols, err := s.catalog.ListCollections(ctx)
	if err != nil {
		return nil, CollectionsOutput{}, MapError(kberrors.StorageError("list collections", err))
	}
	for _, c := range cols {
		out.Collections = append(out.Collections, CollectionOutput{
			ID:            c.ID,
			Name:          c.Name,
			Description:   c.Description,
			DocumentCount: c.DocumentCount,
			CreatedAt:     c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

// Serve runs the server on the given transport until ctx is done.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		} else {
			s.logger.Info("mcp_server_stopped")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
