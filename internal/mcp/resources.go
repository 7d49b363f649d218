package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Resource URIs.
const (
	SettingsURI     = "kbsearch://settings"
	QueryMetricsURI = "kbsearch://query_metrics"
)

// QueryMetricsOutput is the JSON structure for the query_metrics resource.
type QueryMetricsOutput struct {
	Summary             QueryMetricsSummary `json:"summary"`
	StrategyCounts      map[string]int64    `json:"strategy_counts"`
	TopTerms            []QueryTermCount    `json:"top_terms"`
	ZeroResultQueries   []string            `json:"zero_result_queries"`
	LatencyDistribution map[string]int64    `json:"latency_distribution"`
}

// QueryMetricsSummary provides overview statistics.
type QueryMetricsSummary struct {
	TotalQueries  int64     `json:"total_queries"`
	Since         time.Time `json:"since"`
	ZeroResultPct float64   `json:"zero_result_pct"`
	CacheHitPct   float64   `json:"cache_hit_pct"`
	Degraded      int64     `json:"degraded"`
	Failed        int64     `json:"failed"`
}

// QueryTermCount represents a term and its frequency.
type QueryTermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		Name:        "settings",
		URI:         SettingsURI,
		Description: "Current search engine settings: weights, limits, thresholds and cache policy",
		MIMEType:    "application/json",
	}, s.readSettings)

	if s.metrics != nil {
		s.mcp.AddResource(&mcp.Resource{
			Name:        "query_metrics",
			URI:         QueryMetricsURI,
			Description: "Query telemetry for this server session",
			MIMEType:    "application/json",
		}, s.readQueryMetrics)
	}
}

func (s *Server) readSettings(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(SettingsURI, s.engine.Settings().Map())
}

func (s *Server) readQueryMetrics(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if s.metrics == nil {
		return nil, NewResourceNotFoundError(QueryMetricsURI)
	}
	snap := s.metrics.Snapshot()

	out := QueryMetricsOutput{
		Summary: QueryMetricsSummary{
			TotalQueries:  snap.TotalQueries,
			Since:         snap.Since,
			ZeroResultPct: snap.ZeroResultPercentage(),
			CacheHitPct:   snap.CacheHitPercentage(),
			Degraded:      snap.DegradedCount,
			Failed:        snap.FailedCount,
		},
		StrategyCounts:      snap.StrategyCounts,
		TopTerms:            make([]QueryTermCount, 0, len(snap.TopTerms)),
		ZeroResultQueries:   snap.ZeroResultQueries,
		LatencyDistribution: make(map[string]int64, len(snap.LatencyDistribution)),
	}
	for _, tc := range snap.TopTerms {
		out.TopTerms = append(out.TopTerms, QueryTermCount{Term: tc.Term, Count: tc.Count})
	}
	for bucket, n := range snap.LatencyDistribution {
		out.LatencyDistribution[string(bucket)] = n
	}
	return jsonResource(QueryMetricsURI, out)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: "application/json", Text: string(content)},
		},
	}, nil
}
