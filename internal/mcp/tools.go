package mcp

import (
	"github.com/Aman-CERP/kbsearch/internal/search"
)

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query             string             `json:"query" jsonschema:"the search query to execute"`
	Collections       []string           `json:"collections" jsonschema:"collection ids to search, at least one"`
	Strategy          string             `json:"strategy,omitempty" jsonschema:"auto, semantic, fulltext or hybrid; default auto"`
	SemanticWeight    *float64           `json:"semantic_weight,omitempty" jsonschema:"semantic weight in [0,1] for hybrid fusion"`
	FullTextWeight    *float64           `json:"fulltext_weight,omitempty" jsonschema:"full-text weight in [0,1] for hybrid fusion"`
	MaxResults        int                `json:"max_results,omitempty" jsonschema:"maximum number of results, default 10, at most 100"`
	MinScore          *float64           `json:"min_score,omitempty" jsonschema:"drop results scoring below this value in [0,1]; default from settings"`
	Rerank            bool               `json:"rerank,omitempty" jsonschema:"rescore the top results with the reranker"`
	Cluster           bool               `json:"cluster,omitempty" jsonschema:"group related results into named clusters"`
	ClusterThreshold  *float64           `json:"cluster_threshold,omitempty" jsonschema:"similarity in [0,1] required to join a cluster"`
	FanOut            string             `json:"fan_out,omitempty" jsonschema:"parallel, sequential or adaptive; default parallel"`
	Merge             string             `json:"merge,omitempty" jsonschema:"interleave, append or weighted; default interleave"`
	CollectionWeights map[string]float64 `json:"collection_weights,omitempty" jsonschema:"per-collection score weights for weighted merges"`
	Explain           bool               `json:"explain,omitempty" jsonschema:"include strategy selection details"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results    []ResultOutput             `json:"results" jsonschema:"ranked results, best first"`
	Strategy   string                     `json:"strategy" jsonschema:"strategy used, auto when collections differed"`
	Strategies map[string]string          `json:"strategies" jsonschema:"strategy used per collection"`
	TotalFound int                        `json:"total_found" jsonschema:"results found before the cap"`
	Clusters   []search.Cluster           `json:"clusters,omitempty" jsonschema:"result groups when clustering was requested"`
	Degraded   bool                       `json:"degraded" jsonschema:"true when part of the pipeline fell back"`
	Failures   []search.CollectionFailure `json:"failures,omitempty" jsonschema:"collections that contributed nothing"`
	ElapsedMS  int64                      `json:"elapsed_ms"`
	CacheHit   bool                       `json:"cache_hit"`
	Explain    []search.Explain           `json:"explain,omitempty"`
	Markdown   string                     `json:"markdown" jsonschema:"the results formatted for reading"`
}

// ResultOutput is one search result. Its id is what submit_feedback takes.
type ResultOutput struct {
	ID          string            `json:"id" jsonschema:"result id for submit_feedback"`
	DocumentID  string            `json:"document_id"`
	Collection  string            `json:"collection"`
	Title       string            `json:"title,omitempty"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Score       float64           `json:"score" jsonschema:"relevance score between 0 and 1"`
	RerankScore *float64          `json:"rerank_score,omitempty"`
	Cluster     string            `json:"cluster,omitempty"`
	Strategy    string            `json:"strategy"`
}

// FeedbackInput defines the input schema for the submit_feedback tool.
type FeedbackInput struct {
	ResultID string   `json:"result_id" jsonschema:"id of a result returned by search"`
	Kind     string   `json:"kind" jsonschema:"like, dislike, rating, comment or detailed"`
	Rating   *float64 `json:"rating,omitempty" jsonschema:"rating from 1 to 5; required for kind rating"`
	Comment  string   `json:"comment,omitempty"`
	UserID   string   `json:"user_id,omitempty"`
}

// FeedbackOutput confirms recorded feedback.
type FeedbackOutput struct {
	FeedbackID string `json:"feedback_id"`
	ResultID   string `json:"result_id"`
	Collection string `json:"collection"`
	Strategy   string `json:"strategy"`
	Polarity   string `json:"polarity" jsonschema:"positive, negative or neutral"`
}

// EmptyInput is the input of tools that take no parameters.
type EmptyInput struct{}

// CacheStatsOutput reports result cache counters.
type CacheStatsOutput struct {
	Enabled   bool    `json:"enabled"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	Bytes     int64   `json:"bytes"`
	Evictions int64   `json:"evictions"`
	Expired   int64   `json:"expired"`
	Shared    int64   `json:"shared" jsonschema:"lookups served by joining an in-flight computation"`
	TTL       string  `json:"ttl"`
}

// ClearCacheOutput reports how many entries were dropped.
type ClearCacheOutput struct {
	Cleared int `json:"cleared"`
}

// StrategiesInput optionally scopes strategy stats to collections.
type StrategiesInput struct {
	Collections []string `json:"collections,omitempty" jsonschema:"collections to report feedback stats for"`
}

// StrategiesOutput lists strategies and, when requested, their observed performance.
type StrategiesOutput struct {
	Strategies []search.StrategyInfo `json:"strategies"`
	Stats      []StrategyStatsOutput `json:"stats,omitempty"`
}

// StrategyStatsOutput is one strategy's record in one collection.
type StrategyStatsOutput struct {
	Collection    string  `json:"collection"`
	Strategy      string  `json:"strategy"`
	Queries       int64   `json:"queries"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	Positive      int64   `json:"positive"`
	Negative      int64   `json:"negative"`
	PositiveRatio float64 `json:"positive_ratio"`
}

// CollectionsOutput lists the known collections.
type CollectionsOutput struct {
	Collections []CollectionOutput `json:"collections"`
}

// CollectionOutput is one collection.
type CollectionOutput struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	DocumentCount int    `json:"document_count"`
	CreatedAt     string `json:"created_at" jsonschema:"creation time, RFC 3339"`
}
