// Package search is the orchestration engine: it selects a retrieval
// strategy per collection, fans queries out to the semantic and full-text
// backends, fuses and refines their scores, groups related results and
// merges the per-collection answers into one response.
package search

import (
	"context"
	"strings"
	"time"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/strategy"
)

// SemanticBackend returns documents ranked by vector similarity.
type SemanticBackend interface {
	SearchVectors(ctx context.Context, collection, text string, topK int) ([]store.Hit, error)
}

// FullTextBackend returns documents ranked by keyword relevance.
type FullTextBackend interface {
	SearchText(ctx context.Context, collection, text string, topK int) ([]store.Hit, error)
}

// VectorSource exposes stored document vectors for similarity clustering.
type VectorSource interface {
	Vectors(ctx context.Context, collection string, ids []string) (map[string][]float32, error)
}

// FanOutMode controls how collections are queried.
type FanOutMode string

const (
	FanOutParallel   FanOutMode = "parallel"
	FanOutSequential FanOutMode = "sequential"
	FanOutAdaptive   FanOutMode = "adaptive"
)

// ParseFanOutMode validates a fan-out mode. Empty input means parallel.
func ParseFanOutMode(s string) (FanOutMode, error) {
	switch m := FanOutMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return FanOutParallel, nil
	case FanOutParallel, FanOutSequential, FanOutAdaptive:
		return m, nil
	default:
		return "", kberrors.InvalidQuery("unknown fan-out mode %q (want parallel, sequential or adaptive)", s)
	}
}

// MergeMode controls how per-collection lists are combined.
type MergeMode string

const (
	MergeInterleave MergeMode = "interleave"
	MergeAppend     MergeMode = "append"
	MergeWeighted   MergeMode = "weighted"
)

// ParseMergeMode validates a merge mode. Empty input means interleave.
func ParseMergeMode(s string) (MergeMode, error) {
	switch m := MergeMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MergeInterleave, nil
	case MergeInterleave, MergeAppend, MergeWeighted:
		return m, nil
	default:
		return "", kberrors.InvalidQuery("unknown merge mode %q (want interleave, append or weighted)", s)
	}
}

// Weights is the semantic / full-text balance for hybrid retrieval.
type Weights struct {
	Semantic float64 `json:"semantic" yaml:"semantic"`
	FullText float64 `json:"fulltext" yaml:"fulltext"`
}

// DefaultWeights favours semantic similarity.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.7, FullText: 0.3}
}

// Validate checks that both weights lie in [0,1].
func (w Weights) Validate() error {
	if w.Semantic < 0 || w.Semantic > 1 {
		return kberrors.InvalidQuery("semantic weight %g outside [0, 1]", w.Semantic)
	}
	if w.FullText < 0 || w.FullText > 1 {
		return kberrors.InvalidQuery("fulltext weight %g outside [0, 1]", w.FullText)
	}
	return nil
}

// Normalized scales the pair to sum to 1. A zero pair is returned unchanged.
func (w Weights) Normalized() Weights {
	sum := w.Semantic + w.FullText
	if sum == 0 {
		return w
	}
	return Weights{Semantic: w.Semantic / sum, FullText: w.FullText / sum}
}

// For returns the effective weights a strategy fuses with.
func (w Weights) For(s strategy.Strategy) Weights {
	switch s {
	case strategy.Semantic:
		return Weights{Semantic: 1}
	case strategy.FullText:
		return Weights{FullText: 1}
	default:
		return w.Normalized()
	}
}

// Query is one search request. It is passed by value once dispatched.
type Query struct {
	Text        string
	Collections []string
	Strategy    strategy.Strategy

	// Weights overrides the configured default weights.
	Weights *Weights

	// MaxResults caps the response. Zero uses the configured default.
	MaxResults int

	// MinScore overrides the configured minimum score. Zero is a valid
	// override.
	MinScore *float64

	UseReranking  bool
	UseClustering bool

	// ClusterThreshold overrides the configured similarity threshold.
	ClusterThreshold *float64

	FanOut FanOutMode
	Merge  MergeMode

	// CollectionWeights scales scores in weighted merges. Missing entries count as 1.
	CollectionWeights map[string]float64

	// Explain attaches selection and pipeline details to the response.
	Explain bool
}

// minScore is the effective minimum score; unset means none.
func (q Query) minScore() float64 {
	if q.MinScore == nil {
		return 0
	}
	return *q.MinScore
}

// Candidate is one backend hit attributed to its origin.
type Candidate struct {
	DocID      string
	Collection string
	Score      float64
	// Rank is the 1-based position in the backend's list.
	Rank     int
	Strategy strategy.Strategy
}

// ScoredResult is one emitted result.
type ScoredResult struct {
	ID          string            `json:"id"`
	DocumentID  string            `json:"document_id"`
	Collection  string            `json:"collection"`
	Title       string            `json:"title,omitempty"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Score       float64           `json:"score"`
	RerankScore *float64          `json:"rerank_score,omitempty"`
	Cluster     string            `json:"cluster,omitempty"`

	// SemanticScore and FullTextScore are the weighted contributions to the fused score.
	SemanticScore float64 `json:"semantic_score"`
	FullTextScore float64 `json:"fulltext_score"`

	Strategy  strategy.Strategy `json:"strategy"`
	Timestamp time.Time         `json:"timestamp"`
}

// Cluster groups related results of one collection within one response.
type Cluster struct {
	Name       string   `json:"name"`
	Collection string   `json:"collection"`
	Members    []string `json:"members"`
	Count      int      `json:"count"`
}

// CollectionFailure reports a collection that contributed nothing.
type CollectionFailure struct {
	Collection string `json:"collection"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// SearchResponse is the answer to a Query.
type SearchResponse struct {
	Results []ScoredResult `json:"results"`

	// Strategy is the strategy every collection used, or auto when they differ.
	Strategy   strategy.Strategy            `json:"strategy"`
	Strategies map[string]strategy.Strategy `json:"strategies"`

	TotalFound int                 `json:"total_found"`
	Clusters   []Cluster           `json:"clusters,omitempty"`
	Degraded   bool                `json:"degraded"`
	Failures   []CollectionFailure `json:"failures,omitempty"`
	Elapsed    time.Duration       `json:"elapsed"`
	CacheHit   bool                `json:"cache_hit"`
	Explain    []Explain           `json:"explain,omitempty"`
}

// Explain describes how one collection's results were produced.
type Explain struct {
	Collection     string            `json:"collection"`
	Strategy       strategy.Strategy `json:"strategy"`
	SelectionRule  string            `json:"selection_rule"`
	Weights        Weights           `json:"weights"`
	SemanticHits   int               `json:"semantic_hits"`
	FullTextHits   int               `json:"fulltext_hits"`
	Reranked       bool              `json:"reranked"`
	RerankDegraded bool              `json:"rerank_degraded"`
	Cache          string            `json:"cache"`
	Supplemental   bool              `json:"supplemental"`
}

// StrategyInfo describes one strategy for listings.
type StrategyInfo struct {
	Name        strategy.Strategy `json:"name"`
	Description string            `json:"description"`
}

// Strategies returns the closed strategy list with descriptions.
func Strategies() []StrategyInfo {
	all := append([]strategy.Strategy{strategy.Auto}, strategy.Concrete...)
	out := make([]StrategyInfo, len(all))
	for i, s := range all {
		out[i] = StrategyInfo{Name: s, Description: s.Description()}
	}
	return out
}
