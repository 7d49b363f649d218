package search

import (
	"sync/atomic"
	"unicode/utf8"

	"github.com/Aman-CERP/kbsearch/internal/feedback"
	"github.com/Aman-CERP/kbsearch/internal/strategy"
)

// StatsSource exposes per-collection strategy statistics.
// *feedback.Aggregator implements it.
type StatsSource interface {
	Snapshot(collection string) feedback.Snapshot
}

// Selection rules, reported by Explain.
const (
	RuleRequested     = "requested"
	RuleShortExact    = "short_exact_match"
	RuleHybridWinning = "hybrid_feedback"
	RuleDefault       = "default_semantic"
)

// SelectorConfig holds the thresholds of the selection heuristic.
type SelectorConfig struct {
	// ShortQueryRunes is the length below which exact-match tokens force fulltext.
	ShortQueryRunes int
	// MinFeedbackSamples is the feedback count a strategy needs to compete.
	MinFeedbackSamples int64
}

// Selection is a selector decision with the rule that produced it.
type Selection struct {
	Strategy strategy.Strategy
	Rule     string
	// Token is the exact-match token that triggered RuleShortExact.
	Token string
}

// Selector picks a concrete strategy for auto queries. It only reads stats.
type Selector struct {
	stats StatsSource
	cfg   atomic.Pointer[SelectorConfig]
}

// NewSelector creates a selector. stats may be nil, which disables the
// feedback rule.
func NewSelector(stats StatsSource, cfg SelectorConfig) *Selector {
	s := &Selector{stats: stats}
	s.Configure(cfg)
	return s
}

// Configure replaces the thresholds.
func (s *Selector) Configure(cfg SelectorConfig) {
	s.cfg.Store(&cfg)
}

// Select returns the strategy for query in collection.
func (s *Selector) Select(query, collection string) strategy.Strategy {
	return s.Explain(query, collection).Strategy
}

// Explain returns the strategy and the rule that chose it.
func (s *Selector) Explain(query, collection string) Selection {
	cfg := s.cfg.Load()

	if utf8.RuneCountInString(query) < cfg.ShortQueryRunes {
		if tok, ok := exactMatchToken(query); ok {
			return Selection{Strategy: strategy.FullText, Rule: RuleShortExact, Token: tok}
		}
	}

	if s.stats != nil && hybridLeads(s.stats.Snapshot(collection), cfg.MinFeedbackSamples) {
		return Selection{Strategy: strategy.Hybrid, Rule: RuleHybridWinning}
	}

	return Selection{Strategy: strategy.Semantic, Rule: RuleDefault}
}

// hybridLeads reports whether hybrid has enough samples and a positive
// ratio no lower than any other strategy that has enough samples.
func hybridLeads(snap feedback.Snapshot, minSamples int64) bool {
	hybrid := snap.Get(strategy.Hybrid)
	if hybrid.Samples() < minSamples || hybrid.Samples() == 0 {
		return false
	}
	best := hybrid.PositiveRatio()
	for _, st := range snap.Strategies {
		if st.Strategy == strategy.Hybrid || st.Samples() < minSamples || st.Samples() == 0 {
			continue
		}
		if st.PositiveRatio() > best {
			return false
		}
	}
	return true
}
