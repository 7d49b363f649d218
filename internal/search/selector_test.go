package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/kbsearch/internal/feedback"
	"github.com/Aman-CERP/kbsearch/internal/strategy"
)

// fixedStats returns the same snapshot for every collection.
type fixedStats map[strategy.Strategy]feedback.StrategyStats

func (f fixedStats) Snapshot(collection string) feedback.Snapshot {
	snap := feedback.Snapshot{Collection: collection}
	for i, s := range strategy.Concrete {
		st := f[s]
		st.Strategy = s
		snap.Strategies[i] = st
	}
	return snap
}

func defaultSelectorConfig() SelectorConfig {
	return SelectorConfig{ShortQueryRunes: DefaultShortQueryRunes, MinFeedbackSamples: DefaultMinFeedbackSamples}
}

func TestSelector_Explain(t *testing.T) {
	hybridWinning := fixedStats{
		strategy.Hybrid:   {Positive: 18, Negative: 2},
		strategy.Semantic: {Positive: 14, Negative: 10},
	}
	hybridLosing := fixedStats{
		strategy.Hybrid:   {Positive: 12, Negative: 12},
		strategy.Semantic: {Positive: 20, Negative: 4},
	}
	hybridTooFew := fixedStats{
		strategy.Hybrid: {Positive: 5},
	}
	competitorTooFew := fixedStats{
		strategy.Hybrid:   {Positive: 15, Negative: 10},
		strategy.FullText: {Positive: 3},
	}

	tests := []struct {
		name     string
		stats    StatsSource
		query    string
		want     strategy.Strategy
		wantRule string
	}{
		{"error code is exact match", nil, "ERR_404 on login", strategy.FullText, RuleShortExact},
		{"quoted phrase", nil, `"connection reset"`, strategy.FullText, RuleShortExact},
		{"file path", nil, "where is internal/search/engine.go", strategy.FullText, RuleShortExact},
		{"camelCase identifier", nil, "getUserProfile usage", strategy.FullText, RuleShortExact},
		{"version string", nil, "changes in v1.4.2", strategy.FullText, RuleShortExact},
		{"long query ignores identifiers", nil,
			"please explain in detail how the getUserProfile function handles caching", strategy.Semantic, RuleDefault},
		{"natural language defaults to semantic", nil, "how do refunds work", strategy.Semantic, RuleDefault},
		{"hybrid leads with enough samples", hybridWinning, "how do refunds work", strategy.Hybrid, RuleHybridWinning},
		{"hybrid behind semantic", hybridLosing, "how do refunds work", strategy.Semantic, RuleDefault},
		{"hybrid below sample minimum", hybridTooFew, "how do refunds work", strategy.Semantic, RuleDefault},
		{"competitor below minimum is ignored", competitorTooFew, "how do refunds work", strategy.Hybrid, RuleHybridWinning},
		{"exact match beats feedback", hybridWinning, "ERR_404", strategy.FullText, RuleShortExact},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector(tt.stats, defaultSelectorConfig())

			got := s.Explain(tt.query, "docs")

			assert.Equal(t, tt.want, got.Strategy)
			assert.Equal(t, tt.wantRule, got.Rule)
			assert.Equal(t, tt.want, s.Select(tt.query, "docs"))
		})
	}
}

func TestSelector_Explain_ReportsToken(t *testing.T) {
	s := NewSelector(nil, defaultSelectorConfig())

	got := s.Explain("why ERR_503_EMBEDDING_FAILED?", "docs")

	assert.Equal(t, "ERR_503_EMBEDDING_FAILED", got.Token)
}

func TestSelector_Configure(t *testing.T) {
	// Given
	s := NewSelector(nil, defaultSelectorConfig())
	assert.Equal(t, strategy.FullText, s.Select("ERR_404", "docs"))

	// When: the short-query rule is switched off
	s.Configure(SelectorConfig{ShortQueryRunes: 0, MinFeedbackSamples: 20})

	// Then
	assert.Equal(t, strategy.Semantic, s.Select("ERR_404", "docs"))
}

func TestSelector_ZeroSamplesNeverLead(t *testing.T) {
	s := NewSelector(fixedStats{}, SelectorConfig{ShortQueryRunes: 40, MinFeedbackSamples: 0})

	assert.Equal(t, strategy.Semantic, s.Select("how do refunds work", "docs"))
}
