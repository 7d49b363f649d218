package feedback

import (
	"time"

	"github.com/Aman-CERP/kbsearch/internal/strategy"
)

// StrategyStats is the observed performance of one strategy in one collection.
type StrategyStats struct {
	Strategy   strategy.Strategy `json:"strategy"`
	Queries    int64             `json:"queries"`
	AvgLatency time.Duration     `json:"avg_latency"`
	Positive   int64             `json:"positive"`
	Negative   int64             `json:"negative"`
}

// Samples is the number of polarised feedback events.
func (s StrategyStats) Samples() int64 {
	return s.Positive + s.Negative
}

// PositiveRatio is positive / (positive + negative), or 0 without samples.
func (s StrategyStats) PositiveRatio() float64 {
	n := s.Samples()
	if n == 0 {
		return 0
	}
	return float64(s.Positive) / float64(n)
}

// Snapshot holds the stats of every concrete strategy for one collection.
type Snapshot struct {
	Collection string
	Strategies [3]StrategyStats
}

// Get returns the stats for s. Non-concrete strategies yield zero stats.
func (s Snapshot) Get(st strategy.Strategy) StrategyStats {
	if i := st.Index(); i >= 0 {
		return s.Strategies[i]
	}
	return StrategyStats{Strategy: st}
}
