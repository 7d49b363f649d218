package search

import (
	"math"
	"sort"
)

// Fused is a candidate after score fusion.
type Fused struct {
	DocID      string
	Collection string
	Score      float64

	// SemanticScore and FullTextScore are weighted, normalised contributions.
	SemanticScore float64
	FullTextScore float64

	// SemanticRank and FullTextRank are 1-based native ranks, 0 if absent.
	SemanticRank int
	FullTextRank int
}

// Merge fuses semantic and full-text candidates into one ranked list.
//
// Each side is min-max normalised within itself, then
//
//	score = w.Semantic × norm_semantic + w.FullText × norm_fulltext
//
// weights are used as given; callers pass Weights.For(strategy). A side
// with weight 0 contributes no documents. Results below minScore are
// dropped. Ordering is score desc, then native rank of the higher-weighted
// side (semantic when equal, absent ranks last), then document id.
func Merge(semantic, fulltext []Candidate, w Weights, minScore float64) []Fused {
	byID := make(map[string]*Fused, len(semantic)+len(fulltext))
	get := func(c Candidate) *Fused {
		if f, ok := byID[c.DocID]; ok {
			return f
		}
		f := &Fused{DocID: c.DocID, Collection: c.Collection}
		byID[c.DocID] = f
		return f
	}

	if w.Semantic > 0 {
		norm := minMax(semantic)
		for i, c := range semantic {
			f := get(c)
			f.SemanticScore = w.Semantic * norm[i]
			f.SemanticRank = c.Rank
		}
	}
	if w.FullText > 0 {
		norm := minMax(fulltext)
		for i, c := range fulltext {
			f := get(c)
			f.FullTextScore = w.FullText * norm[i]
			f.FullTextRank = c.Rank
		}
	}

	out := make([]Fused, 0, len(byID))
	for _, f := range byID {
		f.Score = clamp01(f.SemanticScore + f.FullTextScore)
		if f.Score < minScore {
			continue
		}
		out = append(out, *f)
	}

	semanticFirst := w.Semantic >= w.FullText
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ra, rb := a.FullTextRank, b.FullTextRank
		if semanticFirst {
			ra, rb = a.SemanticRank, b.SemanticRank
		}
		if ra != rb {
			return rankBefore(ra, rb)
		}
		return a.DocID < b.DocID
	})
	return out
}

// minMax normalises candidate scores into [0,1]. An all-equal side maps to
// 1, or to 0 when every score is zero.
func minMax(cs []Candidate) []float64 {
	out := make([]float64, len(cs))
	if len(cs) == 0 {
		return out
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range cs {
		s := finite(c.Score)
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	for i, c := range cs {
		switch {
		case hi == lo && hi == 0:
			out[i] = 0
		case hi == lo:
			out[i] = 1
		default:
			out[i] = (finite(c.Score) - lo) / (hi - lo)
		}
	}
	return out
}

// rankBefore orders 1-based ranks with 0 (absent) last.
func rankBefore(a, b int) bool {
	if a == 0 {
		return false
	}
	if b == 0 {
		return true
	}
	return a < b
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
