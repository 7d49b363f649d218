package search

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/kbsearch/internal/embed"
)

// clusterNameRunes bounds default cluster names.
const clusterNameRunes = 48

// SimilarityFunc returns the similarity of two results. Values are
// clamped into [0,1] by the builder.
type SimilarityFunc func(a, b *ScoredResult) float64

// NamingFunc names a cluster from its representative. index is 1-based.
type NamingFunc func(representative *ScoredResult, index int) string

// ClusterBuilder groups related results with greedy single linkage.
type ClusterBuilder struct {
	similarity SimilarityFunc
	naming     NamingFunc
}

// NewClusterBuilder creates a builder. Nil functions fall back to token
// Jaccard similarity and DefaultClusterName.
func NewClusterBuilder(similarity SimilarityFunc, naming NamingFunc) *ClusterBuilder {
	if similarity == nil {
		similarity = JaccardSimilarity
	}
	if naming == nil {
		naming = DefaultClusterName
	}
	return &ClusterBuilder{similarity: similarity, naming: naming}
}

// Build assigns each result, in rank order, to the first cluster whose
// representative (first member) is at least threshold similar, or starts
// a new cluster. Result order is unchanged; each result's Cluster label is
// set on the returned copy.
func (b *ClusterBuilder) Build(results []ScoredResult, threshold float64) ([]ScoredResult, []Cluster) {
	out := make([]ScoredResult, len(results))
	copy(out, results)
	if len(out) == 0 {
		return out, nil
	}

	var reps []int // index into out of each cluster's representative
	var members [][]int
	for i := range out {
		placed := false
		for c, rep := range reps {
			if b.similar(&out[rep], &out[i]) >= threshold {
				members[c] = append(members[c], i)
				placed = true
				break
			}
		}
		if !placed {
			reps = append(reps, i)
			members = append(members, []int{i})
		}
	}

	clusters := make([]Cluster, len(reps))
	used := make(map[string]int, len(reps))
	for c, rep := range reps {
		name := b.naming(&out[rep], c+1)
		if n := used[name]; n > 0 {
			used[name] = n + 1
			name = fmt.Sprintf("%s (%d)", name, n+1)
		} else {
			used[name] = 1
		}

		ids := make([]string, len(members[c]))
		for j, m := range members[c] {
			out[m].Cluster = name
			ids[j] = out[m].ID
		}
		clusters[c] = Cluster{Name: name, Collection: out[rep].Collection, Members: ids, Count: len(ids)}
	}
	return out, clusters
}

func (b *ClusterBuilder) similar(a, c *ScoredResult) float64 {
	if a.Content == c.Content && a.Title == c.Title {
		return 1
	}
	return clamp01(b.similarity(a, c))
}

// DefaultClusterName uses the representative's title, then its content,
// truncated to 48 runes, then "Cluster N".
func DefaultClusterName(rep *ScoredResult, index int) string {
	for _, s := range []string{rep.Title, rep.Content} {
		s = strings.Join(strings.Fields(s), " ")
		if s != "" {
			return truncateRunes(s, clusterNameRunes)
		}
	}
	return fmt.Sprintf("Cluster %d", index)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// JaccardSimilarity compares the token sets of two results' content.
func JaccardSimilarity(a, b *ScoredResult) float64 {
	ta := tokenSet(a.Content)
	tb := tokenSet(b.Content)
	if len(ta) == 0 && len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(ta)+len(tb)-inter)
}

func tokenSet(s string) map[string]struct{} {
	toks := embed.Tokenize(s)
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}

// VectorSimilarity compares results by the cosine of their document
// vectors, keyed by document id. Pairs without vectors use Jaccard.
func VectorSimilarity(vectors map[string][]float32) SimilarityFunc {
	cache := make(map[string][]float64, len(vectors))
	lookup := func(id string) ([]float64, bool) {
		if v, ok := cache[id]; ok {
			return v, true
		}
		raw, ok := vectors[id]
		if !ok || len(raw) == 0 {
			return nil, false
		}
		v := toFloat64(raw)
		cache[id] = v
		return v, true
	}
	return func(a, b *ScoredResult) float64 {
		va, okA := lookup(a.DocumentID)
		vb, okB := lookup(b.DocumentID)
		if !okA || !okB {
			return JaccardSimilarity(a, b)
		}
		return cosine(va, vb)
	}
}
