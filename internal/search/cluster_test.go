package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contentResults(contents ...string) []ScoredResult {
	out := make([]ScoredResult, len(contents))
	for i, c := range contents {
		id := string(rune('a' + i))
		out[i] = ScoredResult{ID: id, DocumentID: id, Collection: "docs", Content: c}
	}
	return out
}

func TestClusterBuilder_GroupsSimilarResults(t *testing.T) {
	// Given
	in := contentResults(
		"reset password from the login page",
		"quarterly revenue report",
		"reset password from the login page today",
		"something unrelated entirely",
	)
	b := NewClusterBuilder(nil, nil)

	// When
	out, clusters := b.Build(in, 0.8)

	// Then
	require.Len(t, clusters, 3)
	assert.Equal(t, []string{"a", "c"}, clusters[0].Members)
	assert.Equal(t, 2, clusters[0].Count)
	assert.Equal(t, "docs", clusters[0].Collection)
	assert.Equal(t, out[0].Cluster, out[2].Cluster)
	assert.NotEqual(t, out[0].Cluster, out[1].Cluster)
	assert.Equal(t, resultIDs(in), resultIDs(out), "order is unchanged")
	assert.Empty(t, in[0].Cluster, "input is not modified")
}

func TestClusterBuilder_ThresholdOneSplitsDistinctContent(t *testing.T) {
	in := contentResults("alpha beta", "alpha beta gamma", "alpha beta")

	_, clusters := NewClusterBuilder(nil, nil).Build(in, 1)

	require.Len(t, clusters, 2)
	assert.Equal(t, []string{"a", "c"}, clusters[0].Members)
}

func TestClusterBuilder_ThresholdZeroSingleCluster(t *testing.T) {
	in := contentResults("alpha", "beta", "gamma")

	_, clusters := NewClusterBuilder(nil, nil).Build(in, 0)

	require.Len(t, clusters, 1)
	assert.Equal(t, 3, clusters[0].Count)
}

func TestClusterBuilder_DuplicateNamesGetSuffix(t *testing.T) {
	// Given: every cluster would be called "Topic"
	naming := func(*ScoredResult, int) string { return "Topic" }
	b := NewClusterBuilder(func(*ScoredResult, *ScoredResult) float64 { return 0 }, naming)

	// When
	out, clusters := b.Build(contentResults("x", "y", "z"), 0.5)

	// Then
	require.Len(t, clusters, 3)
	assert.Equal(t, "Topic", clusters[0].Name)
	assert.Equal(t, "Topic (2)", clusters[1].Name)
	assert.Equal(t, "Topic (3)", clusters[2].Name)
	assert.Equal(t, "Topic (3)", out[2].Cluster)
}

func TestClusterBuilder_Empty(t *testing.T) {
	out, clusters := NewClusterBuilder(nil, nil).Build(nil, 0.8)

	assert.Empty(t, out)
	assert.Nil(t, clusters)
}

func TestDefaultClusterName(t *testing.T) {
	long := strings.Repeat("word ", 20)

	assert.Equal(t, "Runbook", DefaultClusterName(&ScoredResult{Title: "  Runbook ", Content: "x"}, 1))
	assert.Equal(t, "first line", DefaultClusterName(&ScoredResult{Content: "first\n line"}, 1))
	assert.Len(t, []rune(DefaultClusterName(&ScoredResult{Content: long}, 1)), clusterNameRunes)
	assert.Equal(t, "Cluster 4", DefaultClusterName(&ScoredResult{}, 4))
}

func TestJaccardSimilarity(t *testing.T) {
	a := &ScoredResult{Content: "alpha beta"}
	b := &ScoredResult{Content: "beta gamma"}

	assert.InDelta(t, 1.0/3.0, JaccardSimilarity(a, b), 1e-9)
	assert.Equal(t, 0.0, JaccardSimilarity(&ScoredResult{}, &ScoredResult{}))
}

func TestVectorSimilarity(t *testing.T) {
	// Given
	sim := VectorSimilarity(map[string][]float32{
		"a": {1, 0},
		"b": {1, 0},
		"c": {0, 1},
	})
	ra := &ScoredResult{DocumentID: "a", Content: "one"}
	rb := &ScoredResult{DocumentID: "b", Content: "two"}
	rc := &ScoredResult{DocumentID: "c", Content: "three"}
	missing := &ScoredResult{DocumentID: "z", Content: "one"}

	// Then
	assert.InDelta(t, 1.0, sim(ra, rb), 1e-9)
	assert.InDelta(t, 0.0, sim(ra, rc), 1e-9)
	assert.InDelta(t, 1.0, sim(ra, missing), 1e-9, "falls back to token overlap")
}
