package search

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbsearch/internal/embed"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

func rankedResults(ids ...string) []ScoredResult {
	out := make([]ScoredResult, len(ids))
	for i, id := range ids {
		out[i] = ScoredResult{
			ID:         id,
			DocumentID: id,
			Content:    "content " + id,
			Score:      1 - float64(i)*0.1,
		}
	}
	return out
}

func TestRerankStage_Apply_ReordersOnlyTopK(t *testing.T) {
	// Given
	rr := &fakeReranker{scores: map[string]float64{
		"content a": 0.2,
		"content b": 0.9,
	}}
	stage := NewRerankStage(rr, 2, discardLogger())
	in := rankedResults("a", "b", "c", "d")

	// When
	out, degraded := stage.Apply(context.Background(), "q", in, 0)

	// Then
	require.False(t, degraded)
	assert.Equal(t, []string{"b", "a", "c", "d"}, resultIDs(out))
	assert.Equal(t, 0.9, out[0].Score)
	require.NotNil(t, out[0].RerankScore)
	assert.Nil(t, out[2].RerankScore)
	assert.Equal(t, in[2].Score, out[2].Score)
	assert.Equal(t, "a", in[0].ID, "input is not modified")
}

func TestRerankStage_Apply_DropsBelowMinScore(t *testing.T) {
	rr := &fakeReranker{scores: map[string]float64{
		"content a": 0.1,
		"content b": 0.8,
	}}
	stage := NewRerankStage(rr, 5, discardLogger())

	out, degraded := stage.Apply(context.Background(), "q", rankedResults("a", "b"), 0.5)

	assert.False(t, degraded)
	assert.Equal(t, []string{"b"}, resultIDs(out))
}

func TestRerankStage_Apply_ClampsScores(t *testing.T) {
	rr := &fakeReranker{scores: map[string]float64{"content a": 7.5, "content b": -2}}
	stage := NewRerankStage(rr, 5, discardLogger())

	out, _ := stage.Apply(context.Background(), "q", rankedResults("a", "b"), 0)

	assert.Equal(t, 1.0, out[0].Score)
	assert.Equal(t, 0.0, out[1].Score)
}

func TestRerankStage_Apply_Degraded(t *testing.T) {
	tests := []struct {
		name     string
		reranker Reranker
	}{
		{"no reranker", nil},
		{"no-op reranker", NoOpReranker{}},
		{"error", &fakeReranker{err: errors.New("model crashed")}},
		{"incomplete response", &fakeReranker{scores: map[string]float64{"content a": 0.5}}},
		{"non-finite score", &fakeReranker{scores: map[string]float64{"content a": math.NaN(), "content b": 0.3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage := NewRerankStage(tt.reranker, 5, discardLogger())
			in := rankedResults("a", "b")

			out, degraded := stage.Apply(context.Background(), "q", in, 0)

			assert.True(t, degraded)
			assert.Equal(t, in, out)
		})
	}
}

func TestRerankStage_Apply_EmptyInput(t *testing.T) {
	rr := &fakeReranker{}
	stage := NewRerankStage(rr, 5, discardLogger())

	out, degraded := stage.Apply(context.Background(), "q", nil, 0)

	assert.Empty(t, out)
	assert.False(t, degraded)
	assert.Equal(t, int64(0), rr.calls.Load())
}

func TestRerankStage_SetTopK(t *testing.T) {
	rr := &fakeReranker{scores: map[string]float64{"content a": 0.1}}
	stage := NewRerankStage(rr, 5, discardLogger())

	stage.SetTopK(1)
	out, degraded := stage.Apply(context.Background(), "q", rankedResults("a", "b"), 0)

	assert.False(t, degraded)
	assert.Equal(t, []string{"a", "b"}, resultIDs(out))
	assert.Equal(t, 0.1, out[0].Score)
}

func TestNoOpReranker_Unavailable(t *testing.T) {
	_, err := NoOpReranker{}.Rerank(context.Background(), "q", nil)

	assert.ErrorIs(t, err, kberrors.ErrRerankUnavailable)
}

// =============================================================================
// EmbeddingReranker
// =============================================================================

func TestEmbeddingReranker_PrefersSimilarText(t *testing.T) {
	// Given
	r := NewEmbeddingReranker(embed.NewHashEmbedder(256))
	docs := []RerankDocument{
		{ID: "off", Text: "quarterly revenue spreadsheet"},
		{ID: "on", Text: "rotate database credentials"},
	}

	// When
	scores, err := r.Rerank(context.Background(), "rotate database credentials", docs)

	// Then
	require.NoError(t, err)
	require.Len(t, scores, 2)
	byID := map[string]float64{}
	for _, s := range scores {
		assert.GreaterOrEqual(t, s.Score, 0.0)
		assert.LessOrEqual(t, s.Score, 1.0)
		byID[s.ID] = s.Score
	}
	assert.Greater(t, byID["on"], byID["off"])
	assert.InDelta(t, 1.0, byID["on"], 1e-6)
}

func TestEmbeddingReranker_NoEmbedder(t *testing.T) {
	_, err := NewEmbeddingReranker(nil).Rerank(context.Background(), "q", []RerankDocument{{ID: "a", Text: "x"}})

	assert.ErrorIs(t, err, kberrors.ErrRerankUnavailable)
}
