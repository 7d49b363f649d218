package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/strategy"
)

// parseSearchFlags parses args with the search command's flags.
func parseSearchFlags(t *testing.T, args ...string) (*cobra.Command, *searchOptions) {
	t.Helper()
	var opts searchOptions
	cmd := &cobra.Command{Use: "search"}
	addSearchFlags(cmd.Flags(), &opts)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd, &opts
}

// =============================================================================
// buildQuery
// =============================================================================

func TestBuildQuery_Defaults(t *testing.T) {
	// Given: only collections on the command line
	cmd, opts := parseSearchFlags(t, "-c", "docs", "-c", "wiki")

	// When: building the query
	q, err := buildQuery(cmd, "reset password", *opts)

	// Then: unset options are left for the engine settings
	require.NoError(t, err)
	assert.Equal(t, "reset password", q.Text)
	assert.Equal(t, []string{"docs", "wiki"}, q.Collections)
	assert.Equal(t, strategy.Auto, q.Strategy)
	assert.Nil(t, q.Weights)
	assert.Nil(t, q.ClusterThreshold)
	assert.Nil(t, q.MinScore)
	assert.Zero(t, q.MaxResults)
	assert.Equal(t, search.FanOutParallel, q.FanOut)
	assert.Equal(t, search.MergeInterleave, q.Merge)
}

func TestBuildQuery_ExplicitOptions(t *testing.T) {
	// Given: weights, thresholds and merge options
	cmd, opts := parseSearchFlags(t,
		"-c", "docs", "-s", "hybrid",
		"--semantic-weight", "0.5", "--fulltext-weight", "0.5",
		"--cluster", "--cluster-threshold", "0.6",
		"-n", "25", "--merge", "weighted", "--weight", "docs=2",
		"--fan-out", "adaptive", "--rerank", "--explain")

	// When: building the query
	q, err := buildQuery(cmd, "onboarding", *opts)

	// Then: every option is carried over
	require.NoError(t, err)
	assert.Equal(t, strategy.Hybrid, q.Strategy)
	require.NotNil(t, q.Weights)
	assert.Equal(t, search.Weights{Semantic: 0.5, FullText: 0.5}, *q.Weights)
	require.NotNil(t, q.ClusterThreshold)
	assert.InDelta(t, 0.6, *q.ClusterThreshold, 1e-9)
	assert.True(t, q.UseClustering)
	assert.True(t, q.UseReranking)
	assert.True(t, q.Explain)
	assert.Equal(t, 25, q.MaxResults)
	assert.Equal(t, search.MergeWeighted, q.Merge)
	assert.Equal(t, search.FanOutAdaptive, q.FanOut)
	assert.Equal(t, map[string]float64{"docs": 2}, q.CollectionWeights)
}

func TestBuildQuery_ZeroMinScoreIsExplicit(t *testing.T) {
	cmd, opts := parseSearchFlags(t, "-c", "docs", "--min-score", "0")

	q, err := buildQuery(cmd, "q", *opts)

	require.NoError(t, err)
	require.NotNil(t, q.MinScore)
	assert.Zero(t, *q.MinScore)
}

func TestBuildQuery_OneWeightFlagSetsBoth(t *testing.T) {
	// Given: only the semantic weight
	cmd, opts := parseSearchFlags(t, "-c", "docs", "--semantic-weight", "1")

	// When: building the query
	q, err := buildQuery(cmd, "q", *opts)

	// Then: the full-text weight is zero rather than the default
	require.NoError(t, err)
	require.NotNil(t, q.Weights)
	assert.Equal(t, search.Weights{Semantic: 1, FullText: 0}, *q.Weights)
}

func TestBuildQuery_RejectsUnknownStrategy(t *testing.T) {
	// Given: a strategy that does not exist
	cmd, opts := parseSearchFlags(t, "-c", "docs", "-s", "magic")

	// When: building the query
	_, err := buildQuery(cmd, "q", *opts)

	// Then: it fails as an invalid query
	require.Error(t, err)
	kb, ok := kberrors.As(err)
	require.True(t, ok)
	assert.Equal(t, kberrors.ErrCodeInvalidQuery, kb.Code)
}

func TestBuildQuery_RejectsUnknownMerge(t *testing.T) {
	// Given: an unknown merge mode
	cmd, opts := parseSearchFlags(t, "-c", "docs", "--merge", "zipper")

	// When: building the query
	_, err := buildQuery(cmd, "q", *opts)

	// Then: it fails
	assert.Error(t, err)
}

func TestParseCollectionWeights(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]string
		want    map[string]float64
		wantErr bool
	}{
		{name: "empty", raw: nil, want: nil},
		{name: "numbers", raw: map[string]string{"a": "2", "b": " 0.5 "}, want: map[string]float64{"a": 2, "b": 0.5}},
		{name: "not a number", raw: map[string]string{"a": "heavy"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCollectionWeights(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// End to end
// =============================================================================

const helpCenterDocs = `{"id":"pw-reset","title":"Reset your password","content":"Open settings and choose reset password to get an email link."}
{"id":"billing","title":"Update billing details","content":"Change the card on file from the billing page."}
{"id":"sso","title":"Single sign-on","content":"Connect your identity provider to enable SSO for the workspace."}
`

func TestSearch_EndToEnd(t *testing.T) {
	// Given: a collection with ingested documents
	env := newTestEnv(t)
	_, err := env.runWithInput(t, strings.NewReader(helpCenterDocs), "ingest", "help", "-", "--create")
	require.NoError(t, err)

	// When: searching it with full text
	out, err := env.run(t, "search", "password", "-c", "help", "-s", "fulltext", "--format", "json")

	// Then: the matching document comes first
	require.NoError(t, err)
	var resp search.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "pw-reset", resp.Results[0].DocumentID)
	assert.Equal(t, "help", resp.Results[0].Collection)
	assert.NotEmpty(t, resp.Results[0].ID)
	assert.Equal(t, strategy.FullText, resp.Strategy)
}

func TestSearch_TextOutput(t *testing.T) {
	// Given: a collection with ingested documents
	env := newTestEnv(t)
	_, err := env.runWithInput(t, strings.NewReader(helpCenterDocs), "ingest", "help", "-", "--create")
	require.NoError(t, err)

	// When: searching with the default text format
	out, err := env.run(t, "search", "billing", "-c", "help", "-s", "fulltext")

	// Then: the result title is printed
	require.NoError(t, err)
	assert.Contains(t, out, "Update billing details")
}

func TestSearch_UnknownCollection(t *testing.T) {
	// Given: an empty data directory
	env := newTestEnv(t)

	// When: searching a collection that does not exist
	_, err := env.run(t, "search", "anything", "-c", "missing")

	// Then: the error names the collection
	require.Error(t, err)
	kb, ok := kberrors.As(err)
	require.True(t, ok)
	assert.Equal(t, kberrors.ErrCodeUnknownCollection, kb.Code)
}

func TestSearch_RequiresCollection(t *testing.T) {
	// Given: an isolated environment
	env := newTestEnv(t)

	// When: searching without --collection
	_, err := env.run(t, "search", "anything")

	// Then: cobra rejects it
	assert.Error(t, err)
}

func TestFeedback_SubmitAndShow(t *testing.T) {
	// Given: a search result id
	env := newTestEnv(t)
	_, err := env.runWithInput(t, strings.NewReader(helpCenterDocs), "ingest", "help", "-", "--create")
	require.NoError(t, err)
	out, err := env.run(t, "search", "password", "-c", "help", "-s", "fulltext", "--format", "json")
	require.NoError(t, err)
	var resp search.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Results)
	resultID := resp.Results[0].ID

	// When: submitting feedback from a separate invocation
	out, err = env.run(t, "feedback", "submit", resultID, "--kind", "like", "--comment", "exactly it")
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded")

	// Then: show reports it against the result
	out, err = env.run(t, "feedback", "show", resultID, "--json")
	require.NoError(t, err)
	var report struct {
		Summary store.FeedbackSummary   `json:"summary"`
		Events  []*store.FeedbackRecord `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Positive)
	require.Len(t, report.Events, 1)
	assert.Equal(t, "exactly it", report.Events[0].Comment)
	assert.Equal(t, "help", report.Events[0].Collection)
}

func TestFeedback_UnknownResult(t *testing.T) {
	// Given: an isolated environment
	env := newTestEnv(t)

	// When: submitting feedback for an id no search produced
	_, err := env.run(t, "feedback", "submit", "no-such-result")

	// Then: it fails as an unknown result
	require.Error(t, err)
	kb, ok := kberrors.As(err)
	require.True(t, ok)
	assert.Equal(t, kberrors.ErrCodeUnknownResult, kb.Code)
}
