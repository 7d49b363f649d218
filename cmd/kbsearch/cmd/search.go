package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/strategy"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	collections       []string
	strategy          string
	semanticWeight    float64
	fullTextWeight    float64
	limit             int
	minScore          float64
	rerank            bool
	cluster           bool
	clusterThreshold  float64
	fanOut            string
	merge             string
	collectionWeights map[string]string
	explain           bool
	format            string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search one or more collections",
		Long: `Search one or more collections.

Unless --strategy is given, each collection gets the strategy that suits the
query: full text for short queries with exact-match tokens, otherwise the
strategy with the best feedback once enough has been collected, otherwise
hybrid.`,
		Example: `  kbsearch search "reset password" -c help-center
  kbsearch search "ERR_CONN_RESET" -c runbooks -c wiki --merge weighted --weight runbooks=2
  kbsearch search "onboarding checklist" -c hr --strategy hybrid --semantic-weight 0.5 --fulltext-weight 0.5
  kbsearch search "rate limits" -c api-docs --rerank --cluster --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	addSearchFlags(cmd.Flags(), &opts)
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

func addSearchFlags(f *pflag.FlagSet, opts *searchOptions) {
	f.StringSliceVarP(&opts.collections, "collection", "c", nil, "Collection to search (repeatable)")
	f.StringVarP(&opts.strategy, "strategy", "s", "auto", "Strategy: auto, semantic, fulltext, hybrid")
	f.Float64Var(&opts.semanticWeight, "semantic-weight", 0, "Semantic weight for hybrid fusion (default from settings)")
	f.Float64Var(&opts.fullTextWeight, "fulltext-weight", 0, "Full-text weight for hybrid fusion (default from settings)")
	f.IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from settings)")
	f.Float64Var(&opts.minScore, "min-score", 0, "Drop results scoring below this value (default from settings)")
	f.BoolVar(&opts.rerank, "rerank", false, "Rescore the top results with the reranker")
	f.BoolVar(&opts.cluster, "cluster", false, "Group related results")
	f.Float64Var(&opts.clusterThreshold, "cluster-threshold", 0, "Similarity needed to join a cluster (default from settings)")
	f.StringVar(&opts.fanOut, "fan-out", "parallel", "Fan-out: parallel, sequential, adaptive")
	f.StringVar(&opts.merge, "merge", "interleave", "Merge: interleave, append, weighted")
	f.StringToStringVar(&opts.collectionWeights, "weight", nil, "Per-collection weight for weighted merges, e.g. docs=2")
	f.BoolVar(&opts.explain, "explain", false, "Show how each collection's strategy was chosen")
	f.StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
}

// buildQuery turns flags into a query. Flags left unset fall back to the
// engine settings.
func buildQuery(cmd *cobra.Command, text string, opts searchOptions) (search.Query, error) {
	s, err := strategy.Parse(opts.strategy)
	if err != nil {
		return search.Query{}, kberrors.InvalidQuery("%s", err.Error())
	}
	fanOut, err := search.ParseFanOutMode(opts.fanOut)
	if err != nil {
		return search.Query{}, err
	}
	merge, err := search.ParseMergeMode(opts.merge)
	if err != nil {
		return search.Query{}, err
	}

	weights, err := parseCollectionWeights(opts.collectionWeights)
	if err != nil {
		return search.Query{}, err
	}

	q := search.Query{
		Text:              text,
		Collections:       opts.collections,
		Strategy:          s,
		MaxResults:        opts.limit,
		UseReranking:      opts.rerank,
		UseClustering:     opts.cluster,
		FanOut:            fanOut,
		Merge:             merge,
		CollectionWeights: weights,
		Explain:           opts.explain,
	}

	flags := cmd.Flags()
	if flags.Changed("semantic-weight") || flags.Changed("fulltext-weight") {
		w := search.Weights{Semantic: opts.semanticWeight, FullText: opts.fullTextWeight}
		q.Weights = &w
	}
	if flags.Changed("min-score") {
		m := opts.minScore
		q.MinScore = &m
	}
	if flags.Changed("cluster-threshold") {
		t := opts.clusterThreshold
		q.ClusterThreshold = &t
	}
	return q, nil
}

func parseCollectionWeights(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(raw))
	for id, v := range raw {
		w, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, kberrors.InvalidQuery("weight for collection %s is not a number: %q", id, v)
		}
		out[id] = w
	}
	return out, nil
}

func runSearch(ctx context.Context, cmd *cobra.Command, text string, opts searchOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", opts.format)
	}
	q, err := buildQuery(cmd, text, opts)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, appOptions{loadIndexes: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	a.logger.Info("search_started",
		slog.String("query", text),
		slog.Any("collections", q.Collections),
		slog.String("strategy", string(q.Strategy)))

	resp, err := a.engine.Search(ctx, q)
	if err != nil {
		a.logger.Warn("search_failed", slog.String("error", err.Error()))
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	output.New(cmd.OutOrStdout()).Results(text, resp)
	return nil
}
