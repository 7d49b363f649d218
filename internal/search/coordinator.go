package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/strategy"
)

// RunParams are the per-collection parameters of one pipeline run.
type RunParams struct {
	MaxResults int
	MinScore   float64
	// PoolFactor multiplies the backend candidate pool.
	PoolFactor   int
	Supplemental bool
}

// CollectionResult is one collection's optimised result list. Values held
// by the cache are shared and must not be modified.
type CollectionResult struct {
	Collection string
	Strategy   strategy.Strategy
	Results    []ScoredResult
	Clusters   []Cluster
	TotalFound int
	Degraded   bool
	CacheHit   bool
	Explain    Explain
}

// Pipeline produces one collection's results.
type Pipeline func(ctx context.Context, collection string, p RunParams) (*CollectionResult, error)

// CoordinatorConfig configures cross-collection fan-out.
type CoordinatorConfig struct {
	MaxParallelCollections  int
	AdaptiveMinResults      int
	SupplementalScoreFactor float64
}

// Coordinated is the merged outcome across collections.
type Coordinated struct {
	Results []ScoredResult
	// PerCollection is in query order; failed or skipped collections are nil.
	PerCollection []*CollectionResult
	Failures      []CollectionFailure
	Degraded      bool
}

// Coordinator fans a query out across collections and merges the answers.
type Coordinator struct {
	cfg    CoordinatorConfig
	logger *slog.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg CoordinatorConfig, logger *slog.Logger) *Coordinator {
	if cfg.MaxParallelCollections <= 0 {
		cfg.MaxParallelCollections = DefaultMaxParallelCollections
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{cfg: cfg, logger: logger}
}

// Run executes pipeline for every collection of q according to its fan-out
// mode and merges the lists according to its merge mode. q must already be
// validated with defaults applied.
func (c *Coordinator) Run(ctx context.Context, q Query, pipeline Pipeline) (*Coordinated, error) {
	base := RunParams{MaxResults: q.MaxResults, MinScore: q.minScore(), PoolFactor: 1}
	out := &Coordinated{PerCollection: make([]*CollectionResult, len(q.Collections))}
	errs := make([]error, len(q.Collections))

	var err error
	switch q.FanOut {
	case FanOutSequential:
		err = c.runSequential(ctx, q, base, pipeline, out.PerCollection, errs)
	case FanOutAdaptive:
		err = c.runParallel(ctx, q.Collections, base, pipeline, out.PerCollection, errs)
		if err == nil {
			err = c.supplement(ctx, q, pipeline, out.PerCollection)
		}
	default:
		err = c.runParallel(ctx, q.Collections, base, pipeline, out.PerCollection, errs)
	}
	if err != nil {
		return nil, err
	}

	failed := 0
	var causes []error
	for i, e := range errs {
		if e == nil {
			continue
		}
		failed++
		causes = append(causes, e)
		code := kberrors.GetCode(e)
		if code == "" {
			code = kberrors.ErrCodeInternal
		}
		out.Failures = append(out.Failures, CollectionFailure{
			Collection: q.Collections[i],
			Code:       code,
			Message:    e.Error(),
		})
	}
	if failed == len(q.Collections) {
		if failed == 1 {
			return nil, causes[0]
		}
		return nil, kberrors.New(kberrors.ErrCodeAllBackendsFailed, "every collection failed", errors.Join(causes...))
	}

	lists := make([][]ScoredResult, len(q.Collections))
	for i, cr := range out.PerCollection {
		if cr == nil {
			continue
		}
		lists[i] = cr.Results
		out.Degraded = out.Degraded || cr.Degraded
	}
	out.Degraded = out.Degraded || failed > 0
	out.Results = MergeCollections(lists, q.Collections, q.Merge, q.CollectionWeights, q.minScore(), q.MaxResults)
	return out, nil
}

func (c *Coordinator) runParallel(
	ctx context.Context,
	collections []string,
	p RunParams,
	pipeline Pipeline,
	results []*CollectionResult,
	errs []error,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxParallelCollections)
	for i, col := range collections {
		g.Go(func() error {
			r, err := pipeline(gctx, col, p)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				errs[i] = err
				return nil
			}
			results[i] = r
			return nil
		})
	}
	return g.Wait()
}

func (c *Coordinator) runSequential(
	ctx context.Context,
	q Query,
	p RunParams,
	pipeline Pipeline,
	results []*CollectionResult,
	errs []error,
) error {
	found := 0
	for i, col := range q.Collections {
		if q.Merge == MergeAppend && found >= q.MaxResults {
			c.logger.Debug("sequential_cap_filled", slog.Int("skipped", len(q.Collections)-i))
			break
		}
		r, err := pipeline(ctx, col, p)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs[i] = err
			continue
		}
		results[i] = r
		found += len(r.Results)
	}
	return nil
}

// supplement re-queries, one at a time, collections that returned fewer
// than AdaptiveMinResults results, with a relaxed minimum score and a
// doubled candidate pool. New documents are merged in by document id.
func (c *Coordinator) supplement(ctx context.Context, q Query, pipeline Pipeline, results []*CollectionResult) error {
	p := RunParams{
		MaxResults:   q.MaxResults,
		MinScore:     q.minScore() * c.cfg.SupplementalScoreFactor,
		PoolFactor:   2,
		Supplemental: true,
	}
	for i, cr := range results {
		if cr == nil || len(cr.Results) >= c.cfg.AdaptiveMinResults {
			continue
		}
		extra, err := pipeline(ctx, q.Collections[i], p)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("supplemental_fetch_failed",
				slog.String("collection", q.Collections[i]),
				slog.String("error", err.Error()))
			merged := *cr
			merged.Degraded = true
			results[i] = &merged
			continue
		}
		results[i] = mergeSupplemental(cr, extra, q.minScore(), q.MaxResults)
	}
	return nil
}

// mergeSupplemental adds documents from extra that base lacks and that
// still reach minScore, without cluster labels, re-sorted by score and
// capped. The relaxed fetch only widens the candidate pool.
func mergeSupplemental(base, extra *CollectionResult, minScore float64, limit int) *CollectionResult {
	merged := *base
	merged.Results = make([]ScoredResult, 0, len(base.Results)+len(extra.Results))
	merged.Results = append(merged.Results, base.Results...)

	seen := make(map[string]struct{}, len(base.Results))
	for _, r := range base.Results {
		seen[r.DocumentID] = struct{}{}
	}
	for _, r := range extra.Results {
		if _, ok := seen[r.DocumentID]; ok || r.Score < minScore {
			continue
		}
		seen[r.DocumentID] = struct{}{}
		r.Cluster = ""
		merged.Results = append(merged.Results, r)
	}
	sort.SliceStable(merged.Results, func(i, j int) bool {
		return merged.Results[i].Score > merged.Results[j].Score
	})
	if len(merged.Results) > limit {
		merged.Results = merged.Results[:limit]
	}
	merged.TotalFound = max(base.TotalFound, extra.TotalFound)
	merged.Degraded = base.Degraded || extra.Degraded
	merged.CacheHit = base.CacheHit && extra.CacheHit
	merged.Explain.Supplemental = true
	return &merged
}

// MergeCollections combines per-collection lists (in query order) into one
// list of at most limit results, none scoring below minScore. In weighted
// mode the bound applies after collection weights. Input slices are not
// modified.
func MergeCollections(
	lists [][]ScoredResult,
	collections []string,
	mode MergeMode,
	weights map[string]float64,
	minScore float64,
	limit int,
) []ScoredResult {
	sorted := make([][]ScoredResult, len(lists))
	total := 0
	for i, l := range lists {
		s := make([]ScoredResult, 0, len(l))
		for _, r := range l {
			if r.Score >= minScore {
				s = append(s, r)
			}
		}
		sort.SliceStable(s, func(a, b int) bool { return s[a].Score > s[b].Score })
		sorted[i] = s
		total += len(s)
	}

	var out []ScoredResult
	switch mode {
	case MergeAppend:
		out = make([]ScoredResult, 0, total)
		for _, l := range sorted {
			out = append(out, l...)
		}

	case MergeWeighted:
		type ranked struct {
			r     ScoredResult
			order int
			rank  int
		}
		all := make([]ranked, 0, total)
		for i, l := range sorted {
			w := 1.0
			if v, ok := weights[collections[i]]; ok {
				w = clamp01(v)
			}
			for rank, r := range l {
				r.Score = clamp01(r.Score * w)
				if r.Score < minScore {
					continue
				}
				all = append(all, ranked{r: r, order: i, rank: rank})
			}
		}
		sort.SliceStable(all, func(a, b int) bool {
			if all[a].r.Score != all[b].r.Score {
				return all[a].r.Score > all[b].r.Score
			}
			if all[a].order != all[b].order {
				return all[a].order < all[b].order
			}
			return all[a].rank < all[b].rank
		})
		out = make([]ScoredResult, len(all))
		for i, x := range all {
			out[i] = x.r
		}

	default: // interleave
		out = make([]ScoredResult, 0, total)
		for round := 0; len(out) < total; round++ {
			var batch []ScoredResult
			for _, l := range sorted {
				if round < len(l) {
					batch = append(batch, l[round])
				}
			}
			// Stable sort keeps query order for equal scores.
			sort.SliceStable(batch, func(a, b int) bool { return batch[a].Score > batch[b].Score })
			out = append(out, batch...)
			if len(out) >= limit {
				break
			}
		}
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
