package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/kbsearch/internal/cache"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/feedback"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/strategy"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
)

// Feedback is the aggregator surface the engine needs.
// *feedback.Aggregator implements it.
type Feedback interface {
	StatsSource
	Record(ctx context.Context, ev feedback.Event) (feedback.Ack, error)
	ObserveQuery(collection string, s strategy.Strategy, latency time.Duration)
	Track(results []feedback.Provenance)
}

// SettingsStore persists runtime settings. *store.SQLiteStore implements it.
type SettingsStore interface {
	PutSetting(ctx context.Context, key, value string) error
}

// EngineConfig holds the settings that are fixed for the engine's lifetime.
type EngineConfig struct {
	// Settings are the initial runtime settings; see UpdateSettings.
	Settings Settings

	MaxParallelCollections int
	BackendTimeout         time.Duration
	RequestTimeout         time.Duration

	// CandidateMultiplier sizes the backend pool relative to the result cap.
	CandidateMultiplier int

	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Settings:               DefaultSettings(),
		MaxParallelCollections: DefaultMaxParallelCollections,
		BackendTimeout:         DefaultBackendTimeout,
		RequestTimeout:         DefaultRequestTimeout,
		CandidateMultiplier:    DefaultCandidateMultiplier,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithReranker sets the reranking capability. Without one, reranking
// requests are served degraded.
func WithReranker(r Reranker) Option {
	return func(e *Engine) { e.reranker = r }
}

// WithVectorSource enables vector-based cluster similarity.
func WithVectorSource(v VectorSource) Option {
	return func(e *Engine) { e.vectors = v }
}

// WithClusterNaming overrides DefaultClusterName.
func WithClusterNaming(n NamingFunc) Option {
	return func(e *Engine) { e.naming = n }
}

// WithSettingsStore persists settings passed to UpdateSettings.
func WithSettingsStore(s SettingsStore) Option {
	return func(e *Engine) { e.settingsStore = s }
}

// WithCatalog rejects queries naming collections the catalog does not know.
func WithCatalog(c store.CollectionCatalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithMetrics reports every search and feedback event to r.
func WithMetrics(r telemetry.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine orchestrates searches across collections.
type Engine struct {
	cfg      EngineConfig
	settings atomic.Pointer[Settings]
	updateMu sync.Mutex

	selector   *Selector
	dispatcher *Dispatcher
	rerank     *RerankStage
	cache      atomic.Pointer[cache.Cache[*CollectionResult]]
	cacheOnce  sync.Once

	feedback Feedback
	docs     store.DocumentStore

	reranker      Reranker
	vectors       VectorSource
	naming        NamingFunc
	settingsStore SettingsStore
	catalog       store.CollectionCatalog
	metrics       telemetry.Recorder
	logger        *slog.Logger
}

// NewEngine wires an engine. Either backend may be nil; strategies that
// need a missing backend fail with BackendUnavailable.
func NewEngine(
	semantic SemanticBackend,
	fulltext FullTextBackend,
	docs store.DocumentStore,
	fb Feedback,
	cfg EngineConfig,
	opts ...Option,
) (*Engine, error) {
	if docs == nil {
		return nil, kberrors.ConfigError("document store is required", nil)
	}
	if fb == nil {
		return nil, kberrors.ConfigError("feedback aggregator is required", nil)
	}
	def := DefaultEngineConfig()
	if cfg.MaxParallelCollections <= 0 {
		cfg.MaxParallelCollections = def.MaxParallelCollections
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = def.BackendTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = def.CandidateMultiplier
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, feedback: fb, docs: docs}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	st := cfg.Settings
	e.settings.Store(&st)
	e.selector = NewSelector(fb, selectorConfig(st))
	e.dispatcher = NewDispatcher(semantic, fulltext, DispatcherConfig{
		BackendTimeout:      cfg.BackendTimeout,
		BreakerMaxFailures:  cfg.BreakerMaxFailures,
		BreakerResetTimeout: cfg.BreakerResetTimeout,
	}, e.logger)
	e.rerank = NewRerankStage(e.reranker, st.RerankTopK, e.logger)
	e.configureCache(st)
	return e, nil
}

func selectorConfig(s Settings) SelectorConfig {
	return SelectorConfig{ShortQueryRunes: s.ShortQueryRunes, MinFeedbackSamples: s.MinFeedbackSamples}
}

// configureCache creates, resizes or disables the result cache.
func (e *Engine) configureCache(s Settings) {
	if s.CacheCapacity <= 0 {
		e.cache.Store(nil)
		e.cacheOnce.Do(func() {
			e.logger.Warn("cache_unavailable", slog.String("reason", "capacity is zero"))
		})
		return
	}
	if c := e.cache.Load(); c != nil {
		c.Resize(s.CacheCapacity)
		c.SetDefaultTTL(s.CacheTTL)
		return
	}
	c, err := cache.New(cache.Options[*CollectionResult]{
		Capacity:      s.CacheCapacity,
		DefaultTTL:    s.CacheTTL,
		Sizer:         resultSize,
		FlightTimeout: e.cfg.RequestTimeout,
	})
	if err != nil {
		e.cacheOnce.Do(func() {
			e.logger.Warn("cache_unavailable", slog.String("error", err.Error()))
		})
		return
	}
	e.cache.Store(c)
}

func resultSize(cr *CollectionResult) int {
	if cr == nil {
		return 0
	}
	n := 256
	for _, r := range cr.Results {
		n += 128 + len(r.ID) + len(r.DocumentID) + len(r.Title) + len(r.Content)
		for k, v := range r.Metadata {
			n += len(k) + len(v)
		}
	}
	return n
}

// Settings returns the current runtime settings.
func (e *Engine) Settings() Settings {
	return *e.settings.Load()
}

// Search answers q. Validation errors are returned before any backend is
// called. The request is bounded by RequestTimeout; on expiry it fails
// with Timeout and no partial results.
func (e *Engine) Search(ctx context.Context, q Query) (*SearchResponse, error) {
	start := time.Now()
	st := e.Settings()

	q, err := e.prepare(ctx, q, st)
	if err != nil {
		e.recordFailure(q, err, start)
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	coord := NewCoordinator(CoordinatorConfig{
		MaxParallelCollections:  e.cfg.MaxParallelCollections,
		AdaptiveMinResults:      st.AdaptiveMinResults,
		SupplementalScoreFactor: st.SupplementalScoreFactor,
	}, e.logger)

	out, err := coord.Run(reqCtx, q, func(ctx context.Context, collection string, p RunParams) (*CollectionResult, error) {
		return e.runCollection(ctx, q, st, collection, p)
	})
	if err == nil && reqCtx.Err() != nil && ctx.Err() == nil {
		err = reqCtx.Err()
	}
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = kberrors.Timeout("search", err).
				WithDetail("timeout", e.cfg.RequestTimeout.String())
		}
		e.recordFailure(q, err, start)
		return nil, err
	}

	resp := e.buildResponse(q, out, start)
	e.track(resp.Results)

	if e.metrics != nil {
		e.metrics.Record(telemetry.QueryEvent{
			Query:       q.Text,
			Collections: q.Collections,
			Strategy:    string(resp.Strategy),
			ResultCount: len(resp.Results),
			Latency:     resp.Elapsed,
			CacheHit:    resp.CacheHit,
			Degraded:    resp.Degraded,
			Timestamp:   start,
		})
	}

	e.logger.Info("search_completed",
		slog.String("strategy", string(resp.Strategy)),
		slog.Int("collections", len(q.Collections)),
		slog.Int("results", len(resp.Results)),
		slog.Int("total_found", resp.TotalFound),
		slog.Bool("cache_hit", resp.CacheHit),
		slog.Bool("degraded", resp.Degraded),
		slog.Duration("elapsed", resp.Elapsed))
	return resp, nil
}

// prepare validates q and fills in defaults from st.
func (e *Engine) prepare(ctx context.Context, q Query, st Settings) (Query, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, kberrors.InvalidQuery("query text is empty")
	}
	if len(q.Collections) == 0 {
		return q, kberrors.InvalidQuery("at least one collection is required")
	}
	seen := make(map[string]struct{}, len(q.Collections))
	for _, c := range q.Collections {
		if strings.TrimSpace(c) == "" {
			return q, kberrors.InvalidQuery("collection id is empty")
		}
		if _, dup := seen[c]; dup {
			return q, kberrors.InvalidQuery("collection %q listed twice", c)
		}
		seen[c] = struct{}{}
	}

	switch {
	case q.Strategy == "":
		q.Strategy = strategy.Auto
	case q.Strategy != strategy.Auto && !q.Strategy.IsConcrete():
		return q, kberrors.InvalidQuery("unknown strategy %q", q.Strategy)
	}

	w := st.Weights
	if q.Weights != nil {
		w = *q.Weights
	}
	if err := w.Validate(); err != nil {
		return q, err
	}
	if w.Semantic == 0 && w.FullText == 0 && (q.Strategy == strategy.Hybrid || q.Strategy == strategy.Auto) {
		return q, kberrors.InvalidQuery("hybrid search needs a non-zero weight")
	}
	q.Weights = &w

	if q.MaxResults < 0 {
		return q, kberrors.InvalidQuery("max results %d is negative", q.MaxResults)
	}
	if q.MaxResults == 0 {
		q.MaxResults = st.MaxResults
	}
	q.MaxResults = min(q.MaxResults, MaxResultsLimit)

	minScore := st.MinScore
	if q.MinScore != nil {
		minScore = *q.MinScore
	}
	if minScore < 0 || minScore > 1 {
		return q, kberrors.InvalidQuery("min score %g outside [0, 1]", minScore)
	}
	q.MinScore = &minScore

	threshold := st.ClusterThreshold
	if q.ClusterThreshold != nil {
		threshold = *q.ClusterThreshold
	}
	if threshold < 0 || threshold > 1 {
		return q, kberrors.InvalidQuery("cluster threshold %g outside [0, 1]", threshold)
	}
	q.ClusterThreshold = &threshold

	var err error
	if q.FanOut, err = ParseFanOutMode(string(q.FanOut)); err != nil {
		return q, err
	}
	if q.Merge, err = ParseMergeMode(string(q.Merge)); err != nil {
		return q, err
	}
	for c, cw := range q.CollectionWeights {
		if cw < 0 || cw > 1 {
			return q, kberrors.InvalidQuery("collection weight %g for %q outside [0, 1]", cw, c)
		}
	}

	if e.catalog != nil {
		for _, c := range q.Collections {
			ok, err := e.catalog.HasCollection(ctx, c)
			if err != nil {
				return q, kberrors.StorageError("look up collection", err)
			}
			if !ok {
				return q, kberrors.UnknownCollection(c)
			}
		}
	}
	return q, nil
}

// runCollection is the per-collection pipeline: select, then serve from
// cache or compute.
func (e *Engine) runCollection(ctx context.Context, q Query, st Settings, collection string, p RunParams) (*CollectionResult, error) {
	start := time.Now()

	sel := Selection{Strategy: q.Strategy, Rule: RuleRequested}
	if q.Strategy == strategy.Auto {
		sel = e.selector.Explain(q.Text, collection)
	}
	w := q.Weights.For(sel.Strategy)

	pool := p.MaxResults * e.cfg.CandidateMultiplier * max(p.PoolFactor, 1)
	if q.UseReranking {
		pool = max(pool, st.RerankTopK)
	}

	compute := func(ctx context.Context) (*CollectionResult, bool, error) {
		cr, err := e.compute(ctx, q, collection, sel, w, p, pool)
		if err != nil {
			return nil, false, err
		}
		return cr, !cr.Degraded, nil
	}

	var (
		cr      *CollectionResult
		outcome = "bypass"
		err     error
	)
	if c := e.cache.Load(); c != nil {
		key := cache.Fingerprint(cache.FingerprintInput{
			Text:             q.Text,
			Collections:      []string{collection},
			Strategy:         string(sel.Strategy),
			SemanticWeight:   w.Semantic,
			FullTextWeight:   w.FullText,
			MaxResults:       p.MaxResults,
			CandidatePool:    pool,
			MinScore:         p.MinScore,
			UseReranking:     q.UseReranking,
			UseClustering:    q.UseClustering,
			ClusterThreshold: *q.ClusterThreshold,
		})
		var o cache.Outcome
		cr, o, err = c.GetOrCompute(ctx, key, compute)
		outcome = o.String()
	} else {
		cr, _, err = compute(ctx)
	}
	if err != nil {
		return nil, err
	}

	// Cached values are shared; annotate a copy.
	view := *cr
	view.CacheHit = outcome == cache.OutcomeHit.String()
	view.Explain.Cache = outcome
	view.Explain.SelectionRule = sel.Rule

	e.feedback.ObserveQuery(collection, sel.Strategy, time.Since(start))
	return &view, nil
}

// compute retrieves, fuses, hydrates, reranks, truncates and clusters one
// collection's results.
func (e *Engine) compute(
	ctx context.Context,
	q Query,
	collection string,
	sel Selection,
	w Weights,
	p RunParams,
	pool int,
) (*CollectionResult, error) {
	ret, err := e.dispatcher.Dispatch(ctx, collection, q.Text, sel.Strategy, pool)
	if err != nil {
		return nil, err
	}

	fused := Merge(ret.Semantic, ret.FullText, w, p.MinScore)
	results, err := e.hydrate(ctx, collection, sel.Strategy, fused)
	if err != nil {
		return nil, err
	}

	cr := &CollectionResult{
		Collection: collection,
		Strategy:   sel.Strategy,
		TotalFound: len(results),
		Degraded:   ret.Degraded,
		Explain: Explain{
			Collection:   collection,
			Strategy:     sel.Strategy,
			Weights:      w,
			SemanticHits: len(ret.Semantic),
			FullTextHits: len(ret.FullText),
			Supplemental: p.Supplemental,
		},
	}

	if q.UseReranking && len(results) > 0 {
		var degraded bool
		results, degraded = e.rerank.Apply(ctx, q.Text, results, p.MinScore)
		cr.Degraded = cr.Degraded || degraded
		cr.Explain.Reranked = !degraded
		cr.Explain.RerankDegraded = degraded
	}

	if len(results) > p.MaxResults {
		results = results[:p.MaxResults]
	}

	if q.UseClustering && len(results) > 0 {
		results, cr.Clusters = NewClusterBuilder(e.similarity(ctx, collection, results), e.naming).
			Build(results, *q.ClusterThreshold)
	}
	cr.Results = results
	return cr, nil
}

// hydrate loads documents for fused candidates and assigns result ids.
// Candidates whose document no longer exists are dropped.
func (e *Engine) hydrate(ctx context.Context, collection string, s strategy.Strategy, fused []Fused) ([]ScoredResult, error) {
	if len(fused) == 0 {
		return []ScoredResult{}, nil
	}
	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.DocID
	}
	docs, err := e.docs.GetDocuments(ctx, collection, ids)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, kberrors.StorageError(fmt.Sprintf("load documents for %s", collection), err)
	}

	now := time.Now()
	out := make([]ScoredResult, 0, len(fused))
	for _, f := range fused {
		d, ok := docs[f.DocID]
		if !ok {
			e.logger.Debug("document_missing",
				slog.String("collection", collection),
				slog.String("document_id", f.DocID))
			continue
		}
		out = append(out, ScoredResult{
			ID:            uuid.NewString(),
			DocumentID:    d.ID,
			Collection:    collection,
			Title:         d.Title,
			Content:       d.Content,
			Metadata:      d.Metadata,
			Score:         f.Score,
			SemanticScore: f.SemanticScore,
			FullTextScore: f.FullTextScore,
			Strategy:      s,
			Timestamp:     now,
		})
	}
	return out, nil
}

// similarity prefers stored vectors and falls back to token overlap.
func (e *Engine) similarity(ctx context.Context, collection string, results []ScoredResult) SimilarityFunc {
	if e.vectors == nil {
		return JaccardSimilarity
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.DocumentID
	}
	vecs, err := e.vectors.Vectors(ctx, collection, ids)
	if err != nil {
		e.logger.Debug("cluster_vectors_unavailable",
			slog.String("collection", collection),
			slog.String("error", err.Error()))
		return JaccardSimilarity
	}
	return VectorSimilarity(vecs)
}

func (e *Engine) buildResponse(q Query, out *Coordinated, start time.Time) *SearchResponse {
	resp := &SearchResponse{
		Results:    out.Results,
		Strategies: make(map[string]strategy.Strategy, len(q.Collections)),
		Degraded:   out.Degraded,
		Failures:   out.Failures,
		CacheHit:   true,
	}
	if resp.Results == nil {
		resp.Results = []ScoredResult{}
	}

	emitted := make(map[string]struct{}, len(resp.Results))
	for _, r := range resp.Results {
		emitted[r.ID] = struct{}{}
	}

	contributed := 0
	for _, cr := range out.PerCollection {
		if cr == nil {
			continue
		}
		contributed++
		resp.Strategies[cr.Collection] = cr.Strategy
		resp.TotalFound += cr.TotalFound
		resp.CacheHit = resp.CacheHit && cr.CacheHit
		if q.Explain {
			resp.Explain = append(resp.Explain, cr.Explain)
		}

		for _, c := range cr.Clusters {
			var members []string
			for _, id := range c.Members {
				if _, ok := emitted[id]; ok {
					members = append(members, id)
				}
			}
			if len(members) == 0 {
				continue
			}
			c.Members = members
			c.Count = len(members)
			resp.Clusters = append(resp.Clusters, c)
		}
	}
	if contributed == 0 {
		resp.CacheHit = false
	}

	for _, s := range resp.Strategies {
		switch {
		case resp.Strategy == "":
			resp.Strategy = s
		case resp.Strategy != s:
			resp.Strategy = strategy.Auto
		}
	}
	if resp.Strategy == "" {
		resp.Strategy = q.Strategy
	}

	resp.Elapsed = time.Since(start)
	return resp
}

// track registers provenance of every emitted result for feedback.
func (e *Engine) track(results []ScoredResult) {
	if len(results) == 0 {
		return
	}
	prov := make([]feedback.Provenance, len(results))
	for i, r := range results {
		prov[i] = feedback.Provenance{
			ResultID:   r.ID,
			Collection: r.Collection,
			DocumentID: r.DocumentID,
			Strategy:   r.Strategy,
		}
	}
	e.feedback.Track(prov)
}

func (e *Engine) recordFailure(q Query, err error, start time.Time) {
	code := kberrors.GetCode(err)
	if code == "" {
		code = kberrors.ErrCodeInternal
	}
	e.logger.Warn("search_failed",
		slog.Int("collections", len(q.Collections)),
		slog.String("code", code),
		slog.String("error", err.Error()))
	if e.metrics == nil {
		return
	}
	s := q.Strategy
	if s == "" {
		s = strategy.Auto
	}
	e.metrics.Record(telemetry.QueryEvent{
		Query:       q.Text,
		Collections: q.Collections,
		Strategy:    string(s),
		Latency:     time.Since(start),
		ErrorCode:   code,
		Timestamp:   start,
	})
}

// SubmitFeedback records feedback on a previously emitted result.
func (e *Engine) SubmitFeedback(ctx context.Context, ev feedback.Event) (feedback.Ack, error) {
	ack, err := e.feedback.Record(ctx, ev)
	if err != nil {
		return feedback.Ack{}, err
	}
	if e.metrics != nil {
		e.metrics.RecordFeedback(telemetry.FeedbackEvent{
			Collection: ack.Collection,
			Strategy:   string(ack.Strategy),
			Kind:       string(ev.Kind),
			Polarity:   ack.Polarity,
			Timestamp:  time.Now(),
		})
	}
	return ack, nil
}

// GetCacheStats returns cache counters. A disabled cache reports zeros.
func (e *Engine) GetCacheStats() cache.Stats {
	if c := e.cache.Load(); c != nil {
		return c.Stats()
	}
	return cache.Stats{}
}

// ClearCache drops every cached result.
func (e *Engine) ClearCache() {
	if c := e.cache.Load(); c != nil {
		c.Clear()
		e.logger.Info("cache_cleared")
	}
}

// GetStrategies lists the available strategies.
func (e *Engine) GetStrategies() []StrategyInfo {
	return Strategies()
}

// UpdateSettings validates s, persists it through the settings store when
// one is configured, and applies it. In-flight searches keep the settings
// they started with.
func (e *Engine) UpdateSettings(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	e.updateMu.Lock()
	defer e.updateMu.Unlock()

	if e.settingsStore != nil {
		prev := e.Settings().Map()
		for k, v := range s.Map() {
			if prev[k] == v {
				continue
			}
			if err := e.settingsStore.PutSetting(ctx, k, v); err != nil {
				return kberrors.StorageError("persist setting "+k, err)
			}
		}
	}

	e.selector.Configure(selectorConfig(s))
	e.rerank.SetTopK(s.RerankTopK)
	e.configureCache(s)
	e.settings.Store(&s)

	e.logger.Info("settings_updated",
		slog.Float64("weight_semantic", s.Weights.Semantic),
		slog.Float64("weight_fulltext", s.Weights.FullText),
		slog.Int("max_results", s.MaxResults),
		slog.Int("cache_capacity", s.CacheCapacity),
		slog.Duration("cache_ttl", s.CacheTTL))
	return nil
}

// Close releases the reranker if it holds resources.
func (e *Engine) Close() error {
	if c, ok := e.reranker.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
