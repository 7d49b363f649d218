package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/kbsearch/internal/config"
	"github.com/Aman-CERP/kbsearch/internal/embed"
	"github.com/Aman-CERP/kbsearch/internal/feedback"
	"github.com/Aman-CERP/kbsearch/internal/logging"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
)

// appOptions selects what openApp builds.
type appOptions struct {
	// loadIndexes rebuilds the in-memory backends from stored documents.
	// Commands that never retrieve skip it.
	loadIndexes bool

	// logger replaces the file logger openApp would create.
	logger *logging.Logger

	// recorder receives search and feedback events next to query metrics.
	recorder telemetry.Recorder
}

// app is the wired engine and everything it owns.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	ownsLogger bool

	store        *store.SQLiteStore
	metricsStore *telemetry.SQLiteMetricsStore
	metrics      *telemetry.QueryMetrics

	embedder *embed.CachedEmbedder
	fulltext *store.FullTextIndex
	vectors  *store.VectorIndex
	feedback *feedback.Aggregator
	engine   *search.Engine
}

// newLogger creates the file logger used by CLI commands.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lcfg := logging.DefaultConfig(cfg.Data.Dir)
	lcfg.Level = cfg.Server.LogLevel
	if globals.debug {
		lcfg.Level = "debug"
		lcfg.WriteToStderr = true
	}
	return logging.Setup(lcfg)
}

// openStore opens the database and prepares the telemetry tables.
func openStore(cfg *config.Config) (*store.SQLiteStore, *telemetry.SQLiteMetricsStore, error) {
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, nil, err
	}
	if err := telemetry.InitTelemetrySchema(st.DB()); err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("init telemetry schema: %w", err)
	}
	ms, err := telemetry.NewSQLiteMetricsStore(st.DB())
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return st, ms, nil
}

// openApp wires the engine from cfg. The caller must Close the app.
func openApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg, logger: opts.logger}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if a.logger == nil {
		if a.logger, err = newLogger(cfg); err != nil {
			return a, err
		}
		a.ownsLogger = true
	}
	logger := a.logger.Logger

	if a.store, a.metricsStore, err = openStore(cfg); err != nil {
		return a, err
	}

	var recorders telemetry.Multi
	if cfg.Telemetry.Enabled {
		a.metrics = telemetry.NewQueryMetricsWithConfig(a.metricsStore, telemetry.QueryMetricsConfig{
			FlushInterval: cfg.Telemetry.FlushInterval,
		})
		recorders = append(recorders, a.metrics)
	}
	if opts.recorder != nil {
		recorders = append(recorders, opts.recorder)
	}

	a.embedder = embed.NewCachedEmbedder(embed.NewHashEmbedder(cfg.Embedding.Dimensions), cfg.Embedding.CacheSize)
	a.fulltext = store.NewFullTextIndex()
	a.vectors = store.NewVectorIndex(a.embedder, store.VectorConfig{})
	if opts.loadIndexes {
		if err = a.loadIndexes(ctx); err != nil {
			return a, err
		}
	}

	a.feedback, err = feedback.NewAggregator(feedback.Config{
		ProvenanceCapacity: cfg.Feedback.ProvenanceSize,
		Workers:            cfg.Feedback.Workers,
		Persister:          a.store,
		Catalog:            a.store,
		Logger:             logger,
	})
	if err != nil {
		return a, fmt.Errorf("create feedback aggregator: %w", err)
	}
	counts, err := a.store.FeedbackCounts(ctx)
	if err != nil {
		return a, err
	}
	a.feedback.Seed(counts)

	settings, err := a.settings(ctx)
	if err != nil {
		return a, err
	}

	engineOpts := []search.Option{
		search.WithReranker(buildReranker(ctx, cfg.Reranker, a.embedder, logger)),
		search.WithVectorSource(a.vectors),
		search.WithSettingsStore(a.store),
		search.WithCatalog(a.store),
		search.WithLogger(logger),
	}
	if len(recorders) > 0 {
		engineOpts = append(engineOpts, search.WithMetrics(recorders))
	}

	a.engine, err = search.NewEngine(a.vectors, a.fulltext, a.store, a.feedback, search.EngineConfig{
		Settings:               settings,
		MaxParallelCollections: cfg.Search.MaxParallelCollections,
		BackendTimeout:         cfg.Search.BackendTimeout,
		RequestTimeout:         cfg.Search.RequestTimeout,
		CandidateMultiplier:    cfg.Search.CandidateMultiplier,
	}, engineOpts...)
	if err != nil {
		return a, err
	}
	return a, nil
}

// settings returns the configured settings with persisted runtime settings
// applied on top. Persisted values that no longer validate are ignored.
func (a *app) settings(ctx context.Context) (search.Settings, error) {
	base := settingsFromConfig(a.cfg)
	kv, err := a.store.Settings(ctx)
	if err != nil {
		return base, err
	}
	if len(kv) == 0 {
		return base, nil
	}
	merged, err := base.Apply(kv)
	if err == nil {
		err = merged.Validate()
	}
	if err != nil {
		a.logger.Warn("persisted_settings_ignored", slog.String("error", err.Error()))
		return base, nil
	}
	return merged, nil
}

// settingsFromConfig maps the configuration onto engine settings.
func settingsFromConfig(cfg *config.Config) search.Settings {
	return search.Settings{
		Weights: search.Weights{
			Semantic: cfg.Search.SemanticWeight,
			FullText: cfg.Search.FullTextWeight,
		},
		MaxResults:              cfg.Search.MaxResults,
		MinScore:                cfg.Search.MinScore,
		ClusterThreshold:        cfg.Search.ClusterThreshold,
		RerankTopK:              cfg.Reranker.TopK,
		ShortQueryRunes:         cfg.Search.ShortQueryRunes,
		MinFeedbackSamples:      cfg.Search.MinFeedbackSamples,
		AdaptiveMinResults:      cfg.Search.AdaptiveMinResults,
		SupplementalScoreFactor: cfg.Search.SupplementalScoreFactor,
		CacheTTL:                cfg.Cache.TTL,
		CacheCapacity:           cfg.Cache.Capacity,
	}
}

// buildReranker picks the reranker for the configured provider. auto prefers
// a reachable HTTP cross-encoder and falls back to embedding similarity.
func buildReranker(ctx context.Context, cfg config.RerankerConfig, embedder embed.Embedder, logger *slog.Logger) search.Reranker {
	embedding := search.NewEmbeddingReranker(embedder)
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "none":
		return nil
	case "embedding":
		return embedding
	}

	if cfg.Endpoint == "" {
		return embedding
	}
	hcfg := search.DefaultHTTPRerankerConfig()
	hcfg.Endpoint = cfg.Endpoint
	hcfg.Model = cfg.Model
	if cfg.Timeout > 0 {
		hcfg.Timeout = cfg.Timeout
	}
	if cfg.RequestsPerSecond > 0 {
		hcfg.RequestsPerSecond = cfg.RequestsPerSecond
	}
	// An explicit http provider is probed on first use rather than at startup.
	hcfg.SkipHealthCheck = provider == "http"

	r, err := search.NewHTTPReranker(ctx, hcfg)
	if err != nil {
		logger.Warn("reranker_unreachable",
			slog.String("endpoint", cfg.Endpoint),
			slog.String("fallback", "embedding"),
			slog.String("error", err.Error()))
		return embedding
	}
	logger.Info("reranker_ready", slog.String("endpoint", cfg.Endpoint), slog.String("provider", provider))
	return r
}

// loadIndexes feeds every stored document to the full-text and vector backends.
func (a *app) loadIndexes(ctx context.Context) error {
	start := time.Now()
	cols, err := a.store.ListCollections(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, c := range cols {
		docs, err := a.store.ListDocuments(ctx, c.ID)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			continue
		}
		if err := a.fulltext.Index(ctx, c.ID, docs); err != nil {
			return fmt.Errorf("index collection %s: %w", c.ID, err)
		}
		if err := a.vectors.Index(ctx, c.ID, docs); err != nil {
			return fmt.Errorf("embed collection %s: %w", c.ID, err)
		}
		total += len(docs)
	}
	a.logger.Info("indexes_loaded",
		slog.Int("collections", len(cols)),
		slog.Int("documents", total),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Close releases everything in dependency order: the engine first, the
// database and logger last.
func (a *app) Close() error {
	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	}
	if a.feedback != nil {
		errs = append(errs, a.feedback.Close())
	}
	if a.metrics != nil {
		errs = append(errs, a.metrics.Close())
	}
	if a.fulltext != nil {
		errs = append(errs, a.fulltext.Close())
	}
	if a.vectors != nil {
		errs = append(errs, a.vectors.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.ownsLogger && a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}
