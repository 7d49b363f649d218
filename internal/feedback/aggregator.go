package feedback

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/panjf2000/ants/v2"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/strategy"
)

const (
	// DefaultProvenanceCapacity bounds the in-memory result provenance index.
	DefaultProvenanceCapacity = 10000

	// DefaultWorkers is the size of the persistence worker pool.
	DefaultWorkers = 4

	persistTimeout = 5 * time.Second
)

// Persister stores feedback and result provenance. *store.SQLiteStore implements it.
type Persister interface {
	SaveFeedback(ctx context.Context, f *store.FeedbackRecord) error
	SaveResults(ctx context.Context, results []store.ResultProvenance) error
	LookupResult(ctx context.Context, resultID string) (*store.ResultProvenance, error)
}

// Provenance ties an emitted result to what produced it.
type Provenance struct {
	ResultID   string
	Collection string
	DocumentID string
	Strategy   strategy.Strategy
}

// Ack confirms a recorded feedback event.
type Ack struct {
	FeedbackID string            `json:"feedback_id"`
	ResultID   string            `json:"result_id"`
	Collection string            `json:"collection"`
	Strategy   strategy.Strategy `json:"strategy"`
	Polarity   string            `json:"polarity"`
}

// Config configures an Aggregator.
type Config struct {
	Scale              Scale
	ProvenanceCapacity int
	Workers            int
	Persister          Persister
	Catalog            store.CollectionCatalog
	Logger             *slog.Logger
	Now                func() time.Time
}

type counters struct {
	queries      atomic.Int64
	latencyNanos atomic.Int64
	positive     atomic.Int64
	negative     atomic.Int64
}

// collectionStats holds one counter set per concrete strategy, indexed by
// strategy.Index.
type collectionStats struct {
	byStrategy [3]counters
}

// Aggregator maintains StrategyStats. Counters are per collection and per
// strategy and only ever increase; updates never take a global lock.
type Aggregator struct {
	scale      Scale
	stats      sync.Map // collection id -> *collectionStats
	provenance *lru.Cache[string, Provenance]
	persist    Persister
	catalog    store.CollectionCatalog
	pool       *ants.Pool
	logger     *slog.Logger
	now        func() time.Time

	// mu orders submit against Close so no work is added once Close waits.
	mu      sync.RWMutex
	pending sync.WaitGroup
	closed  bool
}

// NewAggregator creates an aggregator. Persistence is optional.
func NewAggregator(cfg Config) (*Aggregator, error) {
	if cfg.Scale == (Scale{}) {
		cfg.Scale = DefaultScale()
	}
	if cfg.ProvenanceCapacity <= 0 {
		cfg.ProvenanceCapacity = DefaultProvenanceCapacity
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	prov, err := lru.New[string, Provenance](cfg.ProvenanceCapacity)
	if err != nil {
		return nil, err
	}

	a := &Aggregator{
		scale:      cfg.Scale,
		provenance: prov,
		persist:    cfg.Persister,
		catalog:    cfg.Catalog,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}

	if cfg.Persister != nil {
		pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p any) {
			a.logger.Error("feedback_persist_panic", slog.Any("panic", p))
		}))
		if err != nil {
			return nil, err
		}
		a.pool = pool
	}
	return a, nil
}

func (a *Aggregator) statsFor(collection string) *collectionStats {
	if cs, ok := a.stats.Load(collection); ok {
		return cs.(*collectionStats)
	}
	cs, _ := a.stats.LoadOrStore(collection, &collectionStats{})
	return cs.(*collectionStats)
}

func (a *Aggregator) counters(collection string, s strategy.Strategy) *counters {
	i := s.Index()
	if i < 0 {
		return nil
	}
	return &a.statsFor(collection).byStrategy[i]
}

// ObserveQuery records one executed query and its latency.
func (a *Aggregator) ObserveQuery(collection string, s strategy.Strategy, latency time.Duration) {
	c := a.counters(collection, s)
	if c == nil {
		return
	}
	c.queries.Add(1)
	c.latencyNanos.Add(int64(latency))
}

// Track remembers the provenance of emitted results and persists it
// asynchronously so feedback can arrive from another process later.
func (a *Aggregator) Track(results []Provenance) {
	if len(results) == 0 {
		return
	}
	records := make([]store.ResultProvenance, len(results))
	now := a.now()
	for i, p := range results {
		a.provenance.Add(p.ResultID, p)
		records[i] = store.ResultProvenance{
			ResultID:   p.ResultID,
			Collection: p.Collection,
			DocumentID: p.DocumentID,
			Strategy:   string(p.Strategy),
			CreatedAt:  now,
		}
	}
	a.submit("save_results", func(ctx context.Context) error {
		return a.persist.SaveResults(ctx, records)
	})
}

// Record validates, attributes and counts a feedback event, then forwards
// it to persistence without waiting.
func (a *Aggregator) Record(ctx context.Context, ev Event) (Ack, error) {
	if err := a.scale.Validate(ev); err != nil {
		return Ack{}, err
	}

	prov, err := a.resolve(ctx, ev)
	if err != nil {
		return Ack{}, err
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.now()
	}

	polarity := a.scale.Classify(ev)
	if c := a.counters(prov.Collection, prov.Strategy); c != nil {
		switch polarity {
		case Positive:
			c.positive.Add(1)
		case Negative:
			c.negative.Add(1)
		}
	}

	record := &store.FeedbackRecord{
		ID:         ev.ID,
		ResultID:   ev.ResultID,
		Collection: prov.Collection,
		DocumentID: prov.DocumentID,
		Strategy:   string(prov.Strategy),
		Kind:       string(ev.Kind),
		Rating:     ev.Rating,
		Comment:    ev.Comment,
		UserID:     ev.UserID,
		Polarity:   int(polarity),
		CreatedAt:  ev.Timestamp,
	}
	a.submit("save_feedback", func(ctx context.Context) error {
		return a.persist.SaveFeedback(ctx, record)
	})

	return Ack{
		FeedbackID: ev.ID,
		ResultID:   ev.ResultID,
		Collection: prov.Collection,
		Strategy:   prov.Strategy,
		Polarity:   polarity.String(),
	}, nil
}

// resolve finds the producing collection and strategy. Recorded provenance
// wins; explicit attribution that contradicts it is rejected. Explicit
// attribution alone is used only for results with no recorded provenance.
func (a *Aggregator) resolve(ctx context.Context, ev Event) (Provenance, error) {
	p, found, err := a.lookup(ctx, ev.ResultID)
	if err != nil {
		return Provenance{}, err
	}
	if found {
		if ev.Collection != "" && ev.Collection != p.Collection {
			return Provenance{}, kberrors.Newf(kberrors.ErrCodeInvalidFeedback,
				"result %q was produced in collection %q, not %q", ev.ResultID, p.Collection, ev.Collection)
		}
		if ev.Strategy != "" && ev.Strategy != p.Strategy {
			return Provenance{}, kberrors.Newf(kberrors.ErrCodeInvalidFeedback,
				"result %q was produced by strategy %q, not %q", ev.ResultID, p.Strategy, ev.Strategy)
		}
		return p, nil
	}

	if ev.Collection == "" || ev.Strategy == "" {
		return Provenance{}, kberrors.Newf(kberrors.ErrCodeUnknownResult, "unknown result %q", ev.ResultID).
			WithSuggestion("pass the collection and strategy that produced the result")
	}
	if a.catalog != nil {
		ok, err := a.catalog.HasCollection(ctx, ev.Collection)
		if err != nil {
			return Provenance{}, err
		}
		if !ok {
			return Provenance{}, kberrors.Newf(kberrors.ErrCodeUnknownCollection, "unknown collection %q", ev.Collection)
		}
	}
	return Provenance{ResultID: ev.ResultID, Collection: ev.Collection, Strategy: ev.Strategy}, nil
}

// lookup checks the in-memory index, then persisted provenance.
func (a *Aggregator) lookup(ctx context.Context, resultID string) (Provenance, bool, error) {
	if p, ok := a.provenance.Get(resultID); ok {
		return p, true, nil
	}
	if a.persist == nil {
		return Provenance{}, false, nil
	}
	rec, err := a.persist.LookupResult(ctx, resultID)
	if err != nil {
		if errors.Is(err, kberrors.ErrUnknownResult) {
			return Provenance{}, false, nil
		}
		return Provenance{}, false, err
	}
	s, perr := strategy.Parse(rec.Strategy)
	if perr != nil || !s.IsConcrete() {
		return Provenance{}, false, kberrors.New(kberrors.ErrCodeStorageCorrupt, "stored strategy "+rec.Strategy, perr)
	}
	p := Provenance{ResultID: rec.ResultID, Collection: rec.Collection, DocumentID: rec.DocumentID, Strategy: s}
	a.provenance.Add(p.ResultID, p)
	return p, true, nil
}

// submit runs fn on the worker pool. Failures are logged, never returned.
func (a *Aggregator) submit(op string, fn func(ctx context.Context) error) {
	if a.pool == nil {
		return
	}
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return
	}
	a.pending.Add(1)
	a.mu.RUnlock()
	err := a.pool.Submit(func() {
		defer a.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			a.logger.Warn("feedback_persist_failed", append([]any{"op", op}, kberrors.LogAttrs(err)...)...)
		}
	})
	if err != nil {
		a.pending.Done()
		a.logger.Warn("feedback_persist_rejected", slog.String("op", op), slog.String("error", err.Error()))
	}
}

// Flush blocks until queued persistence work has finished.
func (a *Aggregator) Flush() {
	a.pending.Wait()
}

// Seed adds persisted feedback tallies to the counters.
func (a *Aggregator) Seed(counts []store.FeedbackCount) {
	for _, fc := range counts {
		s, err := strategy.Parse(fc.Strategy)
		if err != nil {
			continue
		}
		if c := a.counters(fc.Collection, s); c != nil {
			c.positive.Add(fc.Positive)
			c.negative.Add(fc.Negative)
		}
	}
}

// Snapshot returns the statistics of one collection. Unknown collections
// yield zero stats.
func (a *Aggregator) Snapshot(collection string) Snapshot {
	snap := Snapshot{Collection: collection}
	v, ok := a.stats.Load(collection)
	for i, s := range strategy.Concrete {
		st := StrategyStats{Strategy: s}
		if ok {
			c := &v.(*collectionStats).byStrategy[i]
			st.Queries = c.queries.Load()
			st.Positive = c.positive.Load()
			st.Negative = c.negative.Load()
			if st.Queries > 0 {
				st.AvgLatency = time.Duration(c.latencyNanos.Load() / st.Queries)
			}
		}
		snap.Strategies[i] = st
	}
	return snap
}

// Collections lists collections that have statistics, sorted.
func (a *Aggregator) Collections() []string {
	var out []string
	a.stats.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// Close drains pending persistence and stops the worker pool.
func (a *Aggregator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()
	a.pending.Wait()
	if a.pool != nil {
		a.pool.Release()
	}
	return nil
}
