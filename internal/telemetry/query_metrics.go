// Package telemetry records search analytics: strategy usage, latency,
// popular terms, zero-result queries and feedback polarity. Data is kept
// locally in SQLite and optionally exposed as Prometheus metrics.
package telemetry

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/kbsearch/internal/embed"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyBuckets lists buckets in ascending order.
var LatencyBuckets = []LatencyBucket{BucketP10, BucketP50, BucketP100, BucketP500, BucketP1000}

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// =============================================================================
// Events
// =============================================================================

// QueryEvent is one completed (or failed) search request.
type QueryEvent struct {
	Query       string
	Collections []string
	// Strategy is the effective strategy, "auto" when collections differed.
	Strategy    string
	ResultCount int
	Latency     time.Duration
	CacheHit    bool
	Degraded    bool
	// ErrorCode is set when the request failed.
	ErrorCode string
	Timestamp time.Time
}

// IsZeroResult returns true if a successful query returned no results.
func (e QueryEvent) IsZeroResult() bool {
	return e.ErrorCode == "" && e.ResultCount == 0
}

// Outcome classifies the event for counters: ok, degraded, zero or failed.
func (e QueryEvent) Outcome() string {
	switch {
	case e.ErrorCode != "":
		return "failed"
	case e.Degraded:
		return "degraded"
	case e.ResultCount == 0:
		return "zero"
	default:
		return "ok"
	}
}

// FeedbackEvent is one attributed feedback submission.
type FeedbackEvent struct {
	Collection string
	Strategy   string
	Kind       string
	Polarity   string
	Timestamp  time.Time
}

// Recorder receives telemetry events. Implementations must not block.
type Recorder interface {
	Record(QueryEvent)
	RecordFeedback(FeedbackEvent)
}

// Multi fans events out to several recorders.
type Multi []Recorder

// Record forwards to every recorder.
func (m Multi) Record(ev QueryEvent) {
	for _, r := range m {
		r.Record(ev)
	}
}

// RecordFeedback forwards to every recorder.
func (m Multi) RecordFeedback(ev FeedbackEvent) {
	for _, r := range m {
		r.RecordFeedback(ev)
	}
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a buffer; non-positive capacities become 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
	} else {
		n := copy(out, b.items[b.head:])
		copy(out[n:], b.items[:b.head])
	}
	return out
}

// Size returns the current number of items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear removes all items.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// =============================================================================
// Terms
// =============================================================================

// ExtractTerms returns the query's tokens of at least three characters.
func ExtractTerms(query string) []string {
	var terms []string
	for _, t := range embed.Tokenize(query) {
		if len(t) >= 3 {
			terms = append(terms, t)
		}
	}
	return terms
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// PolarityCount tallies feedback polarity.
type PolarityCount struct {
	Positive int64 `json:"positive"`
	Negative int64 `json:"negative"`
	Neutral  int64 `json:"neutral"`
}

// =============================================================================
// Snapshot
// =============================================================================

// QueryMetricsSnapshot is an immutable view of in-process metrics.
type QueryMetricsSnapshot struct {
	StrategyCounts      map[string]int64         `json:"strategy_counts"`
	TopTerms            []TermCount              `json:"top_terms"`
	ZeroResultQueries   []string                 `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64  `json:"latency_distribution"`
	Feedback            map[string]PolarityCount `json:"feedback"`
	TotalQueries        int64                    `json:"total_queries"`
	ZeroResultCount     int64                    `json:"zero_result_count"`
	CacheHits           int64                    `json:"cache_hits"`
	DegradedCount       int64                    `json:"degraded_count"`
	FailedCount         int64                    `json:"failed_count"`
	Since               time.Time                `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	return percent(s.ZeroResultCount, s.TotalQueries)
}

// CacheHitPercentage returns the percentage of queries served from cache.
func (s *QueryMetricsSnapshot) CacheHitPercentage() float64 {
	return percent(s.CacheHits, s.TotalQueries)
}

func percent(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// =============================================================================
// Store
// =============================================================================

// QueryMetricsStore persists metric deltas.
type QueryMetricsStore interface {
	// SaveStrategyCounts adds daily per-strategy query counts.
	SaveStrategyCounts(date string, counts map[string]int64) error

	// GetStrategyCounts sums counts over an inclusive date range.
	GetStrategyCounts(from, to string) (map[string]int64, error)

	// UpsertTermCounts adds term frequency counts.
	UpsertTermCounts(terms map[string]int64) error

	// GetTopTerms retrieves the top N terms by frequency.
	GetTopTerms(limit int) ([]TermCount, error)

	// AddZeroResultQuery records a query that found nothing.
	AddZeroResultQuery(query string, timestamp time.Time) error

	// GetZeroResultQueries retrieves recent zero-result queries, newest first.
	GetZeroResultQueries(limit int) ([]string, error)

	// SaveLatencyCounts adds daily latency histogram counts.
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error

	// GetLatencyCounts sums latency counts over an inclusive date range.
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)

	// AppendSearchLog stores analytics rows for individual queries.
	AppendSearchLog(events []QueryEvent) error

	// RecentSearches returns the newest analytics rows matching f.
	RecentSearches(limit int, f LogFilter) ([]QueryEvent, error)

	// Summarize aggregates analytics rows matching f.
	Summarize(f LogFilter) (*SearchSummary, error)

	// DailyTrend aggregates analytics rows matching f per day.
	DailyTrend(f LogFilter) ([]DailySearches, error)

	// StrategyBreakdown counts analytics rows matching f per strategy.
	StrategyBreakdown(f LogFilter) (map[string]int64, error)

	// Close releases resources.
	Close() error
}

// LogFilter selects search log rows. The zero value matches every row.
type LogFilter struct {
	// Since keeps rows recorded at or after it.
	Since time.Time

	// Collection keeps searches that included it.
	Collection string
}

// DailySearches aggregates one day of the search log.
type DailySearches struct {
	Date       string        `json:"date"`
	Searches   int64         `json:"searches"`
	ZeroResult int64         `json:"zero_result"`
	Failed     int64         `json:"failed"`
	AvgLatency time.Duration `json:"avg_latency"`
}

// SearchSummary aggregates the search log.
type SearchSummary struct {
	Total      int64         `json:"total"`
	CacheHits  int64         `json:"cache_hits"`
	Degraded   int64         `json:"degraded"`
	Failed     int64         `json:"failed"`
	ZeroResult int64         `json:"zero_result"`
	AvgLatency time.Duration `json:"avg_latency"`
	AvgResults float64       `json:"avg_results"`
}

// =============================================================================
// Query Metrics
// =============================================================================

// QueryMetricsConfig configures the query metrics collector.
type QueryMetricsConfig struct {
	TopTermsCapacity    int           // max terms tracked in memory (default: 100)
	ZeroResultsCapacity int           // max zero-result queries kept (default: 100)
	FlushInterval       time.Duration // auto-flush period, 0 disables (default: 60s)
	MaxPendingLog       int           // search log rows buffered between flushes (default: 1000)
}

// DefaultQueryMetricsConfig returns the defaults.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
		FlushInterval:       60 * time.Second,
		MaxPendingLog:       1000,
	}
}

type zeroResult struct {
	query string
	at    time.Time
}

// pending holds what has changed since the last flush.
type pending struct {
	strategies map[string]int64
	terms      map[string]int64
	latencies  map[LatencyBucket]int64
	zero       []zeroResult
	log        []QueryEvent
}

func newPending() pending {
	return pending{
		strategies: make(map[string]int64),
		terms:      make(map[string]int64),
		latencies:  make(map[LatencyBucket]int64),
	}
}

func (p pending) empty() bool {
	return len(p.strategies) == 0 && len(p.terms) == 0 && len(p.latencies) == 0 &&
		len(p.zero) == 0 && len(p.log) == 0
}

// QueryMetrics aggregates telemetry in memory and flushes deltas to a store.
// Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	strategies      map[string]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	latencies       map[LatencyBucket]int64
	feedback        map[string]PolarityCount
	totalQueries    int64
	zeroResultCount int64
	cacheHits       int64
	degraded        int64
	failed          int64
	startTime       time.Time

	delta pending

	flushMu     sync.Mutex
	store       QueryMetricsStore
	config      QueryMetricsConfig
	now         func() time.Time
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

var _ Recorder = (*QueryMetrics)(nil)

// NewQueryMetrics creates a collector with the default configuration.
// A nil store keeps metrics in memory only.
func NewQueryMetrics(store QueryMetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a collector with cfg.
func NewQueryMetricsWithConfig(store QueryMetricsStore, cfg QueryMetricsConfig) *QueryMetrics {
	def := DefaultQueryMetricsConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.MaxPendingLog <= 0 {
		cfg.MaxPendingLog = def.MaxPendingLog
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	m := &QueryMetrics{
		strategies:  make(map[string]int64),
		topTerms:    topTerms,
		zeroResults: NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:   make(map[LatencyBucket]int64),
		feedback:    make(map[string]PolarityCount),
		startTime:   time.Now(),
		delta:       newPending(),
		store:       store,
		config:      cfg,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			if err := m.Flush(); err != nil {
				slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one search request. It never blocks on I/O.
func (m *QueryMetrics) Record(ev QueryEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.totalQueries++
	m.strategies[ev.Strategy]++
	m.delta.strategies[ev.Strategy]++

	for _, term := range ExtractTerms(ev.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.delta.terms[term]++
	}

	switch {
	case ev.ErrorCode != "":
		m.failed++
	case ev.IsZeroResult():
		m.zeroResultCount++
		m.zeroResults.Add(ev.Query)
		m.delta.zero = append(m.delta.zero, zeroResult{query: ev.Query, at: ev.Timestamp})
	}
	if ev.CacheHit {
		m.cacheHits++
	}
	if ev.Degraded {
		m.degraded++
	}

	bucket := LatencyToBucket(ev.Latency)
	m.latencies[bucket]++
	m.delta.latencies[bucket]++

	if len(m.delta.log) < m.config.MaxPendingLog {
		m.delta.log = append(m.delta.log, ev)
	}
}

// RecordFeedback tallies feedback polarity per strategy.
func (m *QueryMetrics) RecordFeedback(ev FeedbackEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	pc := m.feedback[ev.Strategy]
	switch ev.Polarity {
	case "positive":
		pc.Positive++
	case "negative":
		pc.Negative++
	default:
		pc.Neutral++
	}
	m.feedback[ev.Strategy] = pc
}

// Snapshot returns current in-process metrics.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	topTerms := make([]TermCount, 0, m.topTerms.Len())
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	slices.SortStableFunc(topTerms, func(a, b TermCount) int {
		if a.Count != b.Count {
			return int(b.Count - a.Count)
		}
		return strings.Compare(a.Term, b.Term)
	})

	return &QueryMetricsSnapshot{
		StrategyCounts:      maps.Clone(m.strategies),
		TopTerms:            topTerms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: maps.Clone(m.latencies),
		Feedback:            maps.Clone(m.feedback),
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		CacheHits:           m.cacheHits,
		DegradedCount:       m.degraded,
		FailedCount:         m.failed,
		Since:               m.startTime,
	}
}

// Flush writes everything recorded since the previous flush. Deltas are
// dropped when the store rejects them. Safe without a store.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	d := m.delta
	m.delta = newPending()
	m.mu.Unlock()

	if d.empty() {
		return nil
	}
	today := m.now().Format("2006-01-02")

	if err := m.store.SaveStrategyCounts(today, d.strategies); err != nil {
		return err
	}
	if err := m.store.UpsertTermCounts(d.terms); err != nil {
		return err
	}
	if err := m.store.SaveLatencyCounts(today, d.latencies); err != nil {
		return err
	}
	for _, z := range d.zero {
		if err := m.store.AddZeroResultQuery(z.query, z.at); err != nil {
			return err
		}
	}
	return m.store.AppendSearchLog(d.log)
}

// Close stops auto-flush and flushes once more.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}
	return m.Flush()
}
