package telemetry

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLiteMetricsStore implements QueryMetricsStore on a shared SQLite handle.
type SQLiteMetricsStore struct {
	db *sql.DB
}

var _ QueryMetricsStore = (*SQLiteMetricsStore)(nil)

// NewSQLiteMetricsStore wraps db. The schema must already exist; see
// InitTelemetrySchema.
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// InitTelemetrySchema creates the telemetry tables if they don't exist.
func InitTelemetrySchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS strategy_stats (
		date TEXT NOT NULL,
		strategy TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, strategy)
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	-- Keeps at most 100 rows.
	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);

	CREATE TABLE IF NOT EXISTS search_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		collections TEXT NOT NULL,
		strategy TEXT NOT NULL,
		result_count INTEGER NOT NULL,
		latency_us INTEGER NOT NULL,
		cache_hit INTEGER NOT NULL DEFAULT 0,
		degraded INTEGER NOT NULL DEFAULT 0,
		error_code TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_search_log_ts ON search_log(timestamp);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// maxZeroResultRows bounds zero_result_queries.
const maxZeroResultRows = 100

// SaveStrategyCounts adds daily per-strategy counts.
func (s *SQLiteMetricsStore) SaveStrategyCounts(date string, counts map[string]int64) error {
	return s.upsertDaily(`
		INSERT INTO strategy_stats (date, strategy, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, strategy) DO UPDATE SET count = count + excluded.count
	`, date, counts)
}

// GetStrategyCounts sums per-strategy counts between from and to inclusive.
func (s *SQLiteMetricsStore) GetStrategyCounts(from, to string) (map[string]int64, error) {
	return getDaily[string](s.db, `
		SELECT strategy, SUM(count) FROM strategy_stats
		WHERE date >= ? AND date <= ?
		GROUP BY strategy
	`, from, to)
}

// SaveLatencyCounts adds daily latency bucket counts.
func (s *SQLiteMetricsStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	return s.upsertDaily(`
		INSERT INTO query_latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`, date, stringKeys(counts))
}

// GetLatencyCounts sums latency bucket counts between from and to inclusive.
func (s *SQLiteMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	return getDaily[LatencyBucket](s.db, `
		SELECT bucket, SUM(count) FROM query_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
}

func stringKeys[K ~string](m map[K]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func (s *SQLiteMetricsStore) upsertDaily(query, date string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for key, count := range counts {
		if _, err := stmt.Exec(date, key, count); err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func getDaily[K ~string](db *sql.DB, query, from, to string) (map[K]int64, error) {
	rows, err := db.Query(query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query daily counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[K]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[K(key)] = count
	}
	return out, rows.Err()
}

// UpsertTermCounts adds term frequencies.
func (s *SQLiteMetricsStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for term, count := range terms {
		if _, err := stmt.Exec(term, count); err != nil {
			return fmt.Errorf("upsert term %s: %w", term, err)
		}
	}
	return tx.Commit()
}

// GetTopTerms returns the most frequent terms.
func (s *SQLiteMetricsStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// AddZeroResultQuery records a zero-result query and trims the table.
func (s *SQLiteMetricsStore) AddZeroResultQuery(query string, timestamp time.Time) error {
	if _, err := s.db.Exec(`INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)`,
		query, timestamp.UnixMilli()); err != nil {
		return fmt.Errorf("insert zero result query: %w", err)
	}
	_, err := s.db.Exec(`
		DELETE FROM zero_result_queries
		WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)
	`, maxZeroResultRows)
	if err != nil {
		return fmt.Errorf("trim zero result queries: %w", err)
	}
	return nil
}

// GetZeroResultQueries returns recent zero-result queries, newest first.
func (s *SQLiteMetricsStore) GetZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero result queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// AppendSearchLog inserts one row per event.
func (s *SQLiteMetricsStore) AppendSearchLog(events []QueryEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO search_log
			(query, collections, strategy, result_count, latency_us, cache_hit, degraded, error_code, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, ev := range events {
		if _, err := stmt.Exec(
			ev.Query,
			strings.Join(ev.Collections, ","),
			ev.Strategy,
			ev.ResultCount,
			ev.Latency.Microseconds(),
			boolInt(ev.CacheHit),
			boolInt(ev.Degraded),
			ev.ErrorCode,
			ev.Timestamp.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert search log: %w", err)
		}
	}
	return tx.Commit()
}

// where renders f as a search_log WHERE clause. Collections are stored
// comma joined, so membership is matched with delimiters on both sides.
func (f LogFilter) where() (string, []any) {
	clause := "WHERE timestamp >= ?"
	args := []any{f.Since.UnixMilli()}
	if f.Collection != "" {
		clause += " AND instr(',' || collections || ',', ',' || ? || ',') > 0"
		args = append(args, f.Collection)
	}
	return clause, args
}

// RecentSearches returns the newest search log rows matching f first.
func (s *SQLiteMetricsStore) RecentSearches(limit int, f LogFilter) ([]QueryEvent, error) {
	where, args := f.where()
	rows, err := s.db.Query(`
		SELECT query, collections, strategy, result_count, latency_us, cache_hit, degraded, error_code, timestamp
		FROM search_log `+where+` ORDER BY id DESC LIMIT ?
	`, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("query search log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []QueryEvent
	for rows.Next() {
		var (
			ev          QueryEvent
			collections string
			latencyUS   int64
			cacheHit    int
			degraded    int
			ts          int64
		)
		if err := rows.Scan(&ev.Query, &collections, &ev.Strategy, &ev.ResultCount,
			&latencyUS, &cacheHit, &degraded, &ev.ErrorCode, &ts); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if collections != "" {
			ev.Collections = strings.Split(collections, ",")
		}
		ev.Latency = time.Duration(latencyUS) * time.Microsecond
		ev.CacheHit = cacheHit != 0
		ev.Degraded = degraded != 0
		ev.Timestamp = time.UnixMilli(ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Summarize aggregates search log rows matching f.
func (s *SQLiteMetricsStore) Summarize(f LogFilter) (*SearchSummary, error) {
	where, args := f.where()
	var (
		sum        SearchSummary
		avgLatency sql.NullFloat64
		avgResults sql.NullFloat64
	)
	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(cache_hit), 0),
			COALESCE(SUM(degraded), 0),
			COALESCE(SUM(CASE WHEN error_code != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN error_code = '' AND result_count = 0 THEN 1 ELSE 0 END), 0),
			AVG(latency_us),
			AVG(result_count)
		FROM search_log `+where, args...).Scan(&sum.Total, &sum.CacheHits, &sum.Degraded, &sum.Failed,
		&sum.ZeroResult, &avgLatency, &avgResults)
	if err != nil {
		return nil, fmt.Errorf("summarize search log: %w", err)
	}
	sum.AvgLatency = time.Duration(avgLatency.Float64) * time.Microsecond
	sum.AvgResults = avgResults.Float64
	return &sum, nil
}

// DailyTrend returns one row per UTC day with searches matching f, oldest
// first. Days without searches are omitted.
func (s *SQLiteMetricsStore) DailyTrend(f LogFilter) ([]DailySearches, error) {
	where, args := f.where()
	rows, err := s.db.Query(`
		SELECT
			strftime('%Y-%m-%d', timestamp / 1000, 'unixepoch') AS day,
			COUNT(*),
			COALESCE(SUM(CASE WHEN error_code = '' AND result_count = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN error_code != '' THEN 1 ELSE 0 END), 0),
			AVG(latency_us)
		FROM search_log `+where+`
		GROUP BY day ORDER BY day
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query daily trend: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DailySearches
	for rows.Next() {
		var (
			d   DailySearches
			avg sql.NullFloat64
		)
		if err := rows.Scan(&d.Date, &d.Searches, &d.ZeroResult, &d.Failed, &avg); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		d.AvgLatency = time.Duration(avg.Float64) * time.Microsecond
		out = append(out, d)
	}
	return out, rows.Err()
}

// StrategyBreakdown counts search log rows matching f per strategy.
func (s *SQLiteMetricsStore) StrategyBreakdown(f LogFilter) (map[string]int64, error) {
	where, args := f.where()
	rows, err := s.db.Query(`SELECT strategy, COUNT(*) FROM search_log `+where+` GROUP BY strategy`, args...)
	if err != nil {
		return nil, fmt.Errorf("query strategy breakdown: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			name string
			n    int64
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close is a no-op; the database handle belongs to the caller.
func (s *SQLiteMetricsStore) Close() error {
	return nil
}
