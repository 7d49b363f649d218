package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show statistics and telemetry",
		Long:  `Display statistics about query patterns, performance and feedback.`,
	}

	cmd.AddCommand(newStatsQueriesCmd())
	cmd.AddCommand(newStatsFeedbackCmd())
	return cmd
}

func newStatsQueriesCmd() *cobra.Command {
	var (
		jsonOutput bool
		days       int
		collection string
	)

	cmd := &cobra.Command{
		Use:   "queries",
		Short: "Show query pattern statistics",
		Long: `Display query telemetry recorded by search and serve:
  - Totals, cache hits, degraded and failed searches
  - Strategy distribution
  - Top query terms
  - Zero-result queries
  - Latency distribution
  - Searches per day
  - The most recent searches

--collection narrows the totals, strategies, daily trend and recent
searches to searches that included that collection.`,
		Example: `  kbsearch stats queries
  kbsearch stats queries --days 30 --collection help-center --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, ms, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			stats, err := getQueryStats(ms, days, collection, time.Now())
			if err != nil {
				return fmt.Errorf("get query stats: %w", err)
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			printQueryStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Only count searches that included this collection")
	return cmd
}

// StatsQueriesOutput is the JSON output format for query stats.
type StatsQueriesOutput struct {
	Days                int                       `json:"days"`
	Collection          string                    `json:"collection,omitempty"`
	Summary             *telemetry.SearchSummary  `json:"summary"`
	StrategyCounts      map[string]int64          `json:"strategy_counts"`
	TopTerms            []telemetry.TermCount     `json:"top_terms"`
	ZeroResultQueries   []string                  `json:"zero_result_queries"`
	LatencyDistribution map[string]int64          `json:"latency_distribution"`
	Trend               []telemetry.DailySearches `json:"trend"`
	Recent              []StatsRecentSearch       `json:"recent"`
}

// StatsRecentSearch is one entry of the search log.
type StatsRecentSearch struct {
	Timestamp   time.Time `json:"timestamp"`
	Query       string    `json:"query"`
	Collections []string  `json:"collections"`
	Strategy    string    `json:"strategy"`
	Results     int       `json:"results"`
	LatencyMS   int64     `json:"latency_ms"`
	CacheHit    bool      `json:"cache_hit"`
	Degraded    bool      `json:"degraded"`
	ErrorCode   string    `json:"error_code,omitempty"`
}

func getQueryStats(ms *telemetry.SQLiteMetricsStore, days int, collection string, now time.Time) (*StatsQueriesOutput, error) {
	from := now.AddDate(0, 0, -(days - 1))
	fromDate, toDate := from.Format("2006-01-02"), now.Format("2006-01-02")
	filter := telemetry.LogFilter{
		Since:      time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location()),
		Collection: collection,
	}

	summary, err := ms.Summarize(filter)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	trend, err := ms.DailyTrend(filter)
	if err != nil {
		return nil, fmt.Errorf("get daily trend: %w", err)
	}
	var strategies map[string]int64
	if collection == "" {
		strategies, err = ms.GetStrategyCounts(fromDate, toDate)
	} else {
		strategies, err = ms.StrategyBreakdown(filter)
	}
	if err != nil {
		return nil, fmt.Errorf("get strategy counts: %w", err)
	}
	latency, err := ms.GetLatencyCounts(fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("get latency counts: %w", err)
	}
	topTerms, err := ms.GetTopTerms(10)
	if err != nil {
		return nil, fmt.Errorf("get top terms: %w", err)
	}
	zero, err := ms.GetZeroResultQueries(10)
	if err != nil {
		return nil, fmt.Errorf("get zero-result queries: %w", err)
	}
	recent, err := ms.RecentSearches(10, filter)
	if err != nil {
		return nil, fmt.Errorf("get recent searches: %w", err)
	}

	out := &StatsQueriesOutput{
		Days:                days,
		Collection:          collection,
		Summary:             summary,
		StrategyCounts:      strategies,
		TopTerms:            topTerms,
		ZeroResultQueries:   zero,
		LatencyDistribution: make(map[string]int64, len(latency)),
		Trend:               trend,
		Recent:              make([]StatsRecentSearch, 0, len(recent)),
	}
	if out.StrategyCounts == nil {
		out.StrategyCounts = map[string]int64{}
	}
	if out.TopTerms == nil {
		out.TopTerms = []telemetry.TermCount{}
	}
	if out.ZeroResultQueries == nil {
		out.ZeroResultQueries = []string{}
	}
	if out.Trend == nil {
		out.Trend = []telemetry.DailySearches{}
	}
	for b, n := range latency {
		out.LatencyDistribution[string(b)] = n
	}
	for _, ev := range recent {
		out.Recent = append(out.Recent, StatsRecentSearch{
			Timestamp:   ev.Timestamp,
			Query:       ev.Query,
			Collections: ev.Collections,
			Strategy:    ev.Strategy,
			Results:     ev.ResultCount,
			LatencyMS:   ev.Latency.Milliseconds(),
			CacheHit:    ev.CacheHit,
			Degraded:    ev.Degraded,
			ErrorCode:   ev.ErrorCode,
		})
	}
	return out, nil
}

func printQueryStats(w io.Writer, stats *StatsQueriesOutput) {
	out := output.New(w)
	title := fmt.Sprintf("Query statistics (last %d days)", stats.Days)
	if stats.Collection != "" {
		title = fmt.Sprintf("Query statistics for %s (last %d days)", stats.Collection, stats.Days)
	}
	out.Header(title)

	s := stats.Summary
	if s == nil || s.Total == 0 {
		out.Status("", "No searches recorded yet.")
		return
	}
	out.KeyValues([][2]string{
		{"Total", strconv.FormatInt(s.Total, 10)},
		{"Cache hits", fmt.Sprintf("%d (%.1f%%)", s.CacheHits, pct(s.CacheHits, s.Total))},
		{"Zero results", fmt.Sprintf("%d (%.1f%%)", s.ZeroResult, pct(s.ZeroResult, s.Total))},
		{"Degraded", strconv.FormatInt(s.Degraded, 10)},
		{"Failed", strconv.FormatInt(s.Failed, 10)},
		{"Avg latency", s.AvgLatency.Round(time.Millisecond).String()},
		{"Avg results", fmt.Sprintf("%.1f", s.AvgResults)},
	})

	if len(stats.StrategyCounts) > 0 {
		out.Newline()
		out.Header("Strategies")
		rows := make([][]string, 0, len(stats.StrategyCounts))
		for _, name := range []string{"semantic", "fulltext", "hybrid", "auto"} {
			if n, ok := stats.StrategyCounts[name]; ok {
				rows = append(rows, []string{name, strconv.FormatInt(n, 10)})
			}
		}
		out.Table([]string{"STRATEGY", "SEARCHES"}, rows)
	}

	if len(stats.Trend) > 0 {
		out.Newline()
		out.Header("Per day")
		rows := make([][]string, 0, len(stats.Trend))
		for _, d := range stats.Trend {
			rows = append(rows, []string{
				d.Date,
				strconv.FormatInt(d.Searches, 10),
				strconv.FormatInt(d.ZeroResult, 10),
				strconv.FormatInt(d.Failed, 10),
				d.AvgLatency.Round(time.Millisecond).String(),
			})
		}
		out.Table([]string{"DATE", "SEARCHES", "ZERO", "FAILED", "AVG LATENCY"}, rows)
	}

	if len(stats.LatencyDistribution) > 0 {
		out.Newline()
		out.Header("Latency")
		rows := make([][]string, 0, len(telemetry.LatencyBuckets))
		for _, b := range telemetry.LatencyBuckets {
			rows = append(rows, []string{string(b), strconv.FormatInt(stats.LatencyDistribution[string(b)], 10)})
		}
		out.Table([]string{"BUCKET", "SEARCHES"}, rows)
	}

	if len(stats.TopTerms) > 0 {
		out.Newline()
		out.Header("Top query terms")
		rows := make([][]string, 0, len(stats.TopTerms))
		for i, tc := range stats.TopTerms {
			rows = append(rows, []string{strconv.Itoa(i + 1), tc.Term, strconv.FormatInt(tc.Count, 10)})
		}
		out.Table([]string{"#", "TERM", "COUNT"}, rows)
	}

	if len(stats.ZeroResultQueries) > 0 {
		out.Newline()
		out.Header("Recent zero-result queries")
		for _, q := range stats.ZeroResultQueries {
			out.Statusf("-", "%q", q)
		}
	}

	if len(stats.Recent) > 0 {
		out.Newline()
		out.Header("Recent searches")
		rows := make([][]string, 0, len(stats.Recent))
		for _, r := range stats.Recent {
			flags := []string{}
			if r.CacheHit {
				flags = append(flags, "cached")
			}
			if r.Degraded {
				flags = append(flags, "degraded")
			}
			if r.ErrorCode != "" {
				flags = append(flags, r.ErrorCode)
			}
			rows = append(rows, []string{
				r.Timestamp.Local().Format("01-02 15:04:05"),
				r.Query,
				strings.Join(r.Collections, ","),
				r.Strategy,
				strconv.Itoa(r.Results),
				strconv.FormatInt(r.LatencyMS, 10) + "ms",
				strings.Join(flags, " "),
			})
		}
		out.Table([]string{"WHEN", "QUERY", "COLLECTIONS", "STRATEGY", "RESULTS", "LATENCY", ""}, rows)
	}
}

func pct(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func newStatsFeedbackCmd() *cobra.Command {
	var (
		jsonOutput bool
		filter     store.FeedbackFilter
	)

	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Show feedback totals per collection and strategy",
		Example: `  kbsearch stats feedback
  kbsearch stats feedback --collection help-center --user ana`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, _, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			counts, err := st.FilterFeedbackCounts(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				if counts == nil {
					counts = []store.FeedbackCount{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(counts)
			}

			out := output.New(cmd.OutOrStdout())
			if len(counts) == 0 {
				out.Status("", "No feedback recorded yet.")
				return nil
			}
			rows := make([][]string, 0, len(counts))
			for _, c := range counts {
				rows = append(rows, []string{
					c.Collection, c.Strategy,
					strconv.FormatInt(c.Positive, 10),
					strconv.FormatInt(c.Negative, 10),
					fmt.Sprintf("%.0f%%", pct(c.Positive, c.Positive+c.Negative)),
				})
			}
			out.Table([]string{"COLLECTION", "STRATEGY", "POSITIVE", "NEGATIVE", "RATIO"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVarP(&filter.Collection, "collection", "c", "", "Only count feedback on this collection")
	cmd.Flags().StringVar(&filter.UserID, "user", "", "Only count feedback from this user")
	return cmd
}
