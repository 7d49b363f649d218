package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbsearch/internal/feedback"
	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/search"
)

// strategiesReport is the JSON output of the strategies command.
type strategiesReport struct {
	Strategies []search.StrategyInfo `json:"strategies"`
	Stats      []feedback.Snapshot   `json:"stats,omitempty"`
}

func newStrategiesCmd() *cobra.Command {
	var collections []string
	var all bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "strategies",
		Short: "List retrieval strategies and their feedback per collection",
		Long: `List retrieval strategies. With --collection, also show the feedback each
strategy has collected there; the selector prefers the strategy with the best
positive ratio once it has enough samples.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			report := strategiesReport{Strategies: a.engine.GetStrategies()}
			if all {
				collections = a.feedback.Collections()
			}
			for _, c := range collections {
				report.Stats = append(report.Stats, a.feedback.Snapshot(c))
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			renderStrategies(output.New(cmd.OutOrStdout()), report, a.engine.Settings().MinFeedbackSamples)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&collections, "collection", "c", nil, "Show feedback stats for this collection (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "Show feedback stats for every collection that has feedback")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderStrategies(out *output.Writer, report strategiesReport, minSamples int64) {
	rows := make([][]string, 0, len(report.Strategies))
	for _, s := range report.Strategies {
		rows = append(rows, []string{string(s.Name), s.Description})
	}
	out.Table([]string{"STRATEGY", "DESCRIPTION"}, rows)

	for _, snap := range report.Stats {
		out.Newline()
		out.Header("Collection " + snap.Collection)
		rows := make([][]string, 0, len(snap.Strategies))
		for _, st := range snap.Strategies {
			ratio := "-"
			if st.Samples() > 0 {
				ratio = fmt.Sprintf("%.0f%%", st.PositiveRatio()*100)
			}
			if st.Samples() < minSamples {
				ratio += fmt.Sprintf(" (%d/%d samples)", st.Samples(), minSamples)
			}
			rows = append(rows, []string{
				string(st.Strategy),
				strconv.FormatInt(st.Positive, 10),
				strconv.FormatInt(st.Negative, 10),
				ratio,
			})
		}
		out.Table([]string{"STRATEGY", "POSITIVE", "NEGATIVE", "RATIO"}, rows)
	}
}
