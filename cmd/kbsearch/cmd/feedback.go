package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbsearch/internal/feedback"
	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/store"
)

func newFeedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record and inspect feedback on search results",
		Long: `Record and inspect feedback on search results.

Feedback is attributed to the collection and strategy that produced the
result, and steers strategy selection for that collection once enough has
been collected.`,
	}

	cmd.AddCommand(newFeedbackSubmitCmd())
	cmd.AddCommand(newFeedbackShowCmd())
	cmd.AddCommand(newFeedbackDeleteCmd())
	return cmd
}

type feedbackSubmitOptions struct {
	kind    string
	rating  float64
	comment string
	userID  string
}

func newFeedbackSubmitCmd() *cobra.Command {
	var opts feedbackSubmitOptions

	cmd := &cobra.Command{
		Use:   "submit <result-id>",
		Short: "Record feedback on a result",
		Example: `  kbsearch feedback submit 3f2a... --kind like
  kbsearch feedback submit 3f2a... --kind rating --rating 4 --comment "close, but outdated"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := feedback.ParseKind(opts.kind)
			if err != nil {
				return err
			}
			ev := feedback.Event{
				ResultID:  args[0],
				Kind:      kind,
				Comment:   opts.comment,
				UserID:    opts.userID,
				Timestamp: time.Now(),
			}
			if cmd.Flags().Changed("rating") {
				r := opts.rating
				ev.Rating = &r
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ack, err := a.engine.SubmitFeedback(cmd.Context(), ev)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			out.Successf("Recorded %s feedback %s", ack.Polarity, ack.FeedbackID)
			out.KeyValues([][2]string{
				{"Result", ack.ResultID},
				{"Collection", ack.Collection},
				{"Strategy", string(ack.Strategy)},
			})
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "like", "Feedback kind: like, dislike, rating, comment, detailed")
	cmd.Flags().Float64VarP(&opts.rating, "rating", "r", 0, "Rating from 1 to 5")
	cmd.Flags().StringVar(&opts.comment, "comment", "", "Free-text comment")
	cmd.Flags().StringVar(&opts.userID, "user", "", "User id to attach")
	return cmd
}

// feedbackReport is the JSON form of feedback show.
type feedbackReport struct {
	Summary *store.FeedbackSummary  `json:"summary"`
	Events  []*store.FeedbackRecord `json:"events"`
}

func newFeedbackShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <result-id>",
		Short: "Show the feedback recorded for a result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, _, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ctx := cmd.Context()
			sum, err := st.FeedbackSummary(ctx, args[0])
			if err != nil {
				return err
			}
			events, err := st.ListFeedback(ctx, args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(feedbackReport{Summary: sum, Events: events})
			}
			renderFeedback(output.New(cmd.OutOrStdout()), sum, events)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderFeedback(out *output.Writer, sum *store.FeedbackSummary, events []*store.FeedbackRecord) {
	out.Header("Feedback for " + sum.ResultID)
	if sum.Total == 0 {
		out.Status("", "No feedback recorded.")
		return
	}
	pairs := [][2]string{
		{"Total", strconv.Itoa(sum.Total)},
		{"Positive", fmt.Sprintf("%d (%.0f%%)", sum.Positive, sum.PositiveRate*100)},
		{"Negative", strconv.Itoa(sum.Negative)},
	}
	if sum.Rated > 0 {
		pairs = append(pairs, [2]string{"Avg rating", fmt.Sprintf("%.2f over %d", sum.AvgRating, sum.Rated)})
	}
	out.KeyValues(pairs)
	out.Newline()

	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		rating := ""
		if ev.Rating != nil {
			rating = strconv.FormatFloat(*ev.Rating, 'g', -1, 64)
		}
		rows = append(rows, []string{
			ev.CreatedAt.Local().Format("2006-01-02 15:04"),
			ev.Kind,
			rating,
			ev.Strategy,
			ev.UserID,
			ev.Comment,
			ev.ID,
		})
	}
	out.Table([]string{"WHEN", "KIND", "RATING", "STRATEGY", "USER", "COMMENT", "ID"}, rows)
}

func newFeedbackDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <feedback-id>",
		Short: "Delete one feedback event",
		Long: `Delete one feedback event. Strategy statistics are rebuilt from the
remaining feedback the next time the engine starts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, _, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.DeleteFeedback(cmd.Context(), args[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Deleted feedback %s", args[0])
			return nil
		},
	}
}
