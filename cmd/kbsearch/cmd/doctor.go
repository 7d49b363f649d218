package cmd

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/preflight"
)

// errDoctorFailed is returned when a required check fails.
var errDoctorFailed = errors.New("system check failed")

// DoctorOutput is the JSON form of a doctor run.
type DoctorOutput struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
		noProbe    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment and diagnose issues",
		Long: `Run diagnostics to make sure kbsearch can operate.

Checks:
  - Configuration validity
  - Data directory write access and free space (100MB minimum)
  - File descriptor limit (1024 minimum)
  - Database integrity and contents
  - Data directory lock (held while 'kbsearch serve' runs)
  - Reranker endpoint health, when one is configured

Reranker and lock problems are warnings: search falls back to embedding
similarity, and ingest only needs serve to be stopped.`,
		Example: `  kbsearch doctor
  kbsearch doctor --verbose
  kbsearch doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			checker := preflight.New(cfg, preflight.WithRerankerProbe(!noProbe))
			results := checker.RunAll(cmd.Context())

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(DoctorOutput{Status: preflight.SummaryStatus(results), Checks: results}); err != nil {
					return err
				}
			} else {
				printDoctorResults(output.New(cmd.OutOrStdout()), results, verbose)
			}

			if preflight.HasCriticalFailures(results) {
				return errDoctorFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for every check")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noProbe, "no-probe", false, "Do not contact the reranker endpoint")
	return cmd
}

func printDoctorResults(w *output.Writer, results []preflight.CheckResult, verbose bool) {
	styles := w.Styles()
	w.Header("kbsearch doctor")
	w.Newline()

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := r.Status.String()
		switch r.Status {
		case preflight.StatusPass:
			status = styles.Success.Render(status)
		case preflight.StatusWarn:
			status = styles.Warning.Render(status)
		case preflight.StatusFail:
			status = styles.Error.Render(status)
		}
		rows = append(rows, []string{status, r.Name, r.Message})
		// Details always show for problems.
		if r.Details != "" && (verbose || r.Status != preflight.StatusPass) {
			rows = append(rows, []string{"", "", styles.Dim.Render(r.Details)})
		}
	}
	w.Table([]string{"STATUS", "CHECK", "RESULT"}, rows)
	w.Newline()

	switch preflight.SummaryStatus(results) {
	case "failed":
		w.Error("Not ready: fix the failed checks above")
	case "ready_with_warnings":
		w.Warning("Ready with warnings")
	default:
		w.Success("Ready")
	}
}
