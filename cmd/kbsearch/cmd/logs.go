package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbsearch/internal/logging"
	"github.com/Aman-CERP/kbsearch/internal/output"
)

type logsOptions struct {
	lines   int
	follow  bool
	level   string
	event   string
	pattern string
	since   time.Duration
	file    string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View kbsearch logs",
		Long: `View the structured log written by kbsearch commands and the MCP server.

Lines are shown as time, level, event and attributes. Filters combine: an
entry must pass all of them.`,
		Example: `  kbsearch logs -n 100
  kbsearch logs -f --level warn
  kbsearch logs --event search_failed --since 1h
  kbsearch logs --grep 'collection.*runbooks'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	f.BoolVarP(&opts.follow, "follow", "f", false, "Keep printing new entries")
	f.StringVar(&opts.level, "level", "", "Minimum level: debug, info, warn, error")
	f.StringVar(&opts.event, "event", "", "Only show this event, e.g. search_failed")
	f.StringVar(&opts.pattern, "grep", "", "Only show lines matching this regular expression")
	f.DurationVar(&opts.since, "since", 0, "Only show entries newer than this, e.g. 30m")
	f.StringVar(&opts.file, "file", "", "Read this log file instead of the data directory's")
	return cmd
}

func buildLogFilter(opts logsOptions, now time.Time) (logging.Filter, error) {
	filter := logging.Filter{Level: opts.level, Event: opts.event}
	if opts.level != "" {
		switch opts.level {
		case "debug", "info", "warn", "error":
		default:
			return filter, fmt.Errorf("invalid level %q (want debug, info, warn or error)", opts.level)
		}
	}
	if opts.pattern != "" {
		re, err := regexp.Compile(opts.pattern)
		if err != nil {
			return filter, fmt.Errorf("invalid --grep pattern: %w", err)
		}
		filter.Pattern = re
	}
	if opts.since > 0 {
		filter.Since = now.Add(-opts.since)
	}
	return filter, nil
}

func runLogs(cmd *cobra.Command, opts logsOptions) error {
	filter, err := buildLogFilter(opts, time.Now())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, err := logging.FindLogFile(cfg.Data.Dir, opts.file)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	styles := output.New(w).Styles()

	entries, err := logging.Tail(path, opts.lines, filter)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, logging.Format(e, styles.Level)); err != nil {
			return err
		}
	}
	if !opts.follow {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch := make(chan logging.Entry, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- logging.Follow(ctx, path, filter, 0, ch)
	}()
	for {
		select {
		case e := <-ch:
			if _, err := fmt.Fprintln(w, logging.Format(e, styles.Level)); err != nil {
				return err
			}
		case err := <-errc:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}
