// Package cmd provides the CLI commands for kbsearch.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbsearch/internal/config"
	"github.com/Aman-CERP/kbsearch/internal/profiling"
	"github.com/Aman-CERP/kbsearch/pkg/version"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	projectDir string
	dataDir    string
	debug      bool
	profile    profiling.Options
}

var (
	globals  globalOptions
	profiler *profiling.Session
)

// NewRootCmd creates the root command for the kbsearch CLI.
func NewRootCmd() *cobra.Command {
	globals = globalOptions{}

	cmd := &cobra.Command{
		Use:   "kbsearch",
		Short: "Search orchestration over knowledge base collections",
		Long: `kbsearch searches one or more knowledge base collections with semantic,
full-text or hybrid retrieval, picking a strategy per collection from the
query and from user feedback. Results can be reranked, clustered and are
cached.

Run 'kbsearch serve' to expose the engine to MCP clients over stdio.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("kbsearch version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&globals.projectDir, "dir", "", "Project directory holding .kbsearch.yaml (default: nearest project root)")
	pf.StringVar(&globals.dataDir, "data-dir", "", "Override the data directory (database, lock, logs)")
	pf.BoolVar(&globals.debug, "debug", false, "Enable debug logging, mirrored to stderr")
	pf.StringVar(&globals.profile.CPUPath, "profile-cpu", "", "Write CPU profile to file")
	pf.StringVar(&globals.profile.HeapPath, "profile-mem", "", "Write memory profile to file")
	pf.StringVar(&globals.profile.TracePath, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfiling
	cmd.PersistentPostRunE = stopProfiling

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newFeedbackCmd())
	cmd.AddCommand(newStrategiesCmd())
	cmd.AddCommand(newCollectionCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newSettingsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startProfiling(_ *cobra.Command, _ []string) error {
	if !globals.profile.Enabled() {
		return nil
	}
	s, err := profiling.Start(globals.profile)
	if err != nil {
		return err
	}
	profiler = s
	return nil
}

func stopProfiling(_ *cobra.Command, _ []string) error {
	err := profiler.Stop()
	profiler = nil
	return err
}

// loadConfig resolves the project directory and loads the configuration,
// applying --data-dir last.
func loadConfig() (*config.Config, error) {
	dir := globals.projectDir
	if dir == "" {
		root, err := config.FindProjectRoot(".")
		if err != nil {
			return nil, fmt.Errorf("find project root: %w", err)
		}
		dir = root
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if globals.dataDir != "" {
		cfg.Data.Dir = globals.dataDir
	}
	return cfg, nil
}

// projectDir is the directory whose config files are loaded and watched.
func projectDir() string {
	if globals.projectDir != "" {
		return globals.projectDir
	}
	root, err := config.FindProjectRoot(".")
	if err != nil {
		return "."
	}
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
