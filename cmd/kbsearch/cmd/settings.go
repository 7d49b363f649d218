package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/search"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change persisted engine settings",
		Long: `Show or change engine settings. Changed settings are stored in the database
and take precedence over the configuration file on the next start. A running
'kbsearch serve' picks them up when it restarts.`,
	}

	cmd.AddCommand(newSettingsShowCmd())
	cmd.AddCommand(newSettingsSetCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective settings",
		Args:  cobra.NoArgs,
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

			kv := a.engine.Settings().Map()
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(kv)
			}
			renderSettings(output.New(cmd.OutOrStdout()), kv)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderSettings(out *output.Writer, kv map[string]string) {
	pairs := make([][2]string, 0, len(kv))
	for _, k := range search.SettingKeys() {
		pairs = append(pairs, [2]string{k, kv[k]})
	}
	out.KeyValues(pairs)
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key=value>...",
		Short: "Change one or more settings",
		Long: `Change one or more settings. All changes are validated together and either
all apply or none do.

Keys: ` + strings.Join(search.SettingKeys(), ", "),
		Example: `  kbsearch settings set weights.semantic=0.6 weights.fulltext=0.4
  kbsearch settings set cache_ttl=30m cache_capacity=5000`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, err := parseAssignments(args)
			if err != nil {
				return err
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

			next, err := a.engine.Settings().Apply(kv)
			if err != nil {
				return err
			}
			if err := a.engine.UpdateSettings(cmd.Context(), next); err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			out.Successf("Updated %d setting(s)", len(kv))
			renderSettings(out, a.engine.Settings().Map())
			return nil
		},
	}
}

func parseAssignments(args []string) (map[string]string, error) {
	kv := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, kberrors.InvalidQuery("expected key=value, got %q", arg)
		}
		kv[k] = strings.TrimSpace(v)
	}
	return kv, nil
}
