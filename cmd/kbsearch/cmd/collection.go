package cmd

import (
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbsearch/internal/config"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/store"
)

// acquireLock takes the data directory lock. Commands that rewrite indexed
// data hold it so they cannot run next to serve.
func acquireLock(cfg *config.Config) (*store.DirLock, error) {
	lock := store.NewDirLock(cfg.Data.Dir)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, kberrors.StorageError("lock data directory", err)
	}
	if !ok {
		return nil, kberrors.New(kberrors.ErrCodeStorageUnavailable,
			"data directory "+cfg.Data.Dir+" is in use by another kbsearch process", nil).
			WithSuggestion("Stop 'kbsearch serve' and try again.")
	}
	return lock, nil
}

func newCollectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collection",
		Aliases: []string{"collections"},
		Short:   "Manage collections",
	}

	cmd.AddCommand(newCollectionCreateCmd())
	cmd.AddCommand(newCollectionListCmd())
	cmd.AddCommand(newCollectionDeleteCmd())
	return cmd
}

func newCollectionCreateCmd() *cobra.Command {
	var name, description string

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a collection, or update its name and description",
		Example: `  kbsearch collection create runbooks --name "Ops runbooks"
  kbsearch collection create help-center --description "Public help articles"`,
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

			c := &store.Collection{ID: args[0], Name: name, Description: description}
			if err := st.CreateCollection(cmd.Context(), c); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Collection %s ready", c.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (default: the id)")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	return cmd
}

func newCollectionListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List collections",
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

			cols, err := st.ListCollections(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				if cols == nil {
					cols = []*store.Collection{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cols)
			}

			out := output.New(cmd.OutOrStdout())
			if len(cols) == 0 {
				out.Status("", "No collections. Create one with 'kbsearch collection create <id>'.")
				return nil
			}
			rows := make([][]string, 0, len(cols))
			for _, c := range cols {
				rows = append(rows, []string{
					c.ID, c.Name, strconv.Itoa(c.DocumentCount),
					c.CreatedAt.Local().Format("2006-01-02"), c.Description,
				})
			}
			out.Table([]string{"ID", "NAME", "DOCS", "CREATED", "DESCRIPTION"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newCollectionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a collection and its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			lock, err := acquireLock(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = lock.Unlock() }()

			st, _, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.DeleteCollection(cmd.Context(), args[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Deleted collection %s", args[0])
			return nil
		},
	}
}
