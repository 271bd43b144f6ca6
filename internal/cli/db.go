package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/youruser/chainoftrust/internal/users"
)

func newDBCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the user database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the database or bring it to the latest schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := users.Open(opts.cfg.Database.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(),
				"%s is up to date (%d subjects)\n", store.Path(), n)
			return nil
		},
	})

	var from string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Copy subjects from another database file",
		Long: `Import copies every subject from --from into the configured database,
keeping subject numbers and key hashes. Subjects whose username, email or
subject number already exist are skipped. The source is opened read-only,
so databases written by the older Python service can be imported as-is.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := users.OpenReadOnly(from)
			if err != nil {
				return fmt.Errorf("source database: %w", err)
			}
			defer src.Close()

			dst, err := users.Open(opts.cfg.Database.Path)
			if err != nil {
				return err
			}
			defer dst.Close()

			rep, err := dst.Import(cmd.Context(), src)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(out, "copied %d subjects\n", rep.Copied)
			if len(rep.Skipped) > 0 {
				warn := color.New(color.FgYellow)
				warn.Fprintf(out, "skipped %d subjects:\n", len(rep.Skipped))
				for _, name := range rep.Skipped {
					warn.Fprintf(out, "  %s\n", name)
				}
			}
			return nil
		},
	}
	importCmd.Flags().StringVar(&from, "from", "", "source database file")
	_ = importCmd.MarkFlagRequired("from")
	cmd.AddCommand(importCmd)

	return cmd
}
