package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/youruser/chainoftrust/internal/users"
)

func newUsersCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect registered subjects",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered subjects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := users.Open(opts.cfg.Database.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "no subjects registered")
				return nil
			}

			sent := color.New(color.FgGreen).SprintFunc()
			pending := color.New(color.FgYellow).SprintFunc()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSUBJECT\tUSERNAME\tNAME\tEMAIL\tREGISTERED\tMAILED")
			for _, u := range list {
				mailed := pending("no")
				if u.EmailedAt != nil {
					mailed = sent(u.EmailedAt.Format(time.DateTime))
				}
				fmt.Fprintf(tw, "%d\t#%s\t%s\t%s\t%s\t%s\t%s\n",
					u.ID, u.SubjectNo, u.Username, u.Name, u.Email, u.CreatedAt.Format(time.DateTime), mailed)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d subjects\n", len(list))
			return nil
		},
	})
	return cmd
}
