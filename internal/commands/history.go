package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHistoryCommand(g *globalOptions) *cobra.Command {
	var forget string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List imported statements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if forget != "" {
				removed, err := ws.History.DeleteImport(ctx, forget)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("no import with id %s", forget)
				}
				fmt.Fprintf(out, "Forgot import %s; its file can be imported again\n", forget)
				return nil
			}

			recs, err := ws.History.ListImports(ctx)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "No imports yet")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "IMPORTED\tFILE\tSIZE\tTRANSACTIONS\tIMPORT ID")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
					r.ImportedAt.Local().Format("2006-01-02 15:04"), r.Fingerprint.Name, r.Fingerprint.Size, r.Count, r.ImportID)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&forget, "forget", "", "remove an import from the history by ID")

	return cmd
}
