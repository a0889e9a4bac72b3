package cli

import (
	"github.com/spf13/cobra"

	"github.com/teamcutter/dirup/internal/report"
)

func newHistoryCmd(g *globals) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent extractions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ops, err := a.mgr.History(limit)
			if err != nil {
				return err
			}
			return report.History(cmd.OutOrStdout(), g.format, ops)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of operations to show (0 for all)")
	return cmd
}
