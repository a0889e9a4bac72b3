package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teamcutter/dirup/internal/domain"
	"github.com/teamcutter/dirup/internal/report"
)

func newPlanCmd(g *globals) *cobra.Command {
	var pf policyFlags

	cmd := &cobra.Command{
		Use:   "plan <zip>",
		Short: "Show what extracting an archive would do",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			policy, err := pf.policy(cmd, a.cfg)
			if err != nil {
				return err
			}

			plan, err := a.mgr.PreviewFile(args[0], policy)
			if plan == nil {
				return err
			}
			if rerr := report.Plan(cmd.OutOrStdout(), g.format, args[0], plan); rerr != nil {
				return rerr
			}

			if kind, ok := domain.KindOf(err); ok && kind == domain.KindCollisionAbort {
				if g.format == report.FormatText {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", yellow("!"), err)
				}
				return nil
			}
			return err
		},
	}

	pf.register(cmd)
	return cmd
}
