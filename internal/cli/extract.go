package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teamcutter/dirup/internal/domain"
	"github.com/teamcutter/dirup/internal/report"
)

func newExtractCmd(g *globals) *cobra.Command {
	var pf policyFlags
	var sha256 string

	cmd := &cobra.Command{
		Use:   "extract <zip|url>...",
		Short: "Merge archives into the target directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sha256 != "" && len(args) > 1 {
				return fmt.Errorf("--sha256 applies to a single archive")
			}

			a, err := newApp(g, appOptions{
				progress: len(args) == 1 && g.format == report.FormatText,
				recover:  true,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			policy, err := pf.policy(cmd, a.cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			results := make([]report.Result, len(args))

			eg, ectx := errgroup.WithContext(ctx)
			eg.SetLimit(min(len(args), a.cfg.MaxParallel))

			stopSpinner := func() {}
			if len(args) > 1 && g.format == report.FormatText {
				stopSpinner = withSpinner(ectx, cmd.ErrOrStderr(), fmt.Sprintf("Extracting %d archives...", len(args)))
			}

			for i, src := range args {
				i, src := i, src
				eg.Go(func() error {
					var op *domain.Operation
					var err error
					if isURL(src) {
						op, err = a.mgr.Fetch(ectx, src, sha256, policy)
					} else {
						op, err = a.mgr.ExtractFile(ectx, src, policy)
					}

					var summary *domain.MergeSummary
					if op != nil {
						summary = op.Summary
						if err != nil && op.Status == domain.StatusCompleted {
							g.logger.Warn("extraction was not journaled", "archive", src, "error", err)
							err = nil
						}
					}
					results[i] = report.NewResult(src, summary, err)
					return nil
				})
			}
			_ = eg.Wait()
			stopSpinner()

			if err := report.Results(cmd.OutOrStdout(), g.format, results); err != nil {
				return err
			}

			aborted := 0
			for _, r := range results {
				if r.Status != report.StatusCompleted {
					aborted++
				}
			}
			if aborted > 0 {
				return fmt.Errorf("%w: %d of %d archive(s)", errAborted, aborted, len(results))
			}
			return nil
		},
	}

	pf.register(cmd)
	cmd.Flags().StringVar(&sha256, "sha256", "", "Expected SHA256 of a downloaded archive")
	return cmd
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
