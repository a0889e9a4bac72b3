package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teamcutter/dirup/internal/config"
	"github.com/teamcutter/dirup/internal/staging"
)

func newClearCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove leftover archives from the staging directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			area, err := staging.New(cfg.StagingDir, cfg.MaxSizeBytes())
			if err != nil {
				return err
			}

			size, _ := area.Size()

			if err := area.Clear(); err != nil {
				return fmt.Errorf("failed to clear staging: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s Staging cleared (%s freed)\n", green("✓"), formatSize(size))
			return nil
		},
	}
}
