package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/teamcutter/dirup/internal/config"
)

func newInitCmd(g *globals) *cobra.Command {
	var target string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to replace it)", path)
			}

			cfg := config.DefaultConfig()
			if target != "" {
				abs, err := filepath.Abs(target)
				if err != nil {
					return err
				}
				cfg.TargetDir = abs
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Wrote %s\n", green("✓"), path)
			fmt.Fprintf(out, "  %s %s\n", cyan("target:"), cfg.TargetDir)
			fmt.Fprintf(out, "  %s %s\n", cyan("staging:"), cfg.StagingDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "Directory uploads are merged into")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing config")
	return cmd
}
