package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/teamcutter/dirup/internal/config"
	"github.com/teamcutter/dirup/internal/httpapi"
)

func newPasswdCmd(g *globals) *cobra.Command {
	var cost int
	var remove bool

	cmd := &cobra.Command{
		Use:   "passwd <user>",
		Short: "Set or remove an HTTP upload user (password read from stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := args[0]
			if user == "" || strings.ContainsAny(user, ":\x00") {
				return fmt.Errorf("invalid user name %q", user)
			}
			if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
				return fmt.Errorf("invalid cost %d (min=%d max=%d)", cost, bcrypt.MinCost, bcrypt.MaxCost)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if remove {
				if _, ok := cfg.Users[user]; !ok {
					return fmt.Errorf("user %s does not exist", user)
				}
				delete(cfg.Users, user)
				if err := config.Save(cfg); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s Removed %s\n", green("✓"), bold(user))
				return nil
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				if err != nil {
					return fmt.Errorf("no password on stdin: %w", err)
				}
				return fmt.Errorf("empty password")
			}

			hash, err := httpapi.HashPassword(password, cost)
			if err != nil {
				return err
			}
			cfg.Users[user] = hash
			if err := config.Save(cfg); err != nil {
				return err
			}

			fmt.Fprintf(out, "%s Saved %s\n", green("✓"), bold(user))
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the user instead")
	return cmd
}
