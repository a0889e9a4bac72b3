package cli

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teamcutter/dirup/internal/httpapi"
)

func newServeCmd(g *globals) *cobra.Command {
	var addr string
	var insecure bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept archive uploads over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g, appOptions{recover: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.ListenAddr
			}
			if insecure {
				g.logger.Warn("authentication disabled", "addr", addr)
			}

			srv, err := httpapi.New(httpapi.Options{
				Service:        a.mgr,
				Policy:         a.cfg.Policy(),
				Users:          a.cfg.Users,
				InsecureNoAuth: insecure,
				Logger:         g.logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to listen_addr from config)")
	cmd.Flags().BoolVar(&insecure, "insecure-no-auth", false, "Serve without authentication when no users are configured")
	return cmd
}
