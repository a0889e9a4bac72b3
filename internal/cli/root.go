package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/teamcutter/dirup/internal/config"
	"github.com/teamcutter/dirup/internal/domain"
	"github.com/teamcutter/dirup/internal/executor"
	"github.com/teamcutter/dirup/internal/extractor"
	"github.com/teamcutter/dirup/internal/manager"
	"github.com/teamcutter/dirup/internal/report"
	"github.com/teamcutter/dirup/internal/staging"
	"github.com/teamcutter/dirup/internal/state"
)

type globals struct {
	output  string
	verbose bool
	format  report.Format
	logger  *slog.Logger
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:           "dirup",
		Short:         "Merge uploaded ZIP archives into a directory tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(g.output)
			if err != nil {
				return err
			}
			g.format = f
			g.logger = newLogger(cmd.ErrOrStderr(), g.verbose)
			slog.SetDefault(g.logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "Output format: text, json or yaml")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log every entry decision")

	rootCmd.AddCommand(
		newInitCmd(g),
		newExtractCmd(g),
		newPlanCmd(g),
		newHistoryCmd(g),
		newServeCmd(g),
		newPasswdCmd(g),
		newClearCmd(g),
		newVersionCmd(),
	)
	return rootCmd
}

// app holds the collaborators of one command invocation.
type app struct {
	cfg     *config.Config
	area    *staging.Area
	journal *state.SQLiteJournal
	mgr     *manager.Manager
}

type appOptions struct {
	// progress renders bars on stderr for a single interactive run.
	progress bool
	// recover closes out pending operations left by dead processes.
	recover bool
}

func newApp(g *globals, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var stagingOpts []staging.Option
	var extractOpts = []extractor.Option{extractor.WithLogger(g.logger)}
	if opts.progress {
		stagingOpts = append(stagingOpts, staging.WithProgress(os.Stderr))
		extractOpts = append(extractOpts, extractor.WithProgress(progressObserver(os.Stderr)))
	}
	stagingOpts = append(stagingOpts, staging.WithTimeout(cfg.Timeout.Duration))

	area, err := staging.New(cfg.StagingDir, cfg.MaxSizeBytes(), stagingOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare staging: %w", err)
	}

	journalOpts := []state.Option{state.WithDiscard(area.Discard), state.WithLogger(g.logger)}
	if opts.recover {
		journalOpts = append(journalOpts, state.WithRecovery())
	}
	journal, err := state.NewSQLite(cfg.StateDB, journalOpts...)
	if err != nil {
		return nil, err
	}

	mgr := manager.New(
		area,
		extractor.New(area.Dir(), extractOpts...),
		journal,
		manager.WithTimeout(cfg.Timeout.Duration),
		manager.WithLogger(g.logger),
	)

	return &app{cfg: cfg, area: area, journal: journal, mgr: mgr}, nil
}

func (a *app) Close() error {
	return a.journal.Close()
}

type policyFlags struct {
	target    string
	overwrite bool
	strict    bool
}

func (p *policyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&p.target, "target", "t", "", "Target directory (defaults to target_dir from config)")
	cmd.Flags().BoolVar(&p.overwrite, "overwrite", false, "Replace files that already exist")
	cmd.Flags().BoolVar(&p.strict, "strict", false, "Abort when any file already exists")
}

// policy applies the flags that were set on top of the configured policy.
func (p *policyFlags) policy(cmd *cobra.Command, cfg *config.Config) (domain.UploadPolicy, error) {
	policy := cfg.Policy()
	if p.target != "" {
		abs, err := filepath.Abs(p.target)
		if err != nil {
			return policy, err
		}
		policy.TargetDirectory = abs
	}
	if cmd.Flags().Changed("overwrite") {
		policy.AllowOverwrite = p.overwrite
	}
	if cmd.Flags().Changed("strict") {
		policy.AbortOnAnyCollision = p.strict
	}
	return policy, policy.Validate()
}

func progressObserver(w io.Writer) extractor.ProgressFunc {
	return func(total int) executor.Observer {
		bar := progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("Extracting"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		return executor.ObserverFunc(func(domain.PlanItem) {
			_ = bar.Add(1)
		})
	}
}

var errAborted = errors.New("aborted")
