// Package extractor merges an uploaded ZIP archive into a target tree.
//
// Extract runs Opening -> Planning -> Executing -> Cleanup. Cleanup always
// runs: the archive handle is closed and the staged upload is removed exactly
// once, whether the operation finished or aborted. An archive that is not a
// regular file inside the staging directory is refused before it is opened
// and is never removed.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/teamcutter/dirup/internal/domain"
	"github.com/teamcutter/dirup/internal/executor"
	"github.com/teamcutter/dirup/internal/planner"
	"github.com/teamcutter/dirup/internal/probe"
	"github.com/teamcutter/dirup/internal/sanitize"
)

var ErrOutsideStaging = errors.New("archive is not inside the staging directory")

// ProgressFunc returns an observer for an operation of total plan items.
type ProgressFunc func(total int) executor.Observer

type Extractor struct {
	stagingDir string
	prober     domain.Prober
	progress   ProgressFunc
	logger     *slog.Logger
}

type Option func(*Extractor)

func WithProber(p domain.Prober) Option {
	return func(e *Extractor) {
		e.prober = p
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(e *Extractor) {
		e.progress = fn
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

func New(stagingDir string, opts ...Option) *Extractor {
	e := &Extractor{
		stagingDir: stagingDir,
		prober:     probe.New(nil),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract merges the staged archive into policy.TargetDirectory. A non-nil
// error is always a *domain.ExtractError whose Partial summary is set.
func (e *Extractor) Extract(ctx context.Context, archivePath string, policy domain.UploadPolicy) (*domain.MergeSummary, error) {
	logger := e.logger.With("archive", filepath.Base(archivePath), "target", policy.TargetDirectory)
	partial := domain.NewMergeSummary()
	stage := domain.StageOpening

	fail := func(err error, kind domain.ErrorKind, path string) error {
		var ee *domain.ExtractError
		if !errors.As(err, &ee) {
			ee = domain.NewExtractError(kind, path, err)
		}
		if ee.Stage == "" {
			ee.Stage = stage
		}
		if ee.Partial == nil {
			ee.Partial = partial
		}
		logger.Error("extraction aborted", "stage", ee.Stage, "kind", ee.Kind, "error", ee.Err)
		return ee
	}

	staged, err := e.checkStaged(archivePath)
	if err != nil {
		return nil, fail(err, domain.KindStagingViolation, archivePath)
	}
	defer e.cleanup(staged, logger)

	if err := policy.Validate(); err != nil {
		return nil, fail(err, domain.KindInvalidPolicy, policy.TargetDirectory)
	}
	if err := ctx.Err(); err != nil {
		return nil, fail(err, domain.KindCanceled, "")
	}

	logger.Debug("stage", "stage", stage)
	archive, err := e.open(staged)
	if err != nil {
		return nil, fail(err, domain.KindArchiveOpenFailed, archivePath)
	}
	defer archive.Close()

	stage = domain.StagePlanning
	logger.Debug("stage", "stage", stage)
	plan, err := planner.Plan(archive.Entries(), policy, e.prober)
	if err != nil {
		return nil, fail(err, domain.KindProbeFailed, "")
	}
	if err := planner.CheckStrict(plan, policy); err != nil {
		return nil, fail(err, domain.KindCollisionAbort, "")
	}

	stage = domain.StageExecuting
	logger.Debug("stage", "stage", stage, "entries", len(plan.Items))
	opts := []executor.Option{executor.WithLogger(logger)}
	if e.progress != nil {
		opts = append(opts, executor.WithObserver(e.progress(len(plan.Items))))
	}
	summary, err := executor.New(archive, opts...).Execute(ctx, plan, policy.TargetDirectory)
	if err != nil {
		return nil, fail(err, domain.KindWriteFailed, "")
	}

	logger.Info("extraction completed",
		"added", len(summary.Added),
		"overwritten", len(summary.Overwritten),
		"skipped", len(summary.Skipped),
		"rejected", len(summary.Rejected))
	return summary, nil
}

// Preview plans the merge without touching the target or removing the
// archive. When strict collision mode would abort, the plan is returned
// together with the CollisionAbort error.
func (e *Extractor) Preview(archivePath string, policy domain.UploadPolicy) (*domain.MergePlan, error) {
	staged, err := e.checkStaged(archivePath)
	if err != nil {
		ee := domain.NewExtractError(domain.KindStagingViolation, archivePath, err)
		ee.Stage = domain.StageOpening
		return nil, ee
	}
	if err := policy.Validate(); err != nil {
		return nil, domain.NewExtractError(domain.KindInvalidPolicy, policy.TargetDirectory, err)
	}

	archive, err := e.open(staged)
	if err != nil {
		ee := domain.NewExtractError(domain.KindArchiveOpenFailed, archivePath, err)
		ee.Stage = domain.StageOpening
		return nil, ee
	}
	defer archive.Close()

	plan, err := planner.Plan(archive.Entries(), policy, e.prober)
	if err != nil {
		return nil, err
	}
	return plan, planner.CheckStrict(plan, policy)
}

func (e *Extractor) open(path string) (*ZIPArchive, error) {
	archive, err := OpenZIP(path)
	if err == nil {
		return archive, nil
	}
	if format, serr := Sniff(path); serr == nil && format != FormatZIP && format != FormatUnknown {
		return nil, fmt.Errorf("%s data is not a ZIP archive: %w", format, err)
	}
	return nil, err
}

// checkStaged returns the resolved path of archivePath if it is a regular
// file strictly inside the staging directory.
func (e *Extractor) checkStaged(archivePath string) (string, error) {
	if e.stagingDir == "" {
		return "", fmt.Errorf("%w: no staging directory configured", ErrOutsideStaging)
	}

	realStaging, err := filepath.EvalSymlinks(e.stagingDir)
	if err != nil {
		return "", fmt.Errorf("resolving staging directory: %w", err)
	}

	abs, err := filepath.Abs(archivePath)
	if err != nil {
		return "", err
	}
	realDir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOutsideStaging, err)
	}
	resolved := filepath.Join(realDir, filepath.Base(abs))

	if resolved == realStaging || !sanitize.Within(realStaging, resolved) {
		return "", fmt.Errorf("%w: %s", ErrOutsideStaging, archivePath)
	}

	info, err := os.Lstat(resolved)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrOutsideStaging, archivePath)
	}

	return resolved, nil
}

func (e *Extractor) cleanup(staged string, logger *slog.Logger) {
	logger.Debug("stage", "stage", domain.StageCleanup)
	if err := os.Remove(staged); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("temp file cleanup failed", "path", staged, "error", err)
	}
}
