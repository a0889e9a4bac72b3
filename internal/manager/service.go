// Package manager ties staging, extraction and the operation journal
// together for the CLI and the HTTP server.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/teamcutter/dirup/internal/domain"
)

type Manager struct {
	stager    domain.Stager
	extractor domain.Extractor
	journal   domain.Journal
	timeout   time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	roots map[string]*sync.Mutex
}

type Option func(*Manager)

func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func New(stager domain.Stager, extractor domain.Extractor, journal domain.Journal, opts ...Option) *Manager {
	m := &Manager{
		stager:    stager,
		extractor: extractor,
		journal:   journal,
		logger:    slog.Default(),
		roots:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Upload stages r under name and merges it into policy.TargetDirectory.
// The returned operation is non-nil whenever extraction was attempted.
func (m *Manager) Upload(ctx context.Context, name string, r io.Reader, size int64, policy domain.UploadPolicy) (*domain.Operation, error) {
	staged, err := m.stager.Put(name, r, size)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, name, staged, policy)
}

// ExtractFile stages a copy of the archive at path and merges it. The
// original file is left in place.
func (m *Manager) ExtractFile(ctx context.Context, path string, policy domain.UploadPolicy) (*domain.Operation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return m.Upload(ctx, filepath.Base(path), f, info.Size(), policy)
}

// Fetch downloads the archive at url into staging and merges it.
func (m *Manager) Fetch(ctx context.Context, url, sha256 string, policy domain.UploadPolicy) (*domain.Operation, error) {
	staged, err := m.stager.Fetch(ctx, url, sha256)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, filepath.Base(url), staged, policy)
}

// Preview stages r, plans it against the target and discards the staged
// copy. Nothing in the target is modified.
func (m *Manager) Preview(name string, r io.Reader, size int64, policy domain.UploadPolicy) (*domain.MergePlan, error) {
	staged, err := m.stager.Put(name, r, size)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := m.stager.Discard(staged); err != nil {
			m.logger.Warn("failed to remove staged archive", "path", staged, "error", err)
		}
	}()

	return m.extractor.Preview(staged, policy)
}

func (m *Manager) PreviewFile(path string, policy domain.UploadPolicy) (*domain.MergePlan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return m.Preview(filepath.Base(path), f, info.Size(), policy)
}

func (m *Manager) History(limit int) ([]*domain.Operation, error) {
	return m.journal.List(limit)
}

func (m *Manager) run(ctx context.Context, name, staged string, policy domain.UploadPolicy) (*domain.Operation, error) {
	op := &domain.Operation{
		ArchiveName: name,
		ArchivePath: staged,
		TargetRoot:  policy.TargetDirectory,
		Overwrite:   policy.AllowOverwrite,
	}
	if err := m.journal.Begin(op); err != nil {
		if derr := m.stager.Discard(staged); derr != nil {
			m.logger.Warn("failed to remove staged archive", "path", staged, "error", derr)
		}
		return nil, fmt.Errorf("failed to record operation: %w", err)
	}

	unlock := m.lockRoot(policy.TargetDirectory)
	defer unlock()

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	logger := m.logger.With("id", op.ID, "archive", name, "target", policy.TargetDirectory)
	logger.Debug("extraction started", "overwrite", policy.AllowOverwrite)

	summary, err := m.extractor.Extract(ctx, staged, policy)
	op.FinishedAt = time.Now()
	if err != nil {
		op.Status = domain.StatusFailed
		op.Error = err.Error()
		op.Summary = domain.PartialOf(err)
		if kind, ok := domain.KindOf(err); ok {
			op.ErrorKind = kind
		}
		logger.Error("extraction aborted", "kind", op.ErrorKind, "error", err)
	} else {
		op.Status = domain.StatusCompleted
		op.Summary = summary
		logger.Info("extraction completed",
			"added", len(summary.Added),
			"overwritten", len(summary.Overwritten),
			"skipped", len(summary.Skipped),
			"rejected", len(summary.Rejected))
	}

	if ferr := m.journal.Finish(op); ferr != nil {
		logger.Warn("failed to record operation result", "error", ferr)
		if err == nil {
			err = fmt.Errorf("failed to record operation: %w", ferr)
		} else {
			err = errors.Join(err, ferr)
		}
	}

	return op, err
}

// lockRoot serialises operations on the same target tree. Roots are keyed
// by their symlink-resolved path.
func (m *Manager) lockRoot(root string) func() {
	key := filepath.Clean(root)
	if real, err := filepath.EvalSymlinks(root); err == nil {
		key = real
	}

	m.mu.Lock()
	l, ok := m.roots[key]
	if !ok {
		l = &sync.Mutex{}
		m.roots[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}
