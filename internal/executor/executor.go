// Package executor applies a merge plan to the target tree.
//
// Writes are not atomic: a file is opened in place and streamed into, so a
// crash in the middle of a write leaves that one file partially written.
// There is no temp-file-and-rename step; new files are created with O_EXCL
// and overwrites truncate the existing file.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/teamcutter/dirup/internal/domain"
)

// ErrSymlinkTarget is returned instead of writing through a symlink that
// sits where a file is to be written.
var ErrSymlinkTarget = errors.New("refusing to write through a symlink")

// Opener yields the decompressed bytes of an archive entry.
type Opener interface {
	Open(entry domain.ArchiveEntry) (io.ReadCloser, error)
}

// Observer is told about every plan item once it has been applied.
type Observer interface {
	Applied(item domain.PlanItem)
}

type ObserverFunc func(item domain.PlanItem)

func (f ObserverFunc) Applied(item domain.PlanItem) {
	f(item)
}

type Executor struct {
	opener   Opener
	observer Observer
	logger   *slog.Logger
}

type Option func(*Executor)

func WithObserver(o Observer) Option {
	return func(e *Executor) {
		e.observer = o
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func New(opener Opener, opts ...Option) *Executor {
	e := &Executor{
		opener: opener,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies plan in order. On a fatal error it stops immediately and
// returns a *domain.ExtractError carrying the summary accumulated so far.
func (e *Executor) Execute(ctx context.Context, plan *domain.MergePlan, targetRoot string) (*domain.MergeSummary, error) {
	summary := domain.NewMergeSummary()
	root := filepath.Clean(targetRoot)

	fail := func(kind domain.ErrorKind, path string, err error) (*domain.MergeSummary, error) {
		ee := domain.NewExtractError(kind, path, err)
		ee.Stage = domain.StageExecuting
		ee.Partial = summary
		return summary, ee
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return fail(domain.KindDirectoryCreateFailed, root, err)
	}

	for _, item := range plan.Items {
		if err := ctx.Err(); err != nil {
			return fail(domain.KindCanceled, item.Entry.RawPath, err)
		}

		switch item.Decision.Action {
		case domain.ActionCreateDir:
			target := item.Path.Join(root)
			if err := os.MkdirAll(target, 0755); err != nil {
				return fail(domain.KindDirectoryCreateFailed, item.Path.String(), err)
			}
			e.logger.Debug("created directory", "path", item.Path)

		case domain.ActionWriteFile:
			target := item.Path.Join(root)
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fail(domain.KindDirectoryCreateFailed, item.Path.String(), err)
			}
			if err := e.writeFile(ctx, item, target); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return fail(domain.KindCanceled, item.Path.String(), err)
				}
				return fail(domain.KindWriteFailed, item.Path.String(), err)
			}
			e.logger.Debug("wrote file", "path", item.Path, "overwrite", item.Decision.Overwrite)

		case domain.ActionSkip:
			e.logger.Info("skipped entry", "path", item.Path, "reason", item.Decision.Reason)

		case domain.ActionReject:
			e.logger.Warn("rejected entry", "path", item.Entry.RawPath, "reason", item.Decision.Reason)

		default:
			return fail(domain.KindWriteFailed, item.Entry.RawPath, fmt.Errorf("unknown action %v", item.Decision.Action))
		}

		summary.Record(item)
		if e.observer != nil {
			e.observer.Applied(item)
		}
	}

	return summary, nil
}

func (e *Executor) writeFile(ctx context.Context, item domain.PlanItem, target string) error {
	rc, err := e.opener.Open(item.Entry)
	if err != nil {
		return fmt.Errorf("opening entry: %w", err)
	}
	defer rc.Close()

	if info, err := os.Lstat(target); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		return fmt.Errorf("%w: %s", ErrSymlinkTarget, target)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if item.Decision.Overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}

	out, err := os.OpenFile(target, flags, fileMode(item.Entry.Mode))
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: rc}); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

func fileMode(m fs.FileMode) fs.FileMode {
	perm := m.Perm()
	if perm == 0 {
		return 0644
	}
	return perm
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
