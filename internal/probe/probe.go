// Package probe inspects the target tree without mutating it.
package probe

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/teamcutter/dirup/internal/domain"
	"github.com/teamcutter/dirup/internal/sanitize"
)

// FS is the read-only slice of the filesystem the classifier needs.
type FS interface {
	Lstat(path string) (fs.FileInfo, error)
	Stat(path string) (fs.FileInfo, error)
	EvalSymlinks(path string) (string, error)
}

type OSFS struct{}

func (OSFS) Lstat(path string) (fs.FileInfo, error) {
	return os.Lstat(path)
}

func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (OSFS) EvalSymlinks(path string) (string, error) {
	return filepath.EvalSymlinks(path)
}

type Classifier struct {
	fs FS
}

func New(fsys FS) *Classifier {
	if fsys == nil {
		fsys = OSFS{}
	}
	return &Classifier{fs: fsys}
}

// Classify reports what currently exists at targetPath. Symlinks are
// followed and a dangling symlink counts as an existing file. Confine
// rejects dangling links before a write could follow them.
func (c *Classifier) Classify(targetPath string) (domain.TargetState, error) {
	info, err := c.fs.Lstat(targetPath)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Absent, nil
	}
	if err != nil {
		return domain.Absent, fmt.Errorf("lstat %s: %w", targetPath, err)
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		resolved, err := c.fs.Stat(targetPath)
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ExistingFile, nil
		}
		if err != nil {
			return domain.Absent, fmt.Errorf("stat %s: %w", targetPath, err)
		}
		info = resolved
	}

	if info.IsDir() {
		return domain.ExistingDirectory, nil
	}
	return domain.ExistingFile, nil
}

// Confine resolves symlinks in the longest existing prefix of targetPath
// and reports whether the result is still inside root. A symlink at
// targetPath itself is only accepted when it resolves to a directory, and
// a dangling link anywhere on the path is never accepted.
func (c *Classifier) Confine(root, targetPath string) (bool, error) {
	realRoot, err := c.fs.EvalSymlinks(root)
	if errors.Is(err, fs.ErrNotExist) {
		// nothing exists yet, so nothing can redirect the write
		return sanitize.Within(root, targetPath), nil
	}
	if err != nil {
		return false, fmt.Errorf("resolving root %s: %w", root, err)
	}

	// a file write would follow a leaf symlink, so only directory links
	// may sit at the target path
	if info, err := c.fs.Lstat(targetPath); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		st, err := c.fs.Stat(targetPath)
		if err != nil || !st.IsDir() {
			return false, nil
		}
	}

	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(targetPath))
	if err != nil {
		return false, err
	}

	resolved, err := c.resolveExisting(filepath.Join(realRoot, rel))
	if errors.Is(err, errDangling) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return sanitize.Within(realRoot, resolved), nil
}

// errDangling marks a symlink whose target does not exist. Where it would
// lead is decided at write time, so it cannot be confined.
var errDangling = errors.New("dangling symlink")

func (c *Classifier) resolveExisting(path string) (string, error) {
	resolved, err := c.fs.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	if info, lerr := c.fs.Lstat(path); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
		return "", fmt.Errorf("%w: %s", errDangling, path)
	}

	dir := filepath.Dir(path)
	if dir == path {
		return path, nil
	}

	resolvedDir, err := c.resolveExisting(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, filepath.Base(path)), nil
}
