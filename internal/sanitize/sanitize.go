// Package sanitize normalizes archive entry paths and rejects the ones that
// could land outside the target root.
package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/teamcutter/dirup/internal/domain"
)

var (
	ErrEmptyPath       = errors.New("empty path")
	ErrAbsolutePath    = errors.New("absolute path")
	ErrParentReference = errors.New("parent directory reference")
	ErrInvalidPath     = errors.New("invalid character in path")
	ErrEscapesRoot     = errors.New("path escapes target root")
)

// Sanitize validates rawPath as a path relative to targetRoot. Both "/" and
// "\" are treated as separators. It performs no I/O.
func Sanitize(rawPath, targetRoot string) (domain.SanitizedPath, error) {
	if rawPath == "" {
		return "", ErrEmptyPath
	}
	if strings.ContainsRune(rawPath, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rawPath)
	}

	p := strings.ReplaceAll(rawPath, `\`, "/")
	if isAbsolute(p) {
		return "", fmt.Errorf("%w: %q", ErrAbsolutePath, rawPath)
	}

	var parts []string
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q", ErrParentReference, rawPath)
		}
		parts = append(parts, seg)
	}
	if len(parts) == 0 {
		return "", ErrEmptyPath
	}

	clean := domain.SanitizedPath(strings.Join(parts, "/"))
	if err := checkWithin(clean, targetRoot); err != nil {
		return "", err
	}

	return clean, nil
}

// Within reports whether target is root itself or lies below it, comparing
// cleaned paths lexically.
func Within(root, target string) bool {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if target == root {
		return true
	}
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func checkWithin(p domain.SanitizedPath, targetRoot string) error {
	root := filepath.Clean(targetRoot)
	joined := p.Join(root)
	if joined == root || !Within(root, joined) {
		return fmt.Errorf("%w: %q", ErrEscapesRoot, p)
	}
	return nil
}

func isAbsolute(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	// drive letters: C:, C:/foo, C:foo
	if len(p) >= 2 && p[1] == ':' && isLetter(p[0]) {
		return true
	}
	return filepath.IsAbs(p)
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
