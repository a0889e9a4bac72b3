// Package staging owns the directory uploaded archives are written to
// before extraction.
package staging

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/teamcutter/dirup/internal/sanitize"
)

var (
	ErrNoFile          = errors.New("no file uploaded")
	ErrFileTooLarge    = errors.New("file exceeds the maximum upload size")
	ErrInvalidFileType = errors.New("only .zip files are accepted")
	ErrUpload          = errors.New("upload failed")
	ErrNotStaged       = errors.New("path is not inside the staging directory")
)

const archiveExt = ".zip"

type Area struct {
	sync.RWMutex
	dir      string
	maxSize  int64
	client   *http.Client
	progress io.Writer
}

type Option func(*Area)

// WithProgress renders a byte progress bar for downloads on w.
func WithProgress(w io.Writer) Option {
	return func(a *Area) { a.progress = w }
}

func WithHTTPClient(c *http.Client) Option {
	return func(a *Area) { a.client = c }
}

func WithTimeout(d time.Duration) Option {
	return func(a *Area) { a.client = &http.Client{Timeout: d} }
}

func New(dir string, maxSize int64, opts ...Option) (*Area, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, err
	}

	a := &Area{
		dir:      abs,
		maxSize:  maxSize,
		client:   &http.Client{},
		progress: io.Discard,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Area) Dir() string { return a.dir }

// Put copies r into a uniquely named archive inside the staging directory.
// size is the length declared by the client, or -1 when unknown.
func (a *Area) Put(name string, r io.Reader, size int64) (string, error) {
	stem, err := archiveStem(name)
	if err != nil {
		return "", err
	}
	if a.maxSize > 0 && size > a.maxSize {
		return "", ErrFileTooLarge
	}

	a.RLock()
	defer a.RUnlock()

	f, err := os.CreateTemp(a.dir, stem+"-*"+archiveExt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	dst := f.Name()

	n, err := a.copyLimited(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = ErrNoFile
	}
	if err != nil {
		os.Remove(dst)
		if errors.Is(err, ErrFileTooLarge) || errors.Is(err, ErrNoFile) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}

	return dst, nil
}

func (a *Area) copyLimited(w io.Writer, r io.Reader) (int64, error) {
	if a.maxSize <= 0 {
		return io.Copy(w, r)
	}
	n, err := io.Copy(w, io.LimitReader(r, a.maxSize+1))
	if err != nil {
		return n, err
	}
	if n > a.maxSize {
		return n, ErrFileTooLarge
	}
	return n, nil
}

// Discard removes a staged archive. Paths outside the staging directory
// are refused rather than removed.
func (a *Area) Discard(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if filepath.Dir(abs) != a.dir || !sanitize.Within(a.dir, abs) {
		return fmt.Errorf("%w: %s", ErrNotStaged, path)
	}

	a.RLock()
	defer a.RUnlock()

	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (a *Area) Size() (int64, error) {
	a.RLock()
	defer a.RUnlock()

	var size int64
	err := filepath.Walk(a.dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// Clear empties the staging directory and leaves it in place.
func (a *Area) Clear() error {
	a.Lock()
	defer a.Unlock()

	if err := os.RemoveAll(a.dir); err != nil {
		return err
	}
	return os.MkdirAll(a.dir, 0755)
}

// archiveStem validates an uploaded file name and returns a safe stem for
// the staged copy.
func archiveStem(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNoFile
	}
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if !strings.EqualFold(filepath.Ext(base), archiveExt) {
		return "", ErrInvalidFileType
	}

	stem := strings.Map(func(r rune) rune {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, base[:len(base)-len(archiveExt)])
	stem = strings.Trim(stem, ".")
	if stem == "" {
		stem = "upload"
	}
	return stem, nil
}
