package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/schollz/progressbar/v3"
)

// Fetch downloads an archive into the staging directory. When want is set
// the SHA-256 of the body must match it.
func (a *Area) Fetch(ctx context.Context, rawURL, want string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: unsupported url %q", ErrUpload, rawURL)
	}
	stem, err := archiveStem(path.Base(u.Path))
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status: %d", ErrUpload, resp.StatusCode)
	}
	if a.maxSize > 0 && resp.ContentLength > a.maxSize {
		return "", ErrFileTooLarge
	}

	a.RLock()
	defer a.RUnlock()

	f, err := os.CreateTemp(a.dir, stem+"-*"+archiveExt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	dst := f.Name()

	bar := progressbar.NewOptions64(resp.ContentLength,
		progressbar.OptionSetWriter(a.progress),
		progressbar.OptionSetDescription(fmt.Sprintf("Downloading %s", path.Base(u.Path))),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)
	h := sha256.New()

	n, err := a.copyLimited(io.MultiWriter(f, bar, h), resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	_ = bar.Finish()
	if err == nil && n == 0 {
		err = ErrNoFile
	}
	if err == nil && want != "" {
		if actual := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(actual, want) {
			err = fmt.Errorf("%w: checksum mismatch: expected %s, got %s", ErrUpload, want, actual)
		}
	}
	if err != nil {
		os.Remove(dst)
		return "", err
	}

	return dst, nil
}
