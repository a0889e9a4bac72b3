package extractor

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/teamcutter/dirup/internal/domain"
)

// methodXZ is the APPNOTE compression method id for xz streams.
const methodXZ uint16 = 95

// ZIPArchive is an opened ZIP file. It implements executor.Opener.
type ZIPArchive struct {
	rc *zip.ReadCloser
}

func OpenZIP(path string) (*ZIPArchive, error) {
	r, err := zip.OpenReader(path)
	if errors.Is(err, zip.ErrInsecurePath) && r != nil {
		// unsafe names are rejected entry by entry during planning
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("zip: %w", err)
	}

	registerDecompressors(&r.Reader)
	return &ZIPArchive{rc: r}, nil
}

func (za *ZIPArchive) Entries() []domain.ArchiveEntry {
	entries := make([]domain.ArchiveEntry, 0, len(za.rc.File))
	for i, f := range za.rc.File {
		entries = append(entries, domain.ArchiveEntry{
			Index:     i,
			RawPath:   f.Name,
			IsDir:     f.FileInfo().IsDir(),
			SizeBytes: f.UncompressedSize64,
			Mode:      f.Mode(),
		})
	}
	return entries
}

func (za *ZIPArchive) Open(entry domain.ArchiveEntry) (io.ReadCloser, error) {
	if entry.Index < 0 || entry.Index >= len(za.rc.File) {
		return nil, fmt.Errorf("zip: no entry at index %d", entry.Index)
	}
	f := za.rc.File[entry.Index]
	if f.Name != entry.RawPath {
		return nil, fmt.Errorf("zip: entry %d is %q, not %q", entry.Index, f.Name, entry.RawPath)
	}
	return f.Open()
}

func (za *ZIPArchive) Close() error {
	return za.rc.Close()
}

func registerDecompressors(r *zip.Reader) {
	r.RegisterDecompressor(zip.Deflate, func(in io.Reader) io.ReadCloser {
		return flate.NewReader(in)
	})
	r.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	r.RegisterDecompressor(zstd.ZipMethodPKWare, zstd.ZipDecompressor())
	r.RegisterDecompressor(methodXZ, func(in io.Reader) io.ReadCloser {
		xr, err := xz.NewReader(in)
		if err != nil {
			return io.NopCloser(&errReader{err: fmt.Errorf("xz: %w", err)})
		}
		return io.NopCloser(xr)
	})
}

type errReader struct {
	err error
}

func (e *errReader) Read([]byte) (int, error) {
	return 0, e.err
}
