package extractor

import (
	"bytes"
	"io"
	"os"
)

type Format string

const (
	FormatZIP     Format = "zip"
	FormatGzip    Format = "gzip"
	FormatZstd    Format = "zstd"
	FormatXZ      Format = "xz"
	FormatBzip2   Format = "bzip2"
	FormatTar     Format = "tar"
	FormatUnknown Format = "unknown"
)

// Sniff identifies a file by its leading bytes. Only ZIP can be extracted;
// the other formats are recognized so the error can say what was uploaded.
func Sniff(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()

	header := make([]byte, 512)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatUnknown, err
	}
	return sniffBytes(header[:n]), nil
}

// https://gist.github.com/leommoore/f9e57ba2aa4bf197ebc5
func sniffBytes(header []byte) Format {
	n := len(header)
	switch {
	case n >= 4 && header[0] == 'P' && header[1] == 'K' &&
		((header[2] == 0x03 && header[3] == 0x04) || (header[2] == 0x05 && header[3] == 0x06) || (header[2] == 0x07 && header[3] == 0x08)):
		// local file header, empty archive, spanned archive
		return FormatZIP
	case n >= 4 && header[0] == 0x28 && header[1] == 0xb5 && header[2] == 0x2f && header[3] == 0xfd:
		// zstd: 0x28B52FFD
		return FormatZstd
	case n >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		// gzip: 0x1F8B
		return FormatGzip
	case n >= 6 && bytes.Equal(header[:6], []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}):
		// xz: 0xFD377A585A00
		return FormatXZ
	case n >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		return FormatBzip2
	case n >= 262 && string(header[257:262]) == "ustar":
		return FormatTar
	default:
		return FormatUnknown
	}
}
