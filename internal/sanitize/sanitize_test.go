package sanitize

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/teamcutter/dirup/internal/domain"
)

func TestSanitize(t *testing.T) {
	root := filepath.Join(t.TempDir(), "target")

	tests := []struct {
		name    string
		raw     string
		want    domain.SanitizedPath
		wantErr error
	}{
		{name: "simple file", raw: "a.txt", want: "a.txt"},
		{name: "nested file", raw: "docs/readme.txt", want: "docs/readme.txt"},
		{name: "directory marker", raw: "docs/", want: "docs"},
		{name: "backslash separators", raw: `docs\sub\file.txt`, want: "docs/sub/file.txt"},
		{name: "redundant separators", raw: "docs//sub///file.txt", want: "docs/sub/file.txt"},
		{name: "dot segments", raw: "./docs/./file.txt", want: "docs/file.txt"},
		{name: "hidden file", raw: ".config/app.toml", want: ".config/app.toml"},
		{name: "dots inside a name", raw: "notes..txt", want: "notes..txt"},
		{name: "empty", raw: "", wantErr: ErrEmptyPath},
		{name: "current directory", raw: ".", wantErr: ErrEmptyPath},
		{name: "only separators", raw: "./././", wantErr: ErrEmptyPath},
		{name: "leading parent", raw: "../evil.txt", wantErr: ErrParentReference},
		{name: "deep parent", raw: "../../etc/passwd", wantErr: ErrParentReference},
		{name: "parent in middle", raw: "docs/../../evil.txt", wantErr: ErrParentReference},
		{name: "parent that stays inside", raw: "docs/../readme.txt", wantErr: ErrParentReference},
		{name: "backslash parent", raw: `docs\..\..\evil.txt`, wantErr: ErrParentReference},
		{name: "mixed separators parent", raw: `docs/..\evil.txt`, wantErr: ErrParentReference},
		{name: "absolute unix", raw: "/etc/passwd", wantErr: ErrAbsolutePath},
		{name: "absolute backslash", raw: `\windows\system32`, wantErr: ErrAbsolutePath},
		{name: "drive letter", raw: `C:\Windows\win.ini`, wantErr: ErrAbsolutePath},
		{name: "drive relative", raw: "c:evil.txt", wantErr: ErrAbsolutePath},
		{name: "unc path", raw: `\\server\share\file`, wantErr: ErrAbsolutePath},
		{name: "nul byte", raw: "a\x00b", wantErr: ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sanitize(tt.raw, root)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Sanitize(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Sanitize(%q) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSanitize_JoinStaysUnderRoot(t *testing.T) {
	root := t.TempDir()
	payloads := []string{
		"a/b/c.txt", "../x", "..\\x", "a/../../x", "/abs", "a\\..\\..\\x",
		"....//x", "a/./b/../c", "C:/x", "//host/share", "ok/.../file",
	}

	for _, raw := range payloads {
		p, err := Sanitize(raw, root)
		if err != nil {
			continue
		}
		joined := p.Join(root)
		if !strings.HasPrefix(joined, root+string(filepath.Separator)) {
			t.Errorf("Sanitize(%q) = %q joins to %q outside %q", raw, p, joined, root)
		}
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		root   string
		target string
		want   bool
	}{
		{"/srv/up", "/srv/up", true},
		{"/srv/up", "/srv/up/a", true},
		{"/srv/up", "/srv/up/a/../b", true},
		{"/srv/up", "/srv/upload", false},
		{"/srv/up", "/srv", false},
		{"/srv/up", "/srv/up/../x", false},
	}

	for _, tt := range tests {
		if got := Within(tt.root, tt.target); got != tt.want {
			t.Errorf("Within(%q, %q) = %v, want %v", tt.root, tt.target, got, tt.want)
		}
	}
}
