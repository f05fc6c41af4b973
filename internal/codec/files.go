package codec

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.klb.dev/clipxfer/internal/format"
	"go.klb.dev/clipxfer/internal/xferr"
)

// PathListCodec is the platform layout of a file-list native.
type PathListCodec interface {
	EncodePaths(paths []string) ([]byte, error)
	DecodePaths(data []byte) ([]string, error)
}

// NULPathList stores each path followed by a NUL byte, with one more NUL
// closing the list.
type NULPathList struct{}

func (NULPathList) EncodePaths(paths []string) ([]byte, error) {
	var b bytes.Buffer
	for _, p := range paths {
		if strings.IndexByte(p, 0) >= 0 {
			return nil, fmt.Errorf("path %q contains NUL", p)
		}
		b.WriteString(p)
		b.WriteByte(0)
	}
	b.WriteByte(0)
	return b.Bytes(), nil
}

func (NULPathList) DecodePaths(data []byte) ([]string, error) {
	out := []string{}
	for _, p := range bytes.Split(data, []byte{0}) {
		if len(p) > 0 {
			out = append(out, string(p))
		}
	}
	return out, nil
}

// AccessCheck decides whether a canonical path may leave the process. A
// non-nil error excludes the path from the encoded list.
type AccessCheck func(path string) error

// AllowAll admits every path.
func AllowAll(string) error { return nil }

// ReadableOnly admits paths the process can open for reading.
func ReadableOnly(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", xferr.ErrSecurityDenied, err)
	}
	return f.Close()
}

// WithinRoots admits only paths below one of roots.
func WithinRoots(roots ...string) AccessCheck {
	clean := make([]string, 0, len(roots))
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			if real, err := filepath.EvalSymlinks(abs); err == nil {
				abs = real
			}
			clean = append(clean, abs)
		}
	}
	return func(path string) error {
		for _, r := range clean {
			rel, err := filepath.Rel(r, path)
			if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return nil
			}
		}
		return fmt.Errorf("%w: %s is outside the shared roots", xferr.ErrSecurityDenied, path)
	}
}

// canonicalPaths resolves paths to absolute, symlink-free form and keeps the
// ones the access check admits. Paths that cannot be resolved are dropped.
func (c *Codec) canonicalPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			slog.Debug("dropping file-list entry", "path", p, "err", err)
			continue
		}
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			slog.Debug("dropping file-list entry", "path", p, "err", err)
			continue
		}
		if err := c.access(real); err != nil {
			slog.Debug("dropping file-list entry", "path", real, "err", err)
			continue
		}
		out = append(out, real)
	}
	return out
}

func cleanPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, filepath.Clean(p))
	}
	return out
}

func (c *Codec) encodeFileList(paths []string, n format.Native, locale Source) ([]byte, error) {
	kept := c.canonicalPaths(paths)
	switch {
	case c.reg.IsFileListFormat(n):
		return c.paths.EncodePaths(kept)
	case c.reg.IsURIListFormat(n):
		var b strings.Builder
		for _, p := range kept {
			b.WriteString(fileURI(p))
			b.WriteString("\r\n")
		}
		return encodeCharset(b.String(), c.bestCharset(n, locale))
	}
	return nil, errUnmatched
}

// decodeURIList keeps the file: entries of a text/uri-list payload. Comment
// lines and URIs of any other scheme are skipped.
func (c *Codec) decodeURIList(data []byte, n format.Native, locale Source) ([]string, error) {
	s, err := decodeCharset(data, c.bestCharset(n, locale))
	if err != nil {
		return nil, err
	}
	out := []string{}
	for line := range strings.Lines(s) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := pathFromURI(line)
		if err != nil {
			slog.Debug("skipping uri-list entry", "uri", line, "err", err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

var errNotFileURI = errors.New("not a local file URI")

func pathFromURI(s string) (string, error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(u.Scheme, "file") {
		return "", errNotFileURI
	}
	if u.Host != "" && !strings.EqualFold(u.Host, "localhost") {
		return "", errNotFileURI
	}
	p := u.Path
	if p == "" {
		return "", errNotFileURI
	}
	if runtime.GOOS == "windows" && len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.Clean(filepath.FromSlash(p)), nil
}

func fileURI(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p}
	return u.String()
}
