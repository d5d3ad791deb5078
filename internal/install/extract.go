package install

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/clash-cli/clashctl/internal/yamldoc"
)

// ExtractGzip decompresses a single gzip-compressed binary to dst and
// makes it executable. dst is replaced atomically.
func ExtractGzip(r io.Reader, dst string) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("cannot read gzip stream: %w", err)
	}
	defer zr.Close()
	return writeAtomic(dst, zr, 0o755)
}

// ExtractTarGz unpacks a gzip-compressed tarball under dest, dropping the
// first strip path components of every entry. Entries that would land
// outside dest are rejected. Links are skipped.
func ExtractTarGz(r io.Reader, dest string, strip int) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("cannot read gzip stream: %w", err)
	}
	defer zr.Close()

	root := filepath.Clean(dest)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("cannot read tar stream: %w", err)
		}

		name, ok := stripComponents(hdr.Name, strip)
		if !ok {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(name))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return fmt.Errorf("archive entry %q escapes %s", hdr.Name, dest)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			mode := os.FileMode(hdr.Mode).Perm()
			if mode == 0 {
				mode = 0o644
			}
			if err := writeAtomic(target, tr, mode); err != nil {
				return err
			}
		default:
			slog.Debug("skipping archive entry", "name", hdr.Name, "type", string(hdr.Typeflag))
		}
	}
}

// stripComponents removes the first n elements of a slash-separated path.
// It reports false when nothing is left.
func stripComponents(name string, n int) (string, bool) {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	parts := strings.Split(name, "/")
	if name == "" || len(parts) <= n {
		return "", false
	}
	return strings.Join(parts[n:], "/"), true
}

func writeAtomic(dst string, r io.Reader, mode os.FileMode) error {
	if err := yamldoc.WriteReader(dst, r, mode); err != nil {
		return fmt.Errorf("cannot write %s: %w", dst, err)
	}
	return nil
}
