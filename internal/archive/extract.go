package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// ErrUnsafePath is returned for archive entries that would land outside the
// destination directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Extract unpacks the archive at path into destDir. The format is inferred
// from the file name.
func Extract(ctx context.Context, path, destDir string) (int, error) {
	f, ok := FormatFromName(path)
	if !ok {
		return 0, fmt.Errorf("extract %s: unknown archive format", path)
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return 0, fmt.Errorf("create destination: %w", err)
	}
	root, err := filepath.Abs(destDir)
	if err != nil {
		return 0, err
	}

	switch f {
	case FormatZip:
		return extractZip(ctx, path, root)
	default:
		return extractTarGz(ctx, path, root)
	}
}

func safeJoin(root, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func extractTarGz(ctx context.Context, path, root string) (int, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	gz, err := gzip.NewReader(src)
	if err != nil {
		return 0, fmt.Errorf("open gzip %s: %w", path, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("read tar %s: %w", path, err)
		}

		target, err := safeJoin(root, hdr.Name)
		if err != nil {
			return count, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return count, err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return count, err
			}
			count++
		}
	}
}

func extractZip(ctx context.Context, path, root string) (int, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("open zip %s: %w", path, err)
	}
	defer zr.Close()

	count := 0
	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		target, err := safeJoin(root, zf.Name)
		if err != nil {
			return count, err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return count, err
			}
			continue
		}
		if !zf.Mode().IsRegular() {
			continue
		}

		rc, err := zf.Open()
		if err != nil {
			return count, fmt.Errorf("open zip entry %s: %w", zf.Name, err)
		}
		err = writeFile(target, rc, zf.Mode().Perm())
		rc.Close()
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o640
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}
