package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"github.com/edvin/sitebackup/internal/model"
)

// ErrCompressionUnavailable is returned when no compressor can produce the
// requested format.
var ErrCompressionUnavailable = errors.New("no compression method available")

const (
	CompressorNative    = "native"
	CompressorInProcess = "inprocess"
)

// SkippedFile records a source file that was left out of an archive.
type SkippedFile struct {
	File model.SourceFile
	Err  error
}

// WriteResult describes what ended up in an archive.
type WriteResult struct {
	Written []model.SourceFile
	Skipped []SkippedFile
}

// Compressor writes a set of source files into a single archive file.
type Compressor interface {
	Name() string
	Supports(f Format) bool
	// Available reports whether the compressor can run on this host.
	Available() error
	Compress(ctx context.Context, dest string, f Format, files []model.SourceFile) (*WriteResult, error)
}

// SelectCompressor returns the first usable compressor for f, trying the one
// named preferred before the rest of candidates in order. Each fallback is
// logged as a warning.
func SelectCompressor(logger zerolog.Logger, f Format, preferred string, candidates ...Compressor) (Compressor, error) {
	ordered := make([]Compressor, 0, len(candidates))
	for _, c := range candidates {
		if c.Name() == preferred {
			ordered = append(ordered, c)
		}
	}
	for _, c := range candidates {
		if c.Name() != preferred {
			ordered = append(ordered, c)
		}
	}

	for i, c := range ordered {
		if !c.Supports(f) {
			logger.Debug().Str("compressor", c.Name()).Str("format", string(f)).Msg("compressor does not support format")
			continue
		}
		if err := c.Available(); err != nil {
			logger.Warn().Err(err).Str("compressor", c.Name()).Msg("compressor unavailable, falling back")
			continue
		}
		if i > 0 {
			logger.Warn().Str("compressor", c.Name()).Str("preferred", preferred).Msg("using fallback compressor")
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w for format %s", ErrCompressionUnavailable, f)
}

// entryWriter adds one regular file to an archive container.
type entryWriter interface {
	writeEntry(name string, info os.FileInfo, r io.Reader) error
}

type tarEntries struct{ tw *tar.Writer }

func (t tarEntries) writeEntry(name string, info os.FileInfo, r io.Reader) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Format = tar.FormatPAX
	if err := t.tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.CopyN(t.tw, r, info.Size())
	return err
}

type zipEntries struct{ zw *zip.Writer }

func (z zipEntries) writeEntry(name string, info os.FileInfo, r io.Reader) error {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := z.zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.CopyN(w, r, info.Size())
	return err
}

// writeEntries streams files into w. Files that cannot be opened or are not
// regular files are skipped; a failure while copying file content aborts.
func writeEntries(ctx context.Context, logger zerolog.Logger, w entryWriter, files []model.SourceFile) (*WriteResult, error) {
	res := &WriteResult{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		skipped, err := writeOne(w, f)
		if skipped != nil {
			logger.Warn().Err(skipped).Str("path", f.Path).Msg("skipping unreadable file")
			res.Skipped = append(res.Skipped, SkippedFile{File: f, Err: skipped})
			continue
		}
		if err != nil {
			return res, fmt.Errorf("archive %s: %w", f.Path, err)
		}
		res.Written = append(res.Written, f)
	}
	return res, nil
}

func writeOne(w entryWriter, f model.SourceFile) (skipped, err error) {
	src, oerr := os.Open(f.Path)
	if oerr != nil {
		return oerr, nil
	}
	defer src.Close()

	info, serr := src.Stat()
	if serr != nil {
		return serr, nil
	}
	if !info.Mode().IsRegular() {
		return errors.New("not a regular file"), nil
	}
	return nil, w.writeEntry(entryName(f), info, src)
}

func entryName(f model.SourceFile) string {
	name := f.RelativePath
	if name == "" {
		name = f.Path
	}
	return strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")
}

// InProcessCompressor produces archives with Go encoders only.
type InProcessCompressor struct {
	logger zerolog.Logger
	level  int
}

// NewInProcessCompressor creates an in-process compressor. level follows
// gzip conventions; 0 or less selects the default.
func NewInProcessCompressor(logger zerolog.Logger, level int) *InProcessCompressor {
	if level <= 0 || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &InProcessCompressor{logger: logger, level: level}
}

func (c *InProcessCompressor) Name() string { return CompressorInProcess }

func (c *InProcessCompressor) Supports(f Format) bool {
	return f == FormatTarGz || f == FormatZip
}

func (c *InProcessCompressor) Available() error { return nil }

func (c *InProcessCompressor) Compress(ctx context.Context, dest string, f Format, files []model.SourceFile) (res *WriteResult, err error) {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive: %w", cerr)
		}
	}()

	switch f {
	case FormatTarGz:
		gz, err := gzip.NewWriterLevel(out, c.level)
		if err != nil {
			return nil, err
		}
		tw := tar.NewWriter(gz)
		res, err = writeEntries(ctx, c.logger, tarEntries{tw}, files)
		if err != nil {
			return nil, err
		}
		if err := tw.Close(); err != nil {
			return nil, fmt.Errorf("close tar: %w", err)
		}
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("close gzip: %w", err)
		}
		return res, nil
	case FormatZip:
		zw := zip.NewWriter(out)
		res, err = writeEntries(ctx, c.logger, zipEntries{zw}, files)
		if err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("close zip: %w", err)
		}
		return res, nil
	default:
		return nil, fmt.Errorf("unsupported format %s", f)
	}
}

// NativeCompressor streams a tar into an external gzip binary. pigz is
// preferred over gzip when both are installed.
type NativeCompressor struct {
	logger   zerolog.Logger
	level    int
	binaries []string
	lookPath func(string) (string, error)
}

// NewNativeCompressor creates a compressor backed by pigz or gzip.
func NewNativeCompressor(logger zerolog.Logger, level int) *NativeCompressor {
	if level <= 0 || level > 9 {
		level = 6
	}
	return &NativeCompressor{
		logger:   logger,
		level:    level,
		binaries: []string{"pigz", "gzip"},
		lookPath: exec.LookPath,
	}
}

func (c *NativeCompressor) Name() string { return CompressorNative }

func (c *NativeCompressor) Supports(f Format) bool { return f == FormatTarGz }

func (c *NativeCompressor) Available() error {
	_, err := c.binary()
	return err
}

func (c *NativeCompressor) binary() (string, error) {
	for _, name := range c.binaries {
		if path, err := c.lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("none of %s found in PATH", strings.Join(c.binaries, ", "))
}

type tarStreamResult struct {
	res *WriteResult
	err error
}

func (c *NativeCompressor) Compress(ctx context.Context, dest string, f Format, files []model.SourceFile) (*WriteResult, error) {
	if !c.Supports(f) {
		return nil, fmt.Errorf("native compressor does not support %s", f)
	}
	bin, err := c.binary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressionUnavailable, err)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	pr, pw := io.Pipe()
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, fmt.Sprintf("-%d", c.level), "-c")
	cmd.Stdin = pr
	cmd.Stdout = out
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		pr.Close()
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	done := make(chan tarStreamResult, 1)
	go func() {
		tw := tar.NewWriter(pw)
		res, err := writeEntries(ctx, c.logger, tarEntries{tw}, files)
		if err == nil {
			err = tw.Close()
		}
		pw.CloseWithError(err)
		done <- tarStreamResult{res: res, err: err}
	}()

	waitErr := cmd.Wait()
	// Unblock the tar writer if the compressor exited early.
	pr.CloseWithError(errors.New("compressor exited"))
	stream := <-done

	if stream.err != nil {
		return nil, fmt.Errorf("write tar stream: %w", stream.err)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", bin, waitErr, strings.TrimSpace(stderr.String()))
	}
	if err := out.Sync(); err != nil {
		return nil, fmt.Errorf("sync archive: %w", err)
	}
	return stream.res, nil
}
