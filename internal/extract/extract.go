// Package extract unpacks downloaded application archives.
package extract

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/ulikunitz/xz"
	"go.uber.org/zap"

	"github.com/dorcha-inc/cyinstall/internal/core"
	"github.com/dorcha-inc/cyinstall/internal/progress"
)

// Format is an archive container format
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTarGzip
	FormatTarXz
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTarGzip:
		return "tar.gz"
	case FormatTarXz:
		return "tar.xz"
	default:
		return "unknown"
	}
}

var (
	zipMagic  = []byte("PK\x03\x04")
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// DetectFormat identifies the archive format from its leading bytes
func DetectFormat(archivePath string) (Format, error) {
	// #nosec G304 -- archive path comes from the downloader or the user's --archive flag
	file, err := os.Open(archivePath)
	if err != nil {
		return FormatUnknown, fmt.Errorf("failed to open archive: %w", err)
	}
	defer core.LogDeferredError(file.Close)

	header := make([]byte, len(xzMagic))
	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, fmt.Errorf("failed to read archive header: %w", err)
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, zipMagic):
		return FormatZip, nil
	case bytes.HasPrefix(header, gzipMagic):
		return FormatTarGzip, nil
	case bytes.HasPrefix(header, xzMagic):
		return FormatTarXz, nil
	default:
		return FormatUnknown, nil
	}
}

// Extractor unpacks archives into a directory, reporting progress as it goes
type Extractor struct {
	Clock    clockwork.Clock
	Throttle time.Duration
}

func NewExtractor(throttle time.Duration) *Extractor {
	return &Extractor{
		Clock:    clockwork.NewRealClock(),
		Throttle: throttle,
	}
}

// Extract fully unpacks archivePath into destDir. onProgress may be nil.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string, onProgress progress.Func) error {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return err
	}

	zap.L().Debug("Extracting archive",
		zap.String("archive", archivePath),
		zap.String("destination", destDir),
		zap.Stringer("format", format))

	// #nosec G301 -- install directory permissions 0755 are acceptable
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	switch format {
	case FormatZip:
		err = e.extractZip(ctx, archivePath, destDir, onProgress)
	case FormatTarGzip, FormatTarXz:
		err = e.extractTar(ctx, archivePath, destDir, format, onProgress)
	default:
		err = fmt.Errorf("unsupported archive format: %s", archivePath)
	}
	if err != nil {
		return err
	}

	zap.L().Debug("Extraction finished", zap.String("destination", destDir))
	return nil
}

func (e *Extractor) extractZip(ctx context.Context, archivePath, destDir string, onProgress progress.Func) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer core.LogDeferredError(reader.Close)

	total := int64(len(reader.File))
	tracker := progress.NewTracker(e.Clock, e.Throttle, total, onProgress)
	tracker.Start()

	for i, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("extraction cancelled: %w", err)
		}

		if err := extractZipEntry(file, destDir); err != nil {
			return err
		}
		tracker.Update(int64(i + 1))
	}

	tracker.Report(total)
	return nil
}

func extractZipEntry(file *zip.File, destDir string) error {
	target, err := safeJoin(destDir, file.Name)
	if err != nil {
		return err
	}

	mode := file.Mode()
	switch {
	case mode.IsDir():
		return makeDir(target)

	case mode&fs.ModeSymlink != 0:
		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", file.Name, err)
		}
		defer core.LogDeferredError(rc.Close)

		linkname, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("failed to read symlink %s: %w", file.Name, err)
		}
		return writeSymlink(destDir, target, string(linkname))

	default:
		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", file.Name, err)
		}
		defer core.LogDeferredError(rc.Close)

		return writeFile(target, rc, mode.Perm())
	}
}

func (e *Extractor) extractTar(ctx context.Context, archivePath, destDir string, format Format, onProgress progress.Func) error {
	// #nosec G304 -- archive path comes from the downloader or the user's --archive flag
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer core.LogDeferredError(file.Close)

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	tracker := progress.NewTracker(e.Clock, e.Throttle, info.Size(), onProgress)
	tracker.Start()

	consumed := xsync.NewCounter()
	counted := &countingReader{r: file, n: consumed}

	var stream io.Reader
	switch format {
	case FormatTarGzip:
		gzipReader, err := gzip.NewReader(counted)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer core.LogDeferredError(gzipReader.Close)
		stream = gzipReader
	case FormatTarXz:
		xzReader, err := xz.NewReader(counted)
		if err != nil {
			return fmt.Errorf("failed to create xz reader: %w", err)
		}
		stream = xzReader
	}

	tarReader := tar.NewReader(stream)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("extraction cancelled: %w", err)
		}

		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar header: %w", err)
		}

		if err := extractTarEntry(tarReader, header, destDir); err != nil {
			return err
		}
		tracker.Update(consumed.Value())
	}

	tracker.Report(info.Size())
	return nil
}

func extractTarEntry(tarReader *tar.Reader, header *tar.Header, destDir string) error {
	target, err := safeJoin(destDir, header.Name)
	if err != nil {
		return err
	}

	switch header.Typeflag {
	case tar.TypeDir:
		return makeDir(target)
	case tar.TypeReg:
		return writeFile(target, tarReader, header.FileInfo().Mode().Perm())
	case tar.TypeSymlink:
		return writeSymlink(destDir, target, header.Linkname)
	default:
		zap.L().Debug("Skipping unsupported tar entry", zap.String("name", header.Name), zap.Uint8("type", header.Typeflag))
		return nil
	}
}

// safeJoin joins name onto destDir and rejects names that escape it
func safeJoin(destDir, name string) (string, error) {
	cleanDest := filepath.Clean(destDir)
	target := filepath.Join(cleanDest, name)
	if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}
	return target, nil
}

func makeDir(target string) error {
	// #nosec G301 -- extracted directory permissions 0755 are acceptable
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", target, err)
	}
	return nil
}

func writeFile(target string, r io.Reader, perm fs.FileMode) error {
	if err := makeDir(filepath.Dir(target)); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0644
	}

	// #nosec G304 -- target is validated by safeJoin
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", target, err)
	}

	// #nosec G110 -- archives come from the download service or the user
	if _, err := io.Copy(out, r); err != nil {
		core.LogDeferredError(out.Close)
		return fmt.Errorf("failed to write file %s: %w", target, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close file %s: %w", target, err)
	}
	return nil
}

// writeSymlink creates a symlink at target. Links must be relative and stay inside destDir.
func writeSymlink(destDir, target, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("illegal symlink target in archive: %s -> %s", target, linkname)
	}
	resolved, err := filepath.Rel(destDir, filepath.Join(filepath.Dir(target), linkname))
	if err != nil || resolved == ".." || strings.HasPrefix(resolved, ".."+string(os.PathSeparator)) {
		return fmt.Errorf("illegal symlink target in archive: %s -> %s", target, linkname)
	}

	if err := makeDir(filepath.Dir(target)); err != nil {
		return err
	}
	if err := core.RemoveIfExists(target); err != nil {
		return err
	}
	if err := os.Symlink(linkname, target); err != nil {
		return fmt.Errorf("failed to create symlink %s: %w", target, err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n *xsync.Counter
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
