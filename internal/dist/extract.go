package dist

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// securePath joins name under dest and rejects entries that would escape
// the destination directory.
func securePath(dest, name string) (string, error) {
	path := filepath.Join(dest, filepath.FromSlash(name))
	if path != dest && !strings.HasPrefix(path, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes destination directory", name)
	}

	return path, nil
}

// extractZip unpacks a zip archive held in memory into dest.
func extractZip(data []byte, dest string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("opening zip archive: %w", err)
	}

	for _, f := range zr.File {
		path, err := securePath(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o750); err != nil {
				return fmt.Errorf("creating %s: %w", path, err)
			}

			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening zip entry %s: %w", f.Name, err)
		}

		err = writeEntry(path, rc, f.Mode())
		_ = rc.Close()

		if err != nil {
			return err
		}
	}

	return nil
}

// extractTarGz unpacks a gzipped tarball held in memory into dest.
func extractTarGz(data []byte, dest string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		path, err := securePath(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o750); err != nil {
				return fmt.Errorf("creating %s: %w", path, err)
			}

		case tar.TypeReg:
			if err := writeEntry(path, tr, os.FileMode(hdr.Mode)); err != nil { //nolint:gosec // mode comes from the archive
				return err
			}

		default:
			// Symlinks and special files are skipped; a server
			// distribution has no use for them and accepting them would
			// reopen the traversal hole securePath closes.
		}
	}
}

// writeEntry writes one extracted file, creating parent directories.
func writeEntry(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm()) //nolint:gosec
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return out.Close()
}
