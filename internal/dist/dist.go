// Package dist downloads and unpacks the server distribution a devloop
// project runs its plugin against.
package dist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// DefaultMaxArchiveSize caps how large a distribution archive may be.
const DefaultMaxArchiveSize = int64(512 * 1024 * 1024)

// Options configures a distribution fetch.
type Options struct {
	// URL of the archive (.zip, .tar.gz, or .tgz).
	URL string

	// Version declared for this distribution, checked against MinVersion.
	Version string

	// MinVersion is an optional semver constraint floor.
	MinVersion string

	// SHA256 is an optional hex digest the download must match.
	SHA256 string

	// DestDir is where the archive is unpacked.
	DestDir string

	// MaxArchiveSize overrides DefaultMaxArchiveSize when positive.
	MaxArchiveSize int64

	// Client defaults to an HTTP client with a generous timeout.
	Client *http.Client

	Logger *slog.Logger
}

func (o *Options) effectiveMaxArchiveSize() int64 {
	if o.MaxArchiveSize > 0 {
		return o.MaxArchiveSize
	}

	return DefaultMaxArchiveSize
}

// CheckVersion verifies that version satisfies the ">= min" constraint.
// An empty min accepts everything; an empty version with a non-empty min
// is rejected since nothing can be verified.
func CheckVersion(version, min string) error {
	if min == "" {
		return nil
	}

	if version == "" {
		return fmt.Errorf("distribution version unknown, cannot verify minimum %q", min)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid distribution version %q: %w", version, err)
	}

	constraint, err := semver.NewConstraint(">= " + min)
	if err != nil {
		return fmt.Errorf("invalid minimum version %q: %w", min, err)
	}

	if !constraint.Check(v) {
		return fmt.Errorf("distribution version %s is below the required minimum %s", version, min)
	}

	return nil
}

// Fetch downloads the distribution archive, verifies it, and unpacks it
// into DestDir.
func Fetch(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.URL == "" {
		return fmt.Errorf("no distribution URL configured")
	}

	if err := CheckVersion(opts.Version, opts.MinVersion); err != nil {
		return err
	}

	data, err := download(ctx, opts)
	if err != nil {
		return err
	}

	if opts.SHA256 != "" {
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, opts.SHA256) {
			return fmt.Errorf("distribution checksum mismatch: got %s, want %s", got, opts.SHA256)
		}
	}

	if err := os.MkdirAll(opts.DestDir, 0o750); err != nil {
		return fmt.Errorf("creating destination %s: %w", opts.DestDir, err)
	}

	switch {
	case strings.HasSuffix(opts.URL, ".zip"):
		err = extractZip(data, opts.DestDir)
	case strings.HasSuffix(opts.URL, ".tar.gz") || strings.HasSuffix(opts.URL, ".tgz"):
		err = extractTarGz(data, opts.DestDir)
	default:
		err = fmt.Errorf("unsupported archive format in %q (want .zip, .tar.gz, or .tgz)", opts.URL)
	}

	if err != nil {
		return err
	}

	logger.Info("distribution unpacked",
		slog.String("url", opts.URL),
		slog.String("dest", opts.DestDir),
	)

	return nil
}

// download reads the archive entirely into memory with a size limit.
func download(ctx context.Context, opts Options) ([]byte, error) {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %q: %w", opts.URL, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %q: %w", opts.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %q: unexpected status %s", opts.URL, resp.Status)
	}

	maxSize := opts.effectiveMaxArchiveSize()
	lr := io.LimitReader(resp.Body, maxSize+1)

	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, fmt.Errorf("reading download: %w", err)
	}

	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("archive exceeds maximum size of %d bytes", maxSize)
	}

	return data, nil
}
