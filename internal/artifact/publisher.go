// Package artifact locates the freshly built plugin artifact and copies
// it into the publish directory the server loads plugins from.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoArtifact is returned when the build output directory contains no
// eligible artifact.
var ErrNoArtifact = errors.New("no eligible artifact in build output directory")

// excludedStemSuffixes marks companion outputs that are never the
// publishable artifact (e.g. foo-1.2-sources.jar next to foo-1.2.jar).
var excludedStemSuffixes = []string{"-sources", "-javadoc"}

// Publisher copies the selected build artifact into the publish directory.
type Publisher struct {
	Logger *slog.Logger
}

// Select returns the artifact to publish from buildOutputDir.
//
// Eligible files are regular files whose name stem does not end in a
// reserved companion suffix. When several candidates exist, the most
// recently modified wins; equal modification times are broken by taking
// the lexicographically last name. The tie-break is a documented,
// deterministic policy — do not change it casually.
func Select(buildOutputDir string) (string, error) {
	entries, err := os.ReadDir(buildOutputDir)
	if err != nil {
		return "", fmt.Errorf("reading build output directory %s: %w", buildOutputDir, err)
	}

	var (
		bestName string
		bestInfo os.FileInfo
	)

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !eligible(entry.Name()) {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			return "", fmt.Errorf("inspecting %s: %w", entry.Name(), infoErr)
		}

		switch {
		case bestInfo == nil:
			bestName, bestInfo = entry.Name(), info
		case info.ModTime().After(bestInfo.ModTime()):
			bestName, bestInfo = entry.Name(), info
		case info.ModTime().Equal(bestInfo.ModTime()) && entry.Name() > bestName:
			bestName, bestInfo = entry.Name(), info
		}
	}

	if bestInfo == nil {
		return "", fmt.Errorf("%w: %s", ErrNoArtifact, buildOutputDir)
	}

	return filepath.Join(buildOutputDir, bestName), nil
}

// Publish selects the artifact in buildOutputDir and copies it into
// publishDir, creating the directory as needed. It returns the published
// path.
func (p *Publisher) Publish(buildOutputDir, publishDir string) (string, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	src, err := Select(buildOutputDir)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(publishDir, 0o750); err != nil {
		return "", fmt.Errorf("creating publish directory %s: %w", publishDir, err)
	}

	dst := filepath.Join(publishDir, filepath.Base(src))

	if _, statErr := os.Stat(dst); statErr == nil {
		logger.Debug("replacing published artifact", slog.String("path", dst))
	}

	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("publishing %s: %w", filepath.Base(src), err)
	}

	logger.Info("artifact published",
		slog.String("artifact", filepath.Base(src)),
		slog.String("to", publishDir),
	)

	return dst, nil
}

// HasArtifact reports whether buildOutputDir currently holds an eligible
// artifact. Used by the resume path, which only publishes when a prior
// build left something behind.
func HasArtifact(buildOutputDir string) bool {
	_, err := Select(buildOutputDir)
	return err == nil
}

// eligible reports whether name can be published. Companion outputs such
// as -sources and -javadoc archives are excluded by their filename stem.
func eligible(name string) bool {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	for _, suffix := range excludedStemSuffixes {
		if strings.HasSuffix(stem, suffix) {
			return false
		}
	}

	return true
}

// copyFile copies src to dst, truncating any existing file.
func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // src is selected from the build output dir
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}
