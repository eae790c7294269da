// Package scaffold lays out a new devloop plugin project: the project
// configuration, the plugin manifest, source and server directories, and
// an optional git repository.
package scaffold

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const gitignore = `build/
server/
*.log
`

// Options configures a scaffolding run.
type Options struct {
	// Dir is the project root; created when missing.
	Dir string

	// Name of the plugin project.
	Name string

	// Force overwrites existing files that differ from the generated
	// content. Without it, differing files are left alone and a unified
	// diff is printed instead.
	Force bool

	// Git initialises a git repository when the git binary is available.
	Git bool

	Out    io.Writer
	Logger *slog.Logger
}

// Run creates the project layout. Existing files with identical content
// are skipped silently; differing files are diffed (and only replaced
// with Force).
func Run(opts Options) error {
	if opts.Out == nil {
		opts.Out = os.Stderr
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Name == "" {
		opts.Name = filepath.Base(opts.Dir)
	}

	manifest := &Manifest{
		Name:       opts.Name,
		Version:    "0.1.0",
		Main:       fmt.Sprintf("%s.Plugin", strings.ToLower(opts.Name)),
		APIVersion: "1.0.0",
	}

	manifestYAML, err := manifest.Render()
	if err != nil {
		return err
	}

	files := map[string][]byte{
		"devloop.yaml": projectConfigYAML(opts.Name),
		"plugin.yml":   manifestYAML,
		".gitignore":   []byte(gitignore),
	}

	for _, dir := range []string{opts.Dir, filepath.Join(opts.Dir, "src")} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	for name, content := range files {
		if err := writeProjectFile(opts, name, content); err != nil {
			return err
		}
	}

	if opts.Git {
		if err := initGit(opts); err != nil {
			return err
		}
	}

	fmt.Fprintf(opts.Out, "project %s scaffolded in %s\n", opts.Name, opts.Dir)

	return nil
}

// writeProjectFile writes one generated file, honoring the
// skip/diff/force policy for existing files.
func writeProjectFile(opts Options, name string, content []byte) error {
	path := filepath.Join(opts.Dir, name)

	existing, err := os.ReadFile(path) //nolint:gosec // path is under the scaffold dir
	switch {
	case err == nil && bytes.Equal(existing, content):
		return nil

	case err == nil && !opts.Force:
		unified, diffErr := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(existing)),
			B:        difflib.SplitLines(string(content)),
			FromFile: name + " (existing)",
			ToFile:   name + " (generated)",
			Context:  3,
		})
		if diffErr != nil {
			return fmt.Errorf("diffing %s: %w", name, diffErr)
		}

		fmt.Fprintf(opts.Out, "%s differs from the generated version (use --force to overwrite):\n%s", name, unified)

		return nil

	case err != nil && !os.IsNotExist(err):
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := os.WriteFile(path, content, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("writing %s: %w", path, err)
	}

	opts.Logger.Debug("file written", slog.String("path", path))

	return nil
}

// initGit runs git init in the project directory unless a repository
// already exists. A missing git binary downgrades to a warning.
func initGit(opts Options) error {
	if _, err := os.Stat(filepath.Join(opts.Dir, ".git")); err == nil {
		return nil
	}

	gitPath, err := exec.LookPath("git")
	if err != nil {
		opts.Logger.Warn("git not found on PATH, skipping repository init")
		return nil
	}

	cmd := exec.Command(gitPath, "init") //nolint:gosec
	cmd.Dir = opts.Dir
	cmd.Stdout = io.Discard
	cmd.Stderr = opts.Out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git init: %w", err)
	}

	return nil
}

// projectConfigYAML renders the default devloop.yaml for a new project.
func projectConfigYAML(name string) []byte {
	return []byte(fmt.Sprintf(`name: %s

source-dir: src
build-output-dir: build/libs
publish-dir: server/plugins
server-dir: server

debounce: 2s
grace-period: 10s

build:
  command: ./gradlew
  args: [build]
  full-args: [clean, build]

server:
  executable: java
  args: [-jar, server.jar, nogui]
`, name))
}
