package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ProjectFileName is the per-project configuration file devloop looks for
// in the project root.
const ProjectFileName = "devloop.yaml"

// BuildConfig describes how the external build tool is invoked.
type BuildConfig struct {
	// Command is the build tool executable, resolved relative to the
	// project directory when not absolute (e.g. "./gradlew").
	Command string `mapstructure:"command" yaml:"command"`

	// Args is the argument list for an incremental build.
	Args []string `mapstructure:"args" yaml:"args"`

	// FullArgs is the argument list for a clean/full build.
	FullArgs []string `mapstructure:"full-args" yaml:"full-args"`
}

// ServerConfig describes the supervised server process.
type ServerConfig struct {
	// Executable is the server binary (e.g. "java").
	Executable string `mapstructure:"executable" yaml:"executable"`

	// Args is the argument list passed to the executable.
	Args []string `mapstructure:"args" yaml:"args"`

	// MinVersion is an optional semver constraint on the server
	// distribution, enforced by `devloop setup`.
	MinVersion string `mapstructure:"min-version" yaml:"min-version,omitempty"`
}

// DistConfig describes where the server distribution is downloaded from.
type DistConfig struct {
	// URL of the server distribution archive (zip or tar.gz).
	URL string `mapstructure:"url" yaml:"url,omitempty"`

	// Version of the distribution, matched against ServerConfig.MinVersion.
	Version string `mapstructure:"version" yaml:"version,omitempty"`

	// SHA256 is an optional hex digest the download must match.
	SHA256 string `mapstructure:"sha256" yaml:"sha256,omitempty"`
}

// Project holds the per-project configuration loaded from devloop.yaml.
// All *Dir fields are absolute after LoadProject resolves them against
// the project directory.
type Project struct {
	// Name of the plugin project.
	Name string `mapstructure:"name" yaml:"name"`

	// Dir is the project root. Set by LoadProject, not read from file.
	Dir string `mapstructure:"-" yaml:"-"`

	// SourceDir is the subtree watched for changes.
	SourceDir string `mapstructure:"source-dir" yaml:"source-dir"`

	// BuildOutputDir is where the build tool drops artifacts.
	BuildOutputDir string `mapstructure:"build-output-dir" yaml:"build-output-dir"`

	// PublishDir is where the built artifact is copied for the server
	// to pick up.
	PublishDir string `mapstructure:"publish-dir" yaml:"publish-dir"`

	// ServerDir is the server's working directory.
	ServerDir string `mapstructure:"server-dir" yaml:"server-dir"`

	// Debounce is the quiet period after the last change before a rebuild.
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`

	// GracePeriod is how long a stopped server may take to exit
	// voluntarily before it is terminated.
	GracePeriod time.Duration `mapstructure:"grace-period" yaml:"grace-period"`

	Build  BuildConfig  `mapstructure:"build" yaml:"build"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Dist   DistConfig   `mapstructure:"dist" yaml:"dist,omitempty"`
}

// DefaultProject returns a Project with the conventional layout for dir.
func DefaultProject(dir string) *Project {
	return &Project{
		Name:           filepath.Base(dir),
		Dir:            dir,
		SourceDir:      "src",
		BuildOutputDir: filepath.Join("build", "libs"),
		PublishDir:     filepath.Join("server", "plugins"),
		ServerDir:      "server",
		Debounce:       2 * time.Second,
		GracePeriod:    10 * time.Second,
		Build: BuildConfig{
			Command:  "./gradlew",
			Args:     []string{"build"},
			FullArgs: []string{"clean", "build"},
		},
		Server: ServerConfig{
			Executable: "java",
			Args:       []string{"-jar", "server.jar", "nogui"},
		},
	}
}

// LoadProject reads devloop.yaml from dir, applies defaults, resolves all
// directories to absolute paths, and validates the result.
func LoadProject(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving project directory %q: %w", dir, err)
	}

	path := filepath.Join(abs, ProjectFileName)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("project configuration %s not found (run `devloop init`?): %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)

	def := DefaultProject(abs)
	v.SetDefault("name", def.Name)
	v.SetDefault("source-dir", def.SourceDir)
	v.SetDefault("build-output-dir", def.BuildOutputDir)
	v.SetDefault("publish-dir", def.PublishDir)
	v.SetDefault("server-dir", def.ServerDir)
	v.SetDefault("debounce", def.Debounce)
	v.SetDefault("grace-period", def.GracePeriod)
	v.SetDefault("build.command", def.Build.Command)
	v.SetDefault("build.args", def.Build.Args)
	v.SetDefault("build.full-args", def.Build.FullArgs)
	v.SetDefault("server.executable", def.Server.Executable)
	v.SetDefault("server.args", def.Server.Args)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading project configuration %s: %w", path, err)
	}

	var p Project
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("unmarshaling project configuration: %w", err)
	}

	p.Dir = abs
	p.resolvePaths()

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

// resolvePaths makes all directory fields absolute relative to Dir.
func (p *Project) resolvePaths() {
	resolve := func(s string) string {
		if s == "" || filepath.IsAbs(s) {
			return s
		}

		return filepath.Join(p.Dir, s)
	}

	p.SourceDir = resolve(p.SourceDir)
	p.BuildOutputDir = resolve(p.BuildOutputDir)
	p.PublishDir = resolve(p.PublishDir)
	p.ServerDir = resolve(p.ServerDir)
}

// Validate checks that the project configuration is internally consistent.
func (p *Project) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("project name must not be empty")
	}

	if p.SourceDir == "" {
		return fmt.Errorf("source-dir must not be empty")
	}

	if p.BuildOutputDir == "" {
		return fmt.Errorf("build-output-dir must not be empty")
	}

	if p.PublishDir == "" {
		return fmt.Errorf("publish-dir must not be empty")
	}

	if p.Build.Command == "" {
		return fmt.Errorf("build.command must not be empty")
	}

	if p.Server.Executable == "" {
		return fmt.Errorf("server.executable must not be empty")
	}

	if p.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %s", p.Debounce)
	}

	if p.GracePeriod <= 0 {
		return fmt.Errorf("grace-period must be positive, got %s", p.GracePeriod)
	}

	return nil
}

// BuildCommandPath returns the build tool executable resolved against the
// project directory when it is a relative path like "./gradlew".
func (p *Project) BuildCommandPath() string {
	cmd := p.Build.Command
	if filepath.IsAbs(cmd) || filepath.Base(cmd) == cmd {
		// Absolute path or bare name (resolved via PATH).
		return cmd
	}

	return filepath.Join(p.Dir, cmd)
}
