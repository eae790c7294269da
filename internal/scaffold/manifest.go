package scaffold

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Manifest is the plugin descriptor written to plugin.yml. The server
// reads it from the published artifact to load the plugin.
type Manifest struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Main        string   `yaml:"main"`
	APIVersion  string   `yaml:"api-version"`
	Description string   `yaml:"description,omitempty"`
	Authors     []string `yaml:"authors,omitempty"`
}

// Validate checks that the manifest identifies a loadable plugin.
// Version and api-version must be valid semantic versions.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest name must not be empty")
	}

	if m.Main == "" {
		return fmt.Errorf("manifest main class must not be empty")
	}

	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("invalid manifest version %q: %w", m.Version, err)
	}

	if _, err := semver.NewVersion(m.APIVersion); err != nil {
		return fmt.Errorf("invalid manifest api-version %q: %w", m.APIVersion, err)
	}

	return nil
}

// Render serializes the manifest to YAML.
func (m *Manifest) Render() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}

	return data, nil
}
