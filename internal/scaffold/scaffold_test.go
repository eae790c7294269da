package scaffold

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/devloop/internal/config"
)

// ---------------------------------------------------------------------------
// Manifest
// ---------------------------------------------------------------------------

func TestManifest_Validate(t *testing.T) {
	valid := Manifest{Name: "demo", Version: "0.1.0", Main: "demo.Plugin", APIVersion: "1.0.0"}

	tests := []struct {
		name    string
		mutate  func(*Manifest)
		wantErr string
	}{
		{"valid", func(*Manifest) {}, ""},
		{"empty name", func(m *Manifest) { m.Name = "" }, "name must not be empty"},
		{"empty main", func(m *Manifest) { m.Main = "" }, "main class"},
		{"bad version", func(m *Manifest) { m.Version = "one" }, "invalid manifest version"},
		{"bad api-version", func(m *Manifest) { m.APIVersion = "latest" }, "invalid manifest api-version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.mutate(&m)

			err := m.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestManifest_RenderRoundTrip(t *testing.T) {
	m := &Manifest{Name: "demo", Version: "0.1.0", Main: "demo.Plugin", APIVersion: "1.0.0", Authors: []string{"dev"}}

	data, err := m.Render()
	require.NoError(t, err)

	var parsed Manifest
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	assert.Equal(t, *m, parsed)
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_CreatesLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "myplugin")

	err := Run(Options{Dir: dir, Name: "myplugin", Out: io.Discard})
	require.NoError(t, err)

	for _, f := range []string{"devloop.yaml", "plugin.yml", ".gitignore"} {
		assert.FileExists(t, filepath.Join(dir, f))
	}

	assert.DirExists(t, filepath.Join(dir, "src"))
}

func TestRun_GeneratedConfigIsLoadable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "demo")

	require.NoError(t, Run(Options{Dir: dir, Name: "demo", Out: io.Discard}))

	p, err := config.LoadProject(dir)
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name)
	assert.Equal(t, filepath.Join(dir, "src"), p.SourceDir)
}

func TestRun_GeneratedManifestIsValid(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "demo")

	require.NoError(t, Run(Options{Dir: dir, Name: "demo", Out: io.Discard}))

	data, err := os.ReadFile(filepath.Join(dir, "plugin.yml"))
	require.NoError(t, err)

	var m Manifest
	require.NoError(t, yaml.Unmarshal(data, &m))
	assert.NoError(t, m.Validate())
	assert.Equal(t, "demo", m.Name)
}

func TestRun_IdenticalFilesSkipped(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "demo")

	require.NoError(t, Run(Options{Dir: dir, Name: "demo", Out: io.Discard}))

	// A second run over identical content is silent.
	var out bytes.Buffer
	require.NoError(t, Run(Options{Dir: dir, Name: "demo", Out: &out}))
	assert.NotContains(t, out.String(), "differs")
}

func TestRun_DifferingFileDiffedNotOverwritten(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "demo")
	require.NoError(t, Run(Options{Dir: dir, Name: "demo", Out: io.Discard}))

	custom := []byte("name: demo\ndebounce: 5s\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "devloop.yaml"), custom, 0o644))

	var out bytes.Buffer
	require.NoError(t, Run(Options{Dir: dir, Name: "demo", Out: &out}))

	assert.Contains(t, out.String(), "devloop.yaml differs")
	assert.Contains(t, out.String(), "--- devloop.yaml (existing)")

	// The customized file survives.
	data, err := os.ReadFile(filepath.Join(dir, "devloop.yaml"))
	require.NoError(t, err)
	assert.Equal(t, custom, data)
}

func TestRun_ForceOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "demo")
	require.NoError(t, Run(Options{Dir: dir, Name: "demo", Out: io.Discard}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "devloop.yaml"), []byte("name: other\n"), 0o644))

	require.NoError(t, Run(Options{Dir: dir, Name: "demo", Force: true, Out: io.Discard}))

	data, err := os.ReadFile(filepath.Join(dir, "devloop.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: demo")
}

func TestRun_NameDefaultsToDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "from-dir")

	require.NoError(t, Run(Options{Dir: dir, Out: io.Discard}))

	data, err := os.ReadFile(filepath.Join(dir, "devloop.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: from-dir")
}
