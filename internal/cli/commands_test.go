package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Argument validation
// ---------------------------------------------------------------------------

func TestInit_RequiresNameArg(t *testing.T) {
	_, _, err := executeCommand("init")
	require.Error(t, err)
}

func TestInit_ExtraArgs(t *testing.T) {
	_, _, err := executeCommand("init", "a", "b")
	require.Error(t, err)
}

func TestDev_ExtraArgs(t *testing.T) {
	_, _, err := executeCommand("dev", "a", "b")
	require.Error(t, err)
}

func TestVersion_RejectsArgs(t *testing.T) {
	_, _, err := executeCommand("version", "extra")
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Help text
// ---------------------------------------------------------------------------

func TestDev_Help(t *testing.T) {
	stdout, _, err := executeCommand("dev", "--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "--no-watch")
	assert.Contains(t, stdout, "--skip-build")
}

func TestBuild_Help(t *testing.T) {
	stdout, _, err := executeCommand("build", "--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "--full")
}

func TestSetup_Help(t *testing.T) {
	stdout, _, err := executeCommand("setup", "--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "--url")
	assert.Contains(t, stdout, "--sha256")
}

// ---------------------------------------------------------------------------
// init + setup round trip
// ---------------------------------------------------------------------------

func TestInit_CreatesProject(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "my-plugin")

	_, _, err := executeCommand("init", "my-plugin", "--dir", dir, "--git=false")
	require.NoError(t, err)

	for _, f := range []string{"devloop.yaml", "plugin.yml", ".gitignore"} {
		_, statErr := os.Stat(filepath.Join(dir, f))
		assert.NoError(t, statErr, "init should create %s", f)
	}
}

func TestSetup_NoDistURL(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "my-plugin")

	_, _, err := executeCommand("init", "my-plugin", "--dir", dir, "--git=false")
	require.NoError(t, err)

	_, _, err = executeCommand("setup", dir)
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, err.Error(), "no distribution URL configured")
}

// ---------------------------------------------------------------------------
// Completion command
// ---------------------------------------------------------------------------

func TestCompletion_Bash(t *testing.T) {
	stdout, _, err := executeCommand("completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, stdout, "bash completion")
}

func TestCompletion_Zsh(t *testing.T) {
	stdout, _, err := executeCommand("completion", "zsh")
	require.NoError(t, err)
	assert.NotEmpty(t, stdout)
}

func TestCompletion_Fish(t *testing.T) {
	stdout, _, err := executeCommand("completion", "fish")
	require.NoError(t, err)
	assert.Contains(t, stdout, "fish")
}

func TestCompletion_PowerShell(t *testing.T) {
	stdout, _, err := executeCommand("completion", "powershell")
	require.NoError(t, err)
	assert.NotEmpty(t, stdout)
}

func TestCompletion_InvalidShell(t *testing.T) {
	_, _, err := executeCommand("completion", "invalid")
	require.Error(t, err)
}
