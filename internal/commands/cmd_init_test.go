package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/colonyops/waggle/internal/core/config"
)

func runInit(t *testing.T, flags *Flags, force bool) (string, error) {
	t.Helper()
	cmd := NewInitCmd(flags)
	cmd.force = force
	var buf bytes.Buffer
	err := cmd.run(context.Background(), &cli.Command{Writer: &buf})
	return buf.String(), err
}

func TestStarterConfigMatchesDefaults(t *testing.T) {
	t.Parallel()

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(starterConfig), &cfg))

	def := config.DefaultConfig()
	assert.Equal(t, def.Tmux, cfg.Tmux)
	assert.Equal(t, def.Provider.Command, cfg.Provider.Command)
	assert.Equal(t, def.Poll, cfg.Poll)
	assert.Equal(t, def.AutoClose, cfg.AutoClose)
	assert.Equal(t, def.Notifications.DefaultMode, cfg.Notifications.DefaultMode)
}

func TestHookSnippetIsValidJSON(t *testing.T) {
	t.Parallel()

	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(hookSnippet), &v))
	assert.Contains(t, v, "hooks")
}

func TestInitWritesStarterConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	flags := &Flags{
		ConfigPath: filepath.Join(dir, "cfg", "config.yaml"),
		DataDir:    filepath.Join(dir, "data"),
	}

	out, err := runInit(t, flags, false)
	require.NoError(t, err)
	assert.Contains(t, out, "UserPromptSubmit")
	assert.Contains(t, out, "waggle doctor")

	data, err := os.ReadFile(flags.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, starterConfig, string(data))
	assert.DirExists(t, flags.DataDir)
}

func TestInitRefusesOverwriteWithoutForce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	flags := &Flags{
		ConfigPath: filepath.Join(dir, "config.yaml"),
		DataDir:    filepath.Join(dir, "data"),
	}
	require.NoError(t, os.WriteFile(flags.ConfigPath, []byte("telegram: {}\n"), 0o600))

	_, err := runInit(t, flags, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = runInit(t, flags, true)
	require.NoError(t, err)

	data, err := os.ReadFile(flags.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, starterConfig, string(data))
}
