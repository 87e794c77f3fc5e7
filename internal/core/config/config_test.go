package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "waggle.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:abc"
  allowed_users: [42, 99]
  group_id: -100123
tmux:
  session: "work"
poll:
  monitor_interval: 5s
autoclose:
  done_after: 30
  dead_after: 10
notifications:
  default_mode: "errors_only"
`)

	cfg, err := Load(path, t.TempDir(), "")
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, []int64{42, 99}, cfg.Telegram.AllowedUsers)
	assert.Equal(t, int64(-100123), cfg.Telegram.GroupID)
	assert.Equal(t, "work", cfg.Tmux.Session)
	assert.Equal(t, 5*time.Second, cfg.Poll.MonitorInterval)
	assert.Equal(t, time.Second, cfg.Poll.StatusInterval, "unset interval keeps default")
	assert.Equal(t, 30, cfg.AutoClose.DoneAfter)
	assert.Equal(t, 10, cfg.AutoClose.DeadAfter)
	assert.Equal(t, NotifyErrorsOnly, cfg.Notifications.DefaultMode)
	assert.Equal(t, "claude", cfg.Provider.Command, "provider default applied")
	assert.Equal(t, "_idle", cfg.Tmux.PlaceholderWindow)
}

func TestLoad_TokenFlagOverridesFile(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "file-token"
  allowed_users: [42]
`)

	cfg, err := Load(path, t.TempDir(), "env-token")
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.Token)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	// A path that does not exist is not an error; defaults still validate
	// once a token and at least one user are present.
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "nope.yml"), dir, "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allowed_users")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "telegram: [not a map")

	_, err := Load(path, t.TempDir(), "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestLoad_NoToken(t *testing.T) {
	path := writeConfig(t, `
telegram:
  allowed_users: [42]
`)

	_, err := Load(path, t.TempDir(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")
}

func TestConfig_Paths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/waggle"

	assert.Equal(t, "/data/waggle/state.json", cfg.StateFile())
	assert.Equal(t, "/data/waggle/monitor.json", cfg.MonitorFile())
	assert.Equal(t, "/data/waggle/session_map.json", cfg.SessionMapFile())
	assert.Equal(t, "/data/waggle/waggle.log", cfg.LogFile())
}

func TestConfig_AllowsUser(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Telegram.AllowedUsers = []int64{42, 99}

	assert.True(t, cfg.AllowsUser(42))
	assert.True(t, cfg.AllowsUser(99))
	assert.False(t, cfg.AllowsUser(7))
	assert.Equal(t, int64(42), cfg.PrimaryUser())
}

func TestConfig_PrimaryUserEmpty(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, int64(0), cfg.PrimaryUser())
}

func TestNotificationMode_Cycle(t *testing.T) {
	assert.Equal(t, NotifyErrorsOnly, NotifyAll.Next())
	assert.Equal(t, NotifyMuted, NotifyErrorsOnly.Next())
	assert.Equal(t, NotifyAll, NotifyMuted.Next())
	assert.Equal(t, NotifyAll, NotificationMode("bogus").Next(), "unknown mode resets to all")
}

func TestNotificationMode_IsValid(t *testing.T) {
	tests := []struct {
		mode NotificationMode
		want bool
	}{
		{NotifyAll, true},
		{NotifyErrorsOnly, true},
		{NotifyMuted, true},
		{"", false},
		{"loud", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.mode.IsValid())
		})
	}
}
