package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/waggle/internal/core/config"
	"github.com/colonyops/waggle/internal/state"
)

func seededState(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	st := state.New(cfg.StateFile(), cfg.Notifications.DefaultMode, zerolog.Nop())
	st.Bind(7001, 42, "@3")
	st.SetWindowState("@3", state.WindowState{
		SessionID:      "6f0d0444-9c3a-4a4e-8f61-000000000000",
		Cwd:            "/work/api",
		WindowName:     "api",
		TranscriptPath: "/home/u/.claude/projects/-work-api/6f0d0444.jsonl",
	})
	st.SetReadOffset(7001, "@3", 512)
	st.Flush()
	return &cfg
}

func runState(t *testing.T, flags *Flags, jsonMode bool) string {
	t.Helper()
	cmd := NewStateCmd(flags)
	cmd.jsonMode = jsonMode
	var buf bytes.Buffer
	require.NoError(t, cmd.run(context.Background(), &cli.Command{Writer: &buf}))
	return buf.String()
}

func TestStateDumpsBindingsAndWindows(t *testing.T) {
	t.Parallel()

	cfg := seededState(t)
	out := runState(t, &Flags{Config: cfg}, false)

	assert.Contains(t, out, "USER")
	assert.Contains(t, out, "OFFSET")
	assert.Contains(t, out, "@3")
	assert.Contains(t, out, "api")
	assert.Contains(t, out, "512")
	assert.Contains(t, out, "6f0d0444") // session id shown truncated
	assert.NotContains(t, out, "6f0d0444-9c3a-4a4e-8f61")
}

func TestStateJSONRoundTrips(t *testing.T) {
	t.Parallel()

	cfg := seededState(t)
	out := runState(t, &Flags{Config: cfg}, true)

	var decoded struct {
		StatePath string                       `json:"state_path"`
		Bindings  []stateBinding               `json:"bindings"`
		Windows   map[string]state.WindowState `json:"windows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))

	assert.Equal(t, cfg.StateFile(), decoded.StatePath)
	require.Len(t, decoded.Bindings, 1)
	assert.Equal(t, int64(7001), decoded.Bindings[0].UserID)
	assert.Equal(t, int64(42), decoded.Bindings[0].TopicID)
	assert.Equal(t, "@3", decoded.Bindings[0].WindowID)
	assert.Equal(t, int64(512), decoded.Bindings[0].Offset)
	assert.Equal(t, "/work/api", decoded.Windows["@3"].Cwd)
}

func TestStateEmptyStore(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	out := runState(t, &Flags{Config: &cfg}, false)

	assert.Contains(t, out, "No thread bindings.")
	assert.Contains(t, out, "No windows tracked.")
}
