package commands

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/waggle/internal/hook"
	"github.com/colonyops/waggle/pkg/executil"
	"github.com/colonyops/waggle/pkg/iojson"
)

type HookCmd struct {
	flags  *Flags
	reader iojson.FileReader[hook.Payload]
}

// NewHookCmd creates a new hook command.
func NewHookCmd(flags *Flags) *HookCmd {
	return &HookCmd{flags: flags}
}

// Register adds the hook command to the application.
func (cmd *HookCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "hook",
		Usage:     "Record the agent session for the current tmux window",
		UsageText: "waggle hook < payload.json",
		Description: `Reads the hook payload the agent CLI pipes on stdin and records which
session is running in the invoking tmux window. The bridge tails the
session map this writes to find transcripts.

Wire it up as a UserPromptSubmit hook:

  {"hooks": {"UserPromptSubmit": [{"hooks": [{"type": "command", "command": "waggle hook"}]}]}}

Invalid payloads and invocations from outside tmux are ignored so the
agent never sees a failure.`,
		Flags: []cli.Flag{
			cmd.reader.Flag(),
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *HookCmd) run(ctx context.Context, c *cli.Command) error {
	payload, err := cmd.reader.Read()
	if err != nil {
		// A malformed payload must not surface as a prompt error in the
		// agent. Log it and get out of the way.
		log.Debug().Err(err).Msg("hook payload unreadable")
		return nil
	}

	w := hook.NewWriter(&executil.RealExecutor{}, cmd.flags.Config.SessionMapFile(), log.Logger)
	if err := w.Apply(ctx, payload, os.Getenv("TMUX_PANE")); err != nil {
		log.Warn().Err(err).Msg("session map write failed")
	}
	return nil
}
