package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
)

// starterConfig is the commented config written by `waggle init`. Kept in
// sync with config.DefaultConfig by hand; the values below are the defaults.
const starterConfig = `telegram:
  # Bot token from @BotFather. Prefer the WAGGLE_TELEGRAM_TOKEN env var
  # over putting the secret in this file.
  token: ""
  # User ids allowed to talk to the bot. Ask @userinfobot for yours.
  allowed_users: []
  # Supergroup (with topics enabled) for auto-created topics. 0 disables
  # auto-topic creation.
  group_id: 0

tmux:
  session: waggle
  placeholder_window: _idle

provider:
  # Executable launched in new windows.
  command: claude
  # Where the CLI writes transcripts. Empty means ~/.claude/projects.
  projects_dir: ""

poll:
  monitor_interval: 2s
  status_interval: 1s
  liveness_interval: 60s

# Minutes of inactivity before a topic is closed. 0 disables a timer.
autoclose:
  done_after: 0
  dead_after: 5

screenshot:
  # Command turning ANSI pane text on stdin into a PNG on stdout, e.g.
  # "freeze --language ansi". Empty sends captures as plain text files.
  renderer: ""

notifications:
  # all, errors_only, or muted. Cycled per window with /mute.
  default_mode: all
`

// hookSnippet is the settings.json fragment that makes the agent CLI call
// the hook on every prompt.
const hookSnippet = `{
  "hooks": {
    "UserPromptSubmit": [
      {"hooks": [{"type": "command", "command": "waggle hook"}]}
    ]
  }
}`

type InitCmd struct {
	flags *Flags
	force bool
}

func NewInitCmd(flags *Flags) *InitCmd {
	return &InitCmd{flags: flags}
}

func (cmd *InitCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "init",
		Usage:     "Write a starter config file",
		UsageText: "waggle init [--force]",
		Description: `Creates the config file with commented defaults and the data directory,
then prints the hook snippet to add to the agent CLI's settings.

Refuses to overwrite an existing config unless --force is given.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "force",
				Aliases:     []string{"f"},
				Usage:       "overwrite an existing config file",
				Destination: &cmd.force,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *InitCmd) run(ctx context.Context, c *cli.Command) error {
	configPath := cmd.flags.ConfigPath

	if _, err := os.Stat(configPath); err == nil && !cmd.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(starterConfig), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.MkdirAll(cmd.flags.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	w := c.Root().Writer
	_, _ = fmt.Fprintf(w, "Wrote %s\n\n", configPath)
	_, _ = fmt.Fprintln(w, "Next steps:")
	_, _ = fmt.Fprintln(w, "  1. Set WAGGLE_TELEGRAM_TOKEN (or telegram.token) and telegram.allowed_users")
	_, _ = fmt.Fprintln(w, "  2. Add the prompt hook to the agent CLI settings (e.g. ~/.claude/settings.json):")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, hookSnippet)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "  3. Check the setup with `waggle doctor`, then start it with `waggle run`")

	return nil
}
