package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/waggle/internal/commands"
	"github.com/colonyops/waggle/internal/core/config"
	"github.com/colonyops/waggle/internal/core/logging"
	"github.com/colonyops/waggle/pkg/logutils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	// When installed via `go install module@version`, init() populates
	// these from runtime/debug.BuildInfo instead.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	v, c, d := version, commit, date

	// When installed via `go install module@version`, ldflags aren't set
	// so version remains "dev". Fall back to runtime/debug.BuildInfo which
	// Go populates automatically with the module version and VCS metadata.
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}

	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

func main() {
	ctx := context.Background()

	var logCloser func()

	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "waggle",
		Usage:     "Drive AI coding agents in tmux from Telegram",
		UsageText: "waggle [global options] command [command options]",
		Description: `Waggle bridges Telegram forum topics to tmux windows running AI coding
agent CLIs. Each topic is bound to one window: messages you send are typed
into the agent, and the agent's transcript is mirrored back as replies.

Run 'waggle run' to start the bridge and 'waggle doctor' to verify the
setup. The agent's prompt hook should invoke 'waggle hook'.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("WAGGLE_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to <data-dir>/waggle.log)",
				Sources:     cli.EnvVars("WAGGLE_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("WAGGLE_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("WAGGLE_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "Telegram bot token (overrides telegram.token)",
				Sources:     cli.EnvVars("WAGGLE_TELEGRAM_TOKEN"),
				Destination: &flags.Token,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			// Always log to a file: stdout belongs to command output and the
			// hook must stay silent on the agent's side.
			logFile := flags.LogFile
			if logFile == "" {
				logFile = filepath.Join(flags.DataDir, "waggle.log")
			}

			logger, closer, err := logutils.New(flags.LogLevel, logFile)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			// Session and window ids ride the context; the hook stamps them
			// onto every event logged with .Ctx().
			log.Logger = logger.Hook(logging.ContextHook{})
			logCloser = closer

			cfg, err := config.Load(flags.ConfigPath, flags.DataDir, flags.Token)
			if err != nil {
				// hook and doctor still work on a broken install; defer the
				// error so they can run and doctor can report it.
				fallback := config.DefaultConfig()
				fallback.DataDir = flags.DataDir
				if flags.Token != "" {
					fallback.Telegram.Token = flags.Token
				}
				flags.Config = &fallback
				flags.ConfigErr = err
				log.Debug().Err(err).Msg("config load failed, continuing with defaults")
				return ctx, nil
			}

			flags.Config = cfg
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	runCmd := commands.NewRunCmd(flags)

	app = runCmd.Register(app)
	app = commands.NewHookCmd(flags).Register(app)
	app = commands.NewDoctorCmd(flags).Register(app)
	app = commands.NewStateCmd(flags).Register(app)
	app = commands.NewInitCmd(flags).Register(app)

	// Register run flags on the root so they also apply to the default action
	app.Flags = append(app.Flags, runCmd.Flags()...)

	// Bare `waggle` starts the bridge.
	app.Action = func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() > 0 {
			return fmt.Errorf("unknown command %q. Run 'waggle --help' for usage", c.Args().First())
		}
		return runCmd.Run(ctx, c)
	}

	exitCode := 0
	runErr := app.Run(ctx, os.Args)
	if runErr != nil {
		fmt.Println()
		fmt.Println(runErr.Error())
		exitCode = 1
	}

	os.Exit(exitCode)
}
