package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/colonyops/waggle/internal/bot"
	"github.com/colonyops/waggle/internal/core/tmux"
	"github.com/colonyops/waggle/internal/monitor"
	"github.com/colonyops/waggle/internal/profiler"
	"github.com/colonyops/waggle/internal/state"
	"github.com/colonyops/waggle/pkg/executil"
)

type RunCmd struct {
	flags        *Flags
	profilerPort int
}

// NewRunCmd creates a new run command
func NewRunCmd(flags *Flags) *RunCmd {
	return &RunCmd{flags: flags}
}

// Register adds the run command to the application
func (cmd *RunCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Start the Telegram-tmux bridge",
		UsageText: "waggle run",
		Description: `Starts the bridge and blocks until interrupted.

The bridge ensures the configured tmux session exists, connects to the
Telegram bot API, and runs four loops: the update consumer, the delivery
queue workers, the transcript monitor, and the status poller.

Stop it with Ctrl-C or SIGTERM; state is flushed to disk on the way out.`,
		Action: cmd.run,
	})

	return app
}

// Flags returns the run-specific flags for registration on the root command,
// so they work for both `waggle` and `waggle run`.
func (cmd *RunCmd) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "profiler-port",
			Usage:       "enable pprof HTTP endpoint on specified port (e.g., 6060)",
			Sources:     cli.EnvVars("WAGGLE_PROFILER_PORT"),
			Destination: &cmd.profilerPort,
		},
	}
}

// Run executes the bridge. Exported for use as the default command.
func (cmd *RunCmd) Run(ctx context.Context, c *cli.Command) error {
	return cmd.run(ctx, c)
}

func (cmd *RunCmd) run(ctx context.Context, c *cli.Command) error {
	cfg, err := cmd.flags.RequireConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.Logger
	exec := &executil.RealExecutor{}

	if cmd.profilerPort > 0 {
		profServer := profiler.New(cmd.profilerPort, logger)
		if err := profServer.Start(ctx); err != nil {
			return fmt.Errorf("start profiler: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := profServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("profiler shutdown failed")
			}
		}()
		logger.Info().
			Str("url", fmt.Sprintf("http://%s/debug/pprof/", profServer.Addr())).
			Msg("profiler endpoint available")
	}

	st := state.New(cfg.StateFile(), cfg.Notifications.DefaultMode, logger)
	if st.NeedsMigration() {
		logger.Warn().Str("path", cfg.StateFile()).Msg("state file unreadable, starting empty")
	}

	tm := tmux.NewClient(exec, cfg.Tmux.Session, cfg.Tmux.PlaceholderWindow, cfg.Provider.Command, logger)
	if err := tm.EnsureSession(ctx); err != nil {
		return fmt.Errorf("ensure tmux session: %w", err)
	}

	platform, err := bot.NewTelegram(cfg.Telegram.Token, logger)
	if err != nil {
		return fmt.Errorf("connect telegram: %w", err)
	}

	bridge := bot.New(cfg, st, tm, platform, exec, logger)
	poller := bot.NewPoller(bridge, logger)

	mon := monitor.New(monitor.Config{
		SessionMapPath: cfg.SessionMapFile(),
		StatePath:      cfg.MonitorFile(),
		ProjectsDir:    cfg.Provider.ProjectsDir,
		TmuxSession:    cfg.Tmux.Session,
		Interval:       cfg.Poll.MonitorInterval,
	}, st, tm, logger)
	mon.OnRecords = bridge.OnRecords
	mon.OnNewWindow = bridge.OnNewWindow

	logger.Info().
		Str("session", cfg.Tmux.Session).
		Str("bot", platform.Username()).
		Msg("bridge started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bridge.Run(gctx) })
	g.Go(func() error { return bridge.Queue().Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return mon.Run(gctx) })

	err = g.Wait()
	st.Flush()
	logger.Info().Msg("bridge stopped")

	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	return nil
}
