package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/waggle/internal/core/doctor"
	"github.com/colonyops/waggle/pkg/iojson"
)

type DoctorCmd struct {
	flags  *Flags
	format string
}

func NewDoctorCmd(flags *Flags) *DoctorCmd {
	return &DoctorCmd{flags: flags}
}

func (cmd *DoctorCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "doctor",
		Usage:       "Run health checks on your waggle setup",
		UsageText:   "waggle doctor [options]",
		Description: "Runs diagnostic checks on the binaries, configuration, and data files the bridge depends on.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *DoctorCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config

	// Report the config path only when a file is actually there; a missing
	// file means we ran on defaults.
	configPath := cmd.flags.ConfigPath
	if _, err := os.Stat(configPath); err != nil {
		configPath = ""
	}

	checks := []doctor.Check{
		doctor.NewToolsCheck(cfg.Provider.Command, cfg.Screenshot.Renderer),
		doctor.NewConfigCheck(cfg, configPath, cmd.flags.ConfigErr),
		doctor.NewDataCheck(cfg),
	}
	results := doctor.RunAll(ctx, checks)

	if cmd.format == "json" {
		return cmd.outputJSON(c, results)
	}

	return cmd.outputText(results)
}

func (cmd *DoctorCmd) outputJSON(c *cli.Command, results []doctor.Result) error {
	passed, warned, failed := doctor.Summary(results)

	out := struct {
		Healthy bool            `json:"healthy"`
		Summary summaryJSON     `json:"summary"`
		Checks  []doctor.Result `json:"checks"`
	}{
		Healthy: failed == 0,
		Summary: summaryJSON{Passed: passed, Warned: warned, Failed: failed},
		Checks:  results,
	}

	return iojson.WriteWith(c.Root().Writer, os.Stderr, out)
}

type summaryJSON struct {
	Passed int `json:"passed"`
	Warned int `json:"warned"`
	Failed int `json:"failed"`
}

func (cmd *DoctorCmd) outputText(results []doctor.Result) error {
	w := os.Stderr

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Waggle Doctor")
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 40))
	_, _ = fmt.Fprintln(w)

	for _, result := range results {
		_, _ = fmt.Fprintln(w, result.Name)

		for _, item := range result.Items {
			var detail string
			if item.Detail != "" {
				detail = " " + item.Detail
			}

			var icon string
			switch item.Status {
			case doctor.StatusPass:
				icon = "✔"
			case doctor.StatusWarn:
				icon = "●"
			case doctor.StatusFail:
				icon = "✘"
			}

			_, _ = fmt.Fprintf(w, "  %s %s%s\n", icon, item.Label, detail)
		}

		_, _ = fmt.Fprintln(w)
	}

	passed, warned, failed := doctor.Summary(results)
	_, _ = fmt.Fprintf(w, "%d passed  %d warnings  %d failed\n", passed, warned, failed)

	if failed > 0 {
		return cli.Exit("", 1)
	}

	return nil
}
