package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/waggle/internal/state"
	"github.com/colonyops/waggle/pkg/iojson"
)

type StateCmd struct {
	flags    *Flags
	jsonMode bool
}

func NewStateCmd(flags *Flags) *StateCmd {
	return &StateCmd{flags: flags}
}

func (cmd *StateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "state",
		Usage:     "Dump the bridge's persisted state",
		UsageText: "waggle state [--json]",
		Description: `Prints the thread bindings, tracked windows, and per-user read offsets
from the state file. Useful to see what the bridge thinks is going on
without attaching to tmux or Telegram.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "emit machine-readable JSON",
				Destination: &cmd.jsonMode,
			},
		},
		Action: cmd.run,
	})
	return app
}

type stateBinding struct {
	UserID   int64  `json:"user_id"`
	TopicID  int64  `json:"topic_id"`
	WindowID string `json:"window_id"`
	Name     string `json:"name"`
	Mode     string `json:"mode"`
	Offset   int64  `json:"offset"`
}

func (cmd *StateCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config

	st := state.New(cfg.StateFile(), cfg.Notifications.DefaultMode, log.Logger)
	if st.NeedsMigration() {
		return fmt.Errorf("state file unreadable: %s", cfg.StateFile())
	}

	bindings := st.ThreadBindings()
	sort.Slice(bindings, func(i, j int) bool {
		if bindings[i].UserID != bindings[j].UserID {
			return bindings[i].UserID < bindings[j].UserID
		}
		return bindings[i].TopicID < bindings[j].TopicID
	})

	rows := make([]stateBinding, 0, len(bindings))
	for _, b := range bindings {
		rows = append(rows, stateBinding{
			UserID:   b.UserID,
			TopicID:  b.TopicID,
			WindowID: b.WindowID,
			Name:     st.DisplayName(b.WindowID),
			Mode:     string(st.NotificationMode(b.WindowID)),
			Offset:   st.ReadOffset(b.UserID, b.WindowID),
		})
	}

	windows := st.Windows()

	if cmd.jsonMode {
		out := struct {
			StatePath string                       `json:"state_path"`
			Bindings  []stateBinding               `json:"bindings"`
			Windows   map[string]state.WindowState `json:"windows"`
		}{
			StatePath: cfg.StateFile(),
			Bindings:  rows,
			Windows:   windows,
		}
		return iojson.WriteWith(c.Root().Writer, os.Stderr, out)
	}

	w := c.Root().Writer
	_, _ = fmt.Fprintf(w, "state: %s\n\n", cfg.StateFile())

	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "No thread bindings.")
	} else {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "USER\tTOPIC\tWINDOW\tNAME\tMODE\tOFFSET")
		for _, r := range rows {
			_, _ = fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%d\n", r.UserID, r.TopicID, r.WindowID, r.Name, r.Mode, r.Offset)
		}
		_ = tw.Flush()
	}
	_, _ = fmt.Fprintln(w)

	if len(windows) == 0 {
		_, _ = fmt.Fprintln(w, "No windows tracked.")
		return nil
	}

	ids := make([]string, 0, len(windows))
	for id := range windows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "WINDOW\tNAME\tSESSION\tCWD\tTRANSCRIPT")
	for _, id := range ids {
		ws := windows[id]
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id, ws.WindowName, shortID(ws.SessionID), ws.Cwd, ws.TranscriptPath)
	}
	return tw.Flush()
}

// shortID trims a session uuid down to its first block for table output.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}
