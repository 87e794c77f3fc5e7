package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/colonyops/waggle/internal/core/config"
	"github.com/colonyops/waggle/internal/state"
	"github.com/colonyops/waggle/internal/store/jsonfile"
)

// DataCheck verifies the on-disk files the bridge shares with the hook: the
// data directory, the session map, and the provider's transcript tree.
type DataCheck struct {
	cfg *config.Config
}

// NewDataCheck creates a new data files check.
func NewDataCheck(cfg *config.Config) *DataCheck {
	return &DataCheck{cfg: cfg}
}

func (c *DataCheck) Name() string {
	return "Data"
}

func (c *DataCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}
	result.Items = append(result.Items, c.dataDirItem())
	result.Items = append(result.Items, c.stateItem())
	result.Items = append(result.Items, c.sessionMapItem())
	result.Items = append(result.Items, c.transcriptsItem())
	return result
}

// dataDirItem probes writability by creating and removing a scratch file.
func (c *DataCheck) dataDirItem() CheckItem {
	dir := c.cfg.DataDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CheckItem{Label: "data dir", Status: StatusFail, Detail: fmt.Sprintf("cannot create: %v", err)}
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckItem{Label: "data dir", Status: StatusFail, Detail: fmt.Sprintf("not writable: %v", err)}
	}
	_ = os.Remove(probe)
	return CheckItem{Label: "data dir", Status: StatusPass, Detail: dir}
}

func (c *DataCheck) stateItem() CheckItem {
	path := c.cfg.StateFile()
	var raw map[string]any
	ok, err := jsonfile.Load(path, &raw)
	switch {
	case err != nil:
		return CheckItem{Label: "state file", Status: StatusFail, Detail: err.Error()}
	case !ok:
		return CheckItem{Label: "state file", Status: StatusPass, Detail: "not created yet"}
	default:
		return CheckItem{Label: "state file", Status: StatusPass, Detail: path}
	}
}

func (c *DataCheck) sessionMapItem() CheckItem {
	path := c.cfg.SessionMapFile()
	var raw map[string]state.SessionMapEntry
	ok, err := jsonfile.Load(path, &raw)
	switch {
	case err != nil:
		return CheckItem{Label: "session map", Status: StatusFail, Detail: err.Error()}
	case !ok:
		return CheckItem{Label: "session map", Status: StatusWarn, Detail: "missing; has the hook ever fired?"}
	default:
		return CheckItem{Label: "session map", Status: StatusPass, Detail: fmt.Sprintf("%d entries", len(raw))}
	}
}

// transcriptsItem counts transcripts under the provider's projects dir, the
// same way session discovery globs them.
func (c *DataCheck) transcriptsItem() CheckItem {
	dir := c.cfg.Provider.ProjectsDir
	if dir == "" {
		return CheckItem{Label: "transcripts", Status: StatusWarn, Detail: "projects dir unknown"}
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return CheckItem{Label: "transcripts", Status: StatusWarn, Detail: dir + " does not exist"}
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(dir, "*", "*.jsonl"))
	if err != nil {
		return CheckItem{Label: "transcripts", Status: StatusFail, Detail: err.Error()}
	}
	if len(matches) == 0 {
		return CheckItem{Label: "transcripts", Status: StatusWarn, Detail: "no transcripts under " + dir}
	}
	return CheckItem{Label: "transcripts", Status: StatusPass, Detail: fmt.Sprintf("%d files", len(matches))}
}
