package doctor

import (
	"context"
	"os/exec"
	"strings"
)

// lookPathFunc is the function used to find executables on PATH.
// Package-level variable to allow test overrides.
var lookPathFunc = exec.LookPath

// ToolsCheck verifies that the external commands the bridge shells out to
// are available on $PATH.
type ToolsCheck struct {
	providerCommand string
	renderer        string
}

// NewToolsCheck creates a new tools check. providerCommand is the agent CLI
// launched in new windows; renderer is the optional screenshot pipeline.
func NewToolsCheck(providerCommand, renderer string) *ToolsCheck {
	return &ToolsCheck{providerCommand: providerCommand, renderer: renderer}
}

func (c *ToolsCheck) Name() string {
	return "Tools"
}

func (c *ToolsCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	// tmux is required: every window the bridge manages lives in it.
	result.Items = append(result.Items, binaryItem("tmux", "tmux", StatusFail))

	if bin := firstField(c.providerCommand); bin != "" {
		result.Items = append(result.Items, binaryItem("provider: "+bin, bin, StatusFail))
	} else {
		result.Items = append(result.Items, CheckItem{
			Label:  "provider",
			Status: StatusFail,
			Detail: "no provider command configured",
		})
	}

	if bin := firstField(c.renderer); bin != "" {
		// Missing renderer degrades screenshots to text, nothing breaks.
		result.Items = append(result.Items, binaryItem("screenshot renderer: "+bin, bin, StatusWarn))
	} else {
		result.Items = append(result.Items, CheckItem{
			Label:  "screenshot renderer",
			Status: StatusPass,
			Detail: "none configured, screenshots fall back to text",
		})
	}

	return result
}

// binaryItem builds a pass item with the resolved path, or an item with
// missStatus when the binary is not on PATH.
func binaryItem(label, bin string, missStatus Status) CheckItem {
	path, err := lookPathFunc(bin)
	if err != nil {
		return CheckItem{Label: label, Status: missStatus, Detail: "not found on PATH"}
	}
	return CheckItem{Label: label, Status: StatusPass, Detail: path}
}

func firstField(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
