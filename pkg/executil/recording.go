package executil

import (
	"context"
	"strings"
	"sync"
)

// RecordedCommand captures a command that was executed.
type RecordedCommand struct {
	Dir   string
	Cmd   string
	Args  []string
	Input []byte
}

// Line returns the command as a single space-joined string for assertions.
func (rc RecordedCommand) Line() string {
	return strings.Join(append([]string{rc.Cmd}, rc.Args...), " ")
}

// RecordingExecutor captures commands for testing.
// Outputs and Errors are keyed by "<cmd> <first-arg>" (e.g. "tmux list-windows")
// falling back to the bare command name, so multi-subcommand tools like tmux
// can be scripted per operation. Handler, when set, takes precedence.
type RecordingExecutor struct {
	mu       sync.Mutex
	Commands []RecordedCommand

	// Outputs maps command keys to their stdout.
	Outputs map[string][]byte

	// Errors maps command keys to their error.
	Errors map[string]error

	// Handler, when non-nil, computes the result for every call.
	Handler func(cmd string, args []string) ([]byte, error)
}

// Run records the command and returns configured output/error.
func (e *RecordingExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return e.record("", nil, cmd, args...)
}

// RunDir records the command with directory and returns configured output/error.
func (e *RecordingExecutor) RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error) {
	return e.record(dir, nil, cmd, args...)
}

// RunInput records the command with stdin bytes and returns configured output/error.
func (e *RecordingExecutor) RunInput(ctx context.Context, input []byte, cmd string, args ...string) ([]byte, error) {
	return e.record("", input, cmd, args...)
}

func (e *RecordingExecutor) record(dir string, input []byte, cmd string, args ...string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Commands = append(e.Commands, RecordedCommand{
		Dir:   dir,
		Cmd:   cmd,
		Args:  args,
		Input: input,
	})

	if e.Handler != nil {
		return e.Handler(cmd, args)
	}

	key := cmd
	if len(args) > 0 {
		key = cmd + " " + args[0]
	}

	var out []byte
	var err error

	if e.Outputs != nil {
		if v, ok := e.Outputs[key]; ok {
			out = v
		} else {
			out = e.Outputs[cmd]
		}
	}
	if e.Errors != nil {
		if v, ok := e.Errors[key]; ok {
			err = v
		} else {
			err = e.Errors[cmd]
		}
	}

	return out, err
}

// Reset clears recorded commands.
func (e *RecordingExecutor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands = nil
}

// CommandLines returns all recorded commands as joined strings.
func (e *RecordingExecutor) CommandLines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	lines := make([]string, len(e.Commands))
	for i, rc := range e.Commands {
		lines[i] = rc.Line()
	}
	return lines
}
