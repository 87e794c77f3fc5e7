// Package iojson reads and writes JSON at command-line boundaries: decoding
// one payload from a file or piped stdin, and emitting machine-readable
// command output.
package iojson

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// FileReader decodes one JSON value of type T, from --file when given and
// from piped stdin otherwise. An interactive stdin is rejected instead of
// hanging the command on a read that will never arrive.
type FileReader[T any] struct {
	path string
}

// Flag returns the --file/-f flag wired to this reader.
func (fr *FileReader[T]) Flag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:        "file",
		Aliases:     []string{"f"},
		Usage:       "path to a JSON file (defaults to stdin)",
		Destination: &fr.path,
	}
}

// Read decodes the input. The zero T is returned on error.
func (fr *FileReader[T]) Read() (T, error) {
	var v T

	var r io.Reader
	switch {
	case fr.path != "":
		f, err := os.Open(fr.path)
		if err != nil {
			return v, fmt.Errorf("open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	case term.IsTerminal(int(os.Stdin.Fd())):
		return v, fmt.Errorf("stdin is a terminal; pipe JSON in or pass --file")
	default:
		r = os.Stdin
	}

	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return v, fmt.Errorf("decode input: %w", err)
	}
	return v, nil
}

// WriteWith marshals obj indented onto w. A marshal failure writes a JSON
// error blob to ew instead, so consumers of w always see valid JSON or
// nothing.
func WriteWith(w io.Writer, ew io.Writer, obj any) error {
	bits, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		msg, _ := json.Marshal(err.Error())
		_, werr := fmt.Fprintf(ew, `{"message":"marshal failed","data":{"json_error":%s}}`+"\n", msg)
		return werr
	}

	_, err = fmt.Fprintln(w, string(bits))
	return err
}
