// Package ipc lets local tools control the recorder by writing one-line
// commands to a file the daemon watches.
package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Command is a control verb written to the command file
type Command string

const (
	CmdStart  Command = "start"  // Start a new session, rest of the line is the title
	CmdPause  Command = "pause"  // Pause the active session
	CmdResume Command = "resume" // Resume a paused session
	CmdStop   Command = "stop"   // Stop and assemble the session
)

// Request is a parsed command line
type Request struct {
	Command Command
	Title   string
}

// ParseRequest parses "start Weekly sync" style lines. Blank input yields a
// zero Request and no error.
func ParseRequest(line string) (Request, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Request{}, nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	req := Request{Command: Command(strings.ToLower(verb))}
	switch req.Command {
	case CmdStart:
		req.Title = strings.TrimSpace(rest)
	case CmdPause, CmdResume, CmdStop:
	default:
		return Request{}, fmt.Errorf("unknown command %q", verb)
	}
	return req, nil
}

// String formats the request as it is written to the command file
func (r Request) String() string {
	if r.Title != "" {
		return string(r.Command) + " " + r.Title
	}
	return string(r.Command)
}

// WriteCommand writes a request to the command file, creating its directory
func WriteCommand(path string, req Request) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(req.String()+"\n"), 0644)
}

// ReadCommand reads and clears the command file. Only the first non-blank
// line is honoured. A missing or empty file yields a zero Request.
func ReadCommand(path string) (Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Request{}, nil
		}
		return Request{}, err
	}
	if len(data) == 0 {
		return Request{}, nil
	}

	// Clear the file immediately to prevent re-execution
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return Request{}, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			return ParseRequest(line)
		}
	}
	return Request{}, nil
}
