package common

import (
	"errors"
	"fmt"
	"strings"
)

// CommandName identifies an operator command to the training loop.
type CommandName string

const (
	CommandPause    CommandName = "pause"
	CommandResume   CommandName = "resume"
	CommandStop     CommandName = "stop"
	CommandSnapshot CommandName = "snapshot"
	CommandStatus   CommandName = "status"
)

var (
	// ErrUnknownCommand is returned for command lines that name no known command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMissingArgument is returned when a command needs an argument that was not given.
	ErrMissingArgument = errors.New("missing command argument")
)

// Command is an operator request, typed on a console or posted to the status server.
type Command struct {
	Name   CommandName `json:"command"`
	Arg    string      `json:"arg,omitempty"`
	Source string      `json:"source,omitempty"`
}

// ParseCommand parses a console line such as "snapshot out/fox.ingp".
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty line", ErrUnknownCommand)
	}
	cmd := Command{Name: CommandName(strings.ToLower(fields[0])), Arg: strings.Join(fields[1:], " ")}
	switch cmd.Name {
	case CommandPause, CommandResume, CommandStop, CommandStatus:
	case CommandSnapshot:
		if cmd.Arg == "" {
			return Command{}, fmt.Errorf("%w: snapshot needs a path", ErrMissingArgument)
		}
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}
	return cmd, nil
}

// ToCommand converts a validated CommandRequest.
func (r CommandRequest) ToCommand(source string) Command {
	return Command{Name: CommandName(r.Command), Arg: r.Path, Source: source}
}
