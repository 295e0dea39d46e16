// This file contains CommandConsole, the training loop hook executing operator commands. Commands reach it from two
// places: the status server enqueues remote commands, and the console reads one line from its input whenever the
// engine asks for a command. Either way they run on the loop goroutine, between Renderer calls.

package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/log"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/snapshot"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/training"
)

// CommandQueueSize bounds the number of remote commands waiting for the next iteration.
const CommandQueueSize = 16

// ErrCommandQueueFull is returned by Enqueue when the loop is not draining commands fast enough.
var ErrCommandQueueFull = errors.New("command queue full")

type CommandConsole struct {
	snapshots *snapshot.Store
	input     *bufio.Reader
	output    io.Writer
	queue     chan common.Command
	logger    *log.Logger

	// OnSnapshot is called after every snapshot saved by a command.
	OnSnapshot func(ctx context.Context, h snapshot.Handle)
}

// NewCommandConsole creates a console. A nil input disables interactive prompts; remote commands still run.
func NewCommandConsole(snapshots *snapshot.Store, input io.Reader, output io.Writer, logger *log.Logger) *CommandConsole {
	c := &CommandConsole{
		snapshots: snapshots,
		output:    output,
		queue:     make(chan common.Command, CommandQueueSize),
		logger:    logger,
	}
	if input != nil {
		c.input = bufio.NewReader(input)
	}
	if c.output == nil {
		c.output = io.Discard
	}
	return c
}

// Enqueue hands a command to the loop. It never blocks.
func (c *CommandConsole) Enqueue(cmd common.Command) error {
	select {
	case c.queue <- cmd:
		c.logger.Infow("command queued", "command", cmd.Name, "source", cmd.Source)
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// Hook is the training.Hook of the console.
func (c *CommandConsole) Hook(ctx context.Context, ctrl *training.Controller, wantsREPL bool) error {
drain:
	for {
		select {
		case cmd := <-c.queue:
			if err := c.execute(ctx, ctrl, cmd); err != nil {
				return err
			}
		default:
			break drain
		}
	}

	if !wantsREPL || c.input == nil {
		return nil
	}
	fmt.Fprint(c.output, "> ")
	line, err := c.input.ReadString('\n')
	if err != nil && (err != io.EOF || strings.TrimSpace(line) == "") {
		if err != io.EOF {
			c.logger.Warnw("failed to read command", "error", err)
		}
		return nil
	}
	cmd, err := common.ParseCommand(line)
	if err != nil {
		fmt.Fprintln(c.output, err)
		return nil
	}
	cmd.Source = "console"
	return c.execute(ctx, ctrl, cmd)
}

// execute runs one command. Only renderer failures and cancellation end the loop; bad transitions and
// unwritable snapshot paths are reported and ignored.
func (c *CommandConsole) execute(ctx context.Context, ctrl *training.Controller, cmd common.Command) error {
	var err error
	switch cmd.Name {
	case common.CommandPause:
		err = ctrl.Pause(ctx)
	case common.CommandResume:
		err = ctrl.Resume(ctx)
	case common.CommandStop:
		ctrl.Stop()
	case common.CommandSnapshot:
		var h snapshot.Handle
		h, err = c.snapshots.Save(ctx, cmd.Arg)
		if err == nil {
			fmt.Fprintf(c.output, "saved %s\n", h.Path)
			if c.OnSnapshot != nil {
				c.OnSnapshot(ctx, h)
			}
		}
	case common.CommandStatus:
		p := ctrl.Progress()
		fmt.Fprintf(c.output, "%s step=%d/%d loss=%.6f\n", p.StateName, p.Step, p.StepLimit, p.Loss)
	default:
		err = fmt.Errorf("%w: %q", common.ErrUnknownCommand, cmd.Name)
	}

	if err == nil {
		c.logger.Infow("command executed", "command", cmd.Name, "source", cmd.Source)
		return nil
	}
	if errors.Is(err, common.ErrRenderer) || ctx.Err() != nil {
		return err
	}
	c.logger.Warnw("command failed", "command", cmd.Name, "source", cmd.Source, "error", err)
	fmt.Fprintln(c.output, err)
	return nil
}
