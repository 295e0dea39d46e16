package training

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/log"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/renderer"
)

// State of the training loop.
type State int

const (
	Idle State = iota
	Running
	Paused
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stop reasons reported in Result.
const (
	ReasonStepLimit    = "step_limit"
	ReasonEngineExit   = "engine_exit"
	ReasonStopped      = "stopped"
	ReasonInterrupted  = "interrupted"
	ReasonRendererFail = "renderer_error"
)

var (
	// ErrAlreadyRunning is returned when Run is called on a controller that has left Idle.
	ErrAlreadyRunning = errors.New("training loop already started")
	// ErrInvalidTransition is returned by Pause and Resume outside the states they apply to.
	ErrInvalidTransition = errors.New("invalid training state transition")
)

// Options configure a Controller.
type Options struct {
	// StepLimit bounds training when > 0.
	StepLimit int
	// Interactive keeps the loop alive at the step limit and only pauses training.
	Interactive bool
	// TrainImmediately starts an interactive session in Running instead of Paused.
	TrainImmediately bool
}

// Progress is a point-in-time view of the loop, delivered to observers after each iteration.
type Progress struct {
	State      State   `json:"-"`
	StateName  string  `json:"state"`
	Step       int     `json:"step"`
	StepLimit  int     `json:"step_limit"`
	Loss       float64 `json:"loss"`
	Total      int     `json:"progress"`
	Resets     int     `json:"resets"`
	Iterations int     `json:"iterations"`
}

// Result summarises a finished loop.
type Result struct {
	Steps      int
	Loss       float64
	Iterations int
	Reason     string
}

// Hook runs once per iteration on the loop goroutine, between Renderer calls. wantsREPL reports whether
// the engine asked for an interactive command.
type Hook func(ctx context.Context, c *Controller, wantsREPL bool) error

// Controller drives the renderer's training loop.
type Controller struct {
	renderer renderer.Renderer
	opts     Options
	display  Display
	logger   *log.Logger

	hooks     []Hook
	observers []func(Progress)
	tracker   ProgressTracker

	mu         sync.Mutex
	state      State
	stop       bool
	step       int
	loss       float64
	iterations int
}

// NewController creates a Controller. A nil display discards progress.
func NewController(r renderer.Renderer, opts Options, display Display, logger *log.Logger) *Controller {
	if display == nil {
		display = NopDisplay{}
	}
	return &Controller{
		renderer: r,
		opts:     opts,
		display:  display,
		logger:   logger,
		state:    Idle,
	}
}

// AddHook registers a per-iteration hook. Hooks must be added before Run.
func (c *Controller) AddHook(h Hook) {
	c.hooks = append(c.hooks, h)
}

// Observe registers a callback receiving Progress after each iteration and on state changes.
func (c *Controller) Observe(fn func(Progress)) {
	c.observers = append(c.observers, fn)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Progress returns the current progress view.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressLocked()
}

func (c *Controller) progressLocked() Progress {
	return Progress{
		State:      c.state,
		StateName:  c.state.String(),
		Step:       c.step,
		StepLimit:  c.opts.StepLimit,
		Loss:       c.loss,
		Total:      c.tracker.Total(),
		Resets:     c.tracker.Resets(),
		Iterations: c.iterations,
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	p := c.progressLocked()
	c.mu.Unlock()
	c.notify(p)
}

func (c *Controller) notify(p Progress) {
	for _, fn := range c.observers {
		fn(p)
	}
}

// Start leaves Idle: Running for non-interactive sessions, otherwise Paused unless TrainImmediately.
// The renderer's training flag is set to match.
func (c *Controller) Start(ctx context.Context) error {
	if c.State() != Idle {
		return ErrAlreadyRunning
	}
	initial := Running
	if c.opts.Interactive && !c.opts.TrainImmediately {
		initial = Paused
	}
	if err := c.renderer.SetShallTrain(ctx, initial == Running); err != nil {
		return fmt.Errorf("failed to set training flag: %w", err)
	}
	c.logger.Infow("training started", "state", initial.String(), "step_limit", c.opts.StepLimit, "interactive", c.opts.Interactive)
	c.setState(initial)
	return nil
}

// Pause clears the training flag. Must be called from the loop goroutine (a Hook) or before Run.
func (c *Controller) Pause(ctx context.Context) error {
	if s := c.State(); s != Running {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, s)
	}
	if err := c.renderer.SetShallTrain(ctx, false); err != nil {
		return fmt.Errorf("failed to pause training: %w", err)
	}
	c.setState(Paused)
	return nil
}

// Resume sets the training flag again.
func (c *Controller) Resume(ctx context.Context) error {
	if s := c.State(); s != Paused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, s)
	}
	if err := c.renderer.SetShallTrain(ctx, true); err != nil {
		return fmt.Errorf("failed to resume training: %w", err)
	}
	c.setState(Running)
	return nil
}

// Stop ends the loop after the current iteration.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop = true
}

func (c *Controller) stopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop
}

// Run starts the controller if needed and loops until the step limit, an engine exit, Stop, context
// cancellation or a renderer error. Renderer errors end the loop and are returned unchanged in their chain;
// the failed step is not retried.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	if c.State() == Idle {
		if err := c.Start(ctx); err != nil {
			return Result{}, err
		}
	} else if c.State() == Done {
		return Result{}, ErrAlreadyRunning
	}

	reason, err := c.loop(ctx)
	c.setState(Done)
	if ferr := c.display.Finish(); ferr != nil {
		c.logger.Debugw("failed to finish progress display", "error", ferr)
	}

	c.mu.Lock()
	res := Result{Steps: c.step, Loss: c.loss, Iterations: c.iterations, Reason: reason}
	c.mu.Unlock()

	if err != nil {
		c.logger.Errorw("training aborted", "reason", reason, "step", res.Steps, "error", err)
		return res, err
	}
	c.logger.Infow("training finished", "reason", reason, "step", res.Steps, "loss", res.Loss)
	return res, nil
}

func (c *Controller) loop(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return ReasonInterrupted, err
		}
		if c.stopRequested() {
			return ReasonStopped, nil
		}

		ok, err := c.renderer.Frame(ctx)
		if err != nil {
			return ReasonRendererFail, fmt.Errorf("training frame failed at step %d: %w", c.Progress().Step, err)
		}
		if !ok {
			return ReasonEngineExit, nil
		}

		if len(c.hooks) > 0 {
			wantsREPL, err := c.renderer.WantsREPL(ctx)
			if err != nil {
				return ReasonRendererFail, fmt.Errorf("failed to query command request: %w", err)
			}
			for _, h := range c.hooks {
				if err := h(ctx, c, wantsREPL); err != nil {
					return ReasonRendererFail, err
				}
			}
			if c.stopRequested() {
				return ReasonStopped, nil
			}
		}

		step, err := c.renderer.TrainingStep(ctx)
		if err != nil {
			return ReasonRendererFail, fmt.Errorf("failed to read training step: %w", err)
		}

		if c.opts.StepLimit > 0 && step >= c.opts.StepLimit {
			if !c.opts.Interactive {
				c.mu.Lock()
				c.step = step
				c.iterations++
				c.mu.Unlock()
				return ReasonStepLimit, nil
			}
			if c.State() == Running {
				c.logger.Infow("step limit reached, pausing training", "step", step)
				if err := c.Pause(ctx); err != nil {
					return ReasonRendererFail, err
				}
			}
		}

		delta, reset := c.tracker.Observe(step)
		if reset {
			c.display.Reset()
		}
		if err := c.display.Add(delta); err != nil {
			c.logger.Debugw("failed to update progress display", "error", err)
		}

		loss, err := c.renderer.Loss(ctx)
		if err != nil {
			return ReasonRendererFail, fmt.Errorf("failed to read loss: %w", err)
		}
		c.display.Describe(fmt.Sprintf("loss=%.6f", loss))

		c.mu.Lock()
		c.step = step
		c.loss = loss
		c.iterations++
		p := c.progressLocked()
		c.mu.Unlock()
		c.notify(p)
	}
}
