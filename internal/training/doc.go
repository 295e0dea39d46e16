// Package training drives the renderer's optimisation loop. The Controller owns the Idle/Running/Paused/Done
// state machine and the step limit; the ProgressTracker turns the renderer's step counter, which may jump
// backwards after a network reload, into non-negative progress increments.
package training
