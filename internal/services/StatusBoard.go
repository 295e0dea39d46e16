package services

import (
	"sync"
	"time"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/evaluation"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/training"
)

// Stages of a harness run, in order.
const (
	StageLoading     = "loading"
	StageTraining    = "training"
	StageEvaluating  = "evaluating"
	StageScreenshots = "screenshots"
	StageFinished    = "finished"
	StageFailed      = "failed"
)

// Status is a copy of the board served by the status server.
type Status struct {
	RunID      string             `json:"run_id"`
	Scene      string             `json:"scene,omitempty"`
	Mode       string             `json:"mode,omitempty"`
	Stage      string             `json:"stage"`
	Progress   *training.Progress `json:"progress,omitempty"`
	Evaluation *evaluation.Report `json:"evaluation,omitempty"`
	Updated    time.Time          `json:"updated"`
}

// StatusBoard holds the latest state of a run. Written by the loop goroutine, read by HTTP handlers.
type StatusBoard struct {
	mu     sync.RWMutex
	status Status
}

func NewStatusBoard(runID string) *StatusBoard {
	return &StatusBoard{status: Status{RunID: runID, Stage: StageLoading, Updated: time.Now()}}
}

func (b *StatusBoard) SetRun(sceneName, mode string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Scene, b.status.Mode = sceneName, mode
	b.status.Updated = time.Now()
}

func (b *StatusBoard) SetStage(stage string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Stage = stage
	b.status.Updated = time.Now()
}

// UpdateProgress has the signature of a training.Controller observer.
func (b *StatusBoard) UpdateProgress(p training.Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Progress = &p
	b.status.Updated = time.Now()
}

func (b *StatusBoard) SetEvaluation(r *evaluation.Report) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Evaluation = r
	b.status.Updated = time.Now()
}

// Status returns a copy of the board.
func (b *StatusBoard) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.status
	if s.Progress != nil {
		p := *s.Progress
		s.Progress = &p
	}
	return s
}
