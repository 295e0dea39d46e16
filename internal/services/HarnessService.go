// This file contains the implementation of HarnessService. This service runs one harness invocation end to end
// against a Renderer:
//
//  1. resolve mode, network config and training data from the options and the scene registry
//  2. create the testbed, set sharpening (and the ACES tonemap for sdf scenes) and load the training data
//  3. load a snapshot, or reload the network config when there is none
//  4. parse the test and screenshot manifests so configuration errors surface before any rendering
//  5. open the window, set the training flag and camera distortion, apply NeRF compatibility
//  6. train until the step limit, an engine exit, a stop command or an interrupt
//  7. save the snapshot, evaluate against the test manifest, take screenshots
//
// The status board, event publisher and evaluation store are fed along the way. Every failure ends the run.

package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/config"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/evaluation"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/log"
	evalrecord "github.com/NeRF-or-Nothing/go-ngp-harness/internal/models/evaluation"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/models/scene"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/models/transforms"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/renderer"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/screenshot"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/snapshot"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/training"
)

// Collaborators are the optional pieces wired around a run. Nil fields are replaced by no-ops.
type Collaborators struct {
	Events      EventPublisher
	Evaluations evalrecord.Store
	Board       *StatusBoard
	Console     *CommandConsole
	// Progress receives the training progress bar; nil disables it.
	Progress io.Writer
}

// Outcome summarises a finished run.
type Outcome struct {
	RunID       string
	Run         config.Run
	Snapshot    *snapshot.Handle
	Training    *training.Result
	Evaluation  *evaluation.Report
	Screenshots []screenshot.Shot
}

type HarnessService struct {
	renderer  renderer.Renderer
	opts      config.Options
	registry  *scene.Registry
	snapshots *snapshot.Store
	c         Collaborators
	runID     string
	logger    *log.Logger
}

// NewHarnessService creates a harness for one invocation. A new run ID is generated when runID is empty.
func NewHarnessService(r renderer.Renderer, opts config.Options, reg *scene.Registry, c Collaborators, runID string, logger *log.Logger) *HarnessService {
	if reg == nil {
		reg = &scene.Registry{}
	}
	if c.Events == nil {
		c.Events = NopPublisher{}
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	if c.Board == nil {
		c.Board = NewStatusBoard(runID)
	}
	return &HarnessService{
		renderer:  r,
		opts:      opts,
		registry:  reg,
		snapshots: snapshot.NewStore(r, logger),
		c:         c,
		runID:     runID,
		logger:    logger,
	}
}

// RunID identifies this invocation in events, records and the status server.
func (s *HarnessService) RunID() string {
	return s.runID
}

// Board returns the status board fed by the run.
func (s *HarnessService) Board() *StatusBoard {
	return s.c.Board
}

// Run executes the invocation.
func (s *HarnessService) Run(ctx context.Context) (*Outcome, error) {
	out, err := s.run(ctx)
	if err != nil {
		s.c.Board.SetStage(StageFailed)
		return out, err
	}
	s.c.Board.SetStage(StageFinished)
	return out, nil
}

func (s *HarnessService) run(ctx context.Context) (*Outcome, error) {
	run, err := s.opts.Resolve(s.registry)
	if err != nil {
		return nil, err
	}
	out := &Outcome{RunID: s.runID, Run: run}
	s.c.Board.SetRun(s.opts.Scene, run.Mode)
	s.logger.Infow("run resolved",
		"run_id", s.runID,
		"mode", run.Mode,
		"network", run.Network,
		"training_data", run.TrainingData,
	)

	if err := s.setup(ctx, run, out); err != nil {
		return out, err
	}

	// manifests are parsed before any rendering so configuration errors abort early
	testManifest, err := parseOptional(s.opts.TestTransforms)
	if err != nil {
		return out, err
	}
	screenshotManifest, err := parseOptional(s.opts.ScreenshotTransforms)
	if err != nil {
		return out, err
	}

	if err := s.configure(ctx, run); err != nil {
		return out, err
	}

	if limit, train := s.opts.StepLimit(); train {
		res, err := s.train(ctx, limit)
		out.Training = &res
		if err != nil {
			return out, err
		}
	}

	if s.opts.SaveSnapshot != "" {
		h, err := s.snapshots.Save(ctx, s.opts.SaveSnapshot)
		if err != nil {
			return out, err
		}
		out.Snapshot = &h
		s.publish(ctx, EventSnapshotSaved, h)
	}

	if testManifest != nil {
		s.c.Board.SetStage(StageEvaluating)
		report, err := s.evaluate(ctx, run, testManifest, out)
		if err != nil {
			return out, err
		}
		out.Evaluation = report
	}

	if s.opts.ScreenshotsRequested() {
		s.c.Board.SetStage(StageScreenshots)
		shots, err := s.screenshots(ctx, run, screenshotManifest)
		out.Screenshots = shots
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func parseOptional(path string) (*transforms.Manifest, error) {
	if path == "" {
		return nil, nil
	}
	return transforms.Parse(path)
}

// setup creates the testbed and loads the scene, the network and the snapshot.
func (s *HarnessService) setup(ctx context.Context, run config.Run, out *Outcome) error {
	if err := s.renderer.Init(ctx, renderer.Mode(run.Mode)); err != nil {
		return fmt.Errorf("failed to create %s testbed: %w", run.Mode, err)
	}
	if err := s.renderer.SetSharpen(ctx, s.opts.Sharpen); err != nil {
		return fmt.Errorf("failed to set sharpen: %w", err)
	}
	if run.Mode == scene.ModeSDF {
		if err := s.renderer.SetTonemapCurve(ctx, renderer.TonemapACES); err != nil {
			return fmt.Errorf("failed to set tonemap curve: %w", err)
		}
	}

	if run.TrainingData != "" {
		if err := s.renderer.LoadTrainingData(ctx, run.TrainingData); err != nil {
			return fmt.Errorf("failed to load training data %s: %w", run.TrainingData, err)
		}
	}

	if s.opts.LoadSnapshot != "" {
		h, err := s.snapshots.Load(ctx, s.opts.LoadSnapshot)
		if err != nil {
			return err
		}
		out.Snapshot = &h
		return nil
	}
	if err := s.renderer.ReloadNetworkFromFile(ctx, run.Network); err != nil {
		return fmt.Errorf("failed to load network config %s: %w", run.Network, err)
	}
	return nil
}

// configure applies the window, training flag and NeRF compatibility settings.
func (s *HarnessService) configure(ctx context.Context, run config.Run) error {
	if s.opts.GUI {
		w, h := s.opts.WindowSize()
		if err := s.renderer.InitWindow(ctx, w, h); err != nil {
			return fmt.Errorf("failed to open %dx%d window: %w", w, h, err)
		}
	}
	if err := s.renderer.SetShallTrain(ctx, s.opts.ShallTrain()); err != nil {
		return fmt.Errorf("failed to set training flag: %w", err)
	}
	if err := s.renderer.SetCameraDistortion(ctx, true); err != nil {
		return fmt.Errorf("failed to enable camera distortion: %w", err)
	}

	if !s.opts.NeRFCompatibility {
		return nil
	}
	if err := s.renderer.SetBackgroundColor(ctx, [4]float64{1, 1, 1, 1}); err != nil {
		return fmt.Errorf("failed to set background: %w", err)
	}
	if err := s.renderer.SetRandomBackground(ctx, false); err != nil {
		return fmt.Errorf("failed to disable random background: %w", err)
	}
	if err := s.renderer.SetConeAngleConstant(ctx, 0); err != nil {
		return fmt.Errorf("failed to set cone angle: %w", err)
	}
	s.logger.Infow("NeRF compatibility mode enabled", "mode", run.Mode)
	return nil
}

func (s *HarnessService) train(ctx context.Context, limit int) (training.Result, error) {
	s.c.Board.SetStage(StageTraining)

	var display training.Display = training.NopDisplay{}
	if s.c.Progress != nil {
		display = training.NewBar(s.c.Progress, limit)
	}
	ctrl := training.NewController(s.renderer, training.Options{
		StepLimit:        limit,
		Interactive:      s.opts.GUI,
		TrainImmediately: s.opts.ShallTrain(),
	}, display, s.logger)
	ctrl.Observe(s.c.Board.UpdateProgress)
	if s.c.Console != nil {
		ctrl.AddHook(s.c.Console.Hook)
	}

	res, err := ctrl.Run(ctx)
	if err != nil {
		return res, err
	}
	s.publish(ctx, EventTrainingFinished, res)
	return res, nil
}

func (s *HarnessService) evaluate(ctx context.Context, run config.Run, m *transforms.Manifest, out *Outcome) (*evaluation.Report, error) {
	runner := evaluation.NewRunner(s.renderer, evaluation.Options{
		SPP:         s.opts.EvalSPP,
		DebugDir:    s.opts.EvalDebugDir,
		ComputeSSIM: s.opts.SSIM,
	}, s.logger)
	report, err := runner.Run(ctx, m)
	if err != nil {
		return nil, err
	}
	s.c.Board.SetEvaluation(report)

	record := &evalrecord.Evaluation{
		RunID:       s.runID,
		Scene:       s.opts.Scene,
		Mode:        run.Mode,
		Network:     run.Network,
		Snapshot:    out.Snapshot,
		Manifest:    report.Manifest,
		SPP:         report.SPP,
		Frames:      report.Frames,
		Summary:     report.Summary,
		CreatedAt:   time.Now().UTC(),
		DebugImages: report.DebugImages,
	}
	if out.Training != nil {
		record.TrainSteps = out.Training.Steps
	}
	if s.c.Evaluations != nil {
		if err := s.c.Evaluations.SetEvaluation(ctx, record); err != nil {
			s.logger.Errorw("failed to store evaluation", "run_id", s.runID, "error", err)
		}
	}
	s.publish(ctx, EventEvaluationFinished, record)
	return report, nil
}

func (s *HarnessService) screenshots(ctx context.Context, run config.Run, m *transforms.Manifest) ([]screenshot.Shot, error) {
	runner := screenshot.NewRunner(s.renderer, screenshot.Options{
		Dir:         s.opts.ScreenshotDir,
		Width:       s.opts.ScreenshotW,
		Height:      s.opts.ScreenshotH,
		SPP:         s.opts.ScreenshotSPP,
		Frames:      s.opts.ScreenshotFrames,
		Scene:       s.opts.Scene,
		NetworkStem: run.NetworkStem,
	}, s.logger)
	shots, err := runner.Run(ctx, m)
	for _, shot := range shots {
		s.publish(ctx, EventScreenshotWritten, shot)
	}
	return shots, err
}

// publish sends an event. Broker failures are logged and do not fail the run.
func (s *HarnessService) publish(ctx context.Context, eventType string, payload any) {
	e := Event{
		Type:    eventType,
		RunID:   s.runID,
		Scene:   s.opts.Scene,
		Time:    time.Now().UTC(),
		Payload: payload,
	}
	if err := s.c.Events.Publish(ctx, e); err != nil {
		s.logger.Warnw("failed to publish event", "type", eventType, "error", err)
	}
}
