package renderer

import (
	"context"
	"fmt"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/imaging"
)

// Mode is the kind of scene the engine is trained on.
type Mode string

const (
	ModeNeRF   Mode = "nerf"
	ModeSDF    Mode = "sdf"
	ModeImage  Mode = "image"
	ModeVolume Mode = "volume"
)

// TonemapCurve selects the engine's display tonemapping.
type TonemapCurve string

const (
	TonemapIdentity TonemapCurve = "identity"
	TonemapACES     TonemapCurve = "aces"
)

// Renderer is the engine surface consumed by the harness. Calls are blocking and must not be issued
// concurrently. Implementations wrap engine failures with common.ErrRenderer.
type Renderer interface {
	// Init creates the engine's testbed for mode. It is the first call of every run.
	Init(ctx context.Context, mode Mode) error
	LoadTrainingData(ctx context.Context, path string) error
	ReloadNetworkFromFile(ctx context.Context, path string) error
	LoadSnapshot(ctx context.Context, path string) error
	SaveSnapshot(ctx context.Context, path string, includeOptimizerState bool) error

	SetCameraPose(ctx context.Context, pose common.Pose) error
	SetFOV(ctx context.Context, axis int, degrees float64) error
	SetBackgroundColor(ctx context.Context, rgba [4]float64) error
	SetShallTrain(ctx context.Context, train bool) error
	SetSnapToPixelCenters(ctx context.Context, snap bool) error
	SetRenderingMinAlpha(ctx context.Context, alpha float64) error
	SetCameraDistortion(ctx context.Context, enabled bool) error
	SetSharpen(ctx context.Context, amount float64) error
	SetTonemapCurve(ctx context.Context, curve TonemapCurve) error
	SetRandomBackground(ctx context.Context, enabled bool) error
	SetConeAngleConstant(ctx context.Context, angle float64) error
	InitWindow(ctx context.Context, width, height int) error

	// Render returns a linear, premultiplied RGBA buffer of exactly width x height.
	Render(ctx context.Context, width, height, spp int, withAlpha bool) (*imaging.ImageBuffer, error)

	// Frame advances the engine by one tick (one training step when training is on, plus a redraw
	// when a window is open). It reports false once the engine wants to stop.
	Frame(ctx context.Context) (bool, error)
	TrainingStep(ctx context.Context) (int, error)
	Loss(ctx context.Context) (float64, error)
	WantsREPL(ctx context.Context) (bool, error)
}

// Failure wraps an engine-side error message with common.ErrRenderer.
func Failure(method, message string) error {
	return fmt.Errorf("%w: %s: %s", common.ErrRenderer, method, message)
}
