// Package renderertest provides a scripted in-memory Renderer that records every call.
package renderertest

import (
	"context"
	"sync"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/imaging"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/renderer"
)

// RenderCall records the parameters of one Render invocation and the pose that was current.
type RenderCall struct {
	Width, Height, SPP int
	WithAlpha          bool
	Pose               common.Pose
	FOV                float64
}

// Fake implements renderer.Renderer. Zero value is usable: renders return uniform mid-gray opaque images,
// Frame returns true forever and the step counter advances by one per trained Frame.
type Fake struct {
	mu sync.Mutex

	// RenderFunc overrides the rendered image.
	RenderFunc func(call RenderCall) *imaging.ImageBuffer
	// Steps scripts the values TrainingStep returns after each Frame; once exhausted the last value repeats.
	Steps []int
	// FrameLimit makes Frame return false after this many calls when > 0.
	FrameLimit int
	// REPL scripts WantsREPL results per Frame index.
	REPL map[int]bool
	// Errors injects a failure for a method name.
	Errors map[string]error
	// ErrAfterFrames makes Frame fail with Errors["Frame"] only after that many successful calls.
	ErrAfterFrames int

	Calls           []string
	Renders         []RenderCall
	Poses           []common.Pose
	Snapshots       []string
	LoadedSnapshots []string
	TrainingData    []string
	Networks        []string
	Windows         [][2]int

	Mode           renderer.Mode
	Pose           common.Pose
	FOVAxis        int
	FOV            float64
	Background     [4]float64
	ShallTrain     bool
	SnapToCenters  bool
	MinAlpha       float64
	Distortion     bool
	Sharpen        float64
	Tonemap        renderer.TonemapCurve
	RandomBG       bool
	ConeAngle      float64
	Frames         int
	step           int
	trainingFrames int
	LossValue      float64
}

var _ renderer.Renderer = (*Fake)(nil)

func (f *Fake) record(method string) error {
	f.Calls = append(f.Calls, method)
	if err, ok := f.Errors[method]; ok && err != nil {
		if method == "Frame" && f.Frames < f.ErrAfterFrames {
			return nil
		}
		return err
	}
	return nil
}

// Called reports how many times method was invoked.
func (f *Fake) Called(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *Fake) Init(_ context.Context, mode renderer.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Init"); err != nil {
		return err
	}
	f.Mode = mode
	return nil
}

func (f *Fake) LoadTrainingData(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("LoadTrainingData"); err != nil {
		return err
	}
	f.TrainingData = append(f.TrainingData, path)
	return nil
}

func (f *Fake) ReloadNetworkFromFile(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ReloadNetworkFromFile"); err != nil {
		return err
	}
	f.Networks = append(f.Networks, path)
	return nil
}

func (f *Fake) LoadSnapshot(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("LoadSnapshot"); err != nil {
		return err
	}
	f.LoadedSnapshots = append(f.LoadedSnapshots, path)
	return nil
}

func (f *Fake) SaveSnapshot(_ context.Context, path string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SaveSnapshot"); err != nil {
		return err
	}
	f.Snapshots = append(f.Snapshots, path)
	return nil
}

func (f *Fake) SetCameraPose(_ context.Context, pose common.Pose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetCameraPose"); err != nil {
		return err
	}
	f.Pose = pose
	f.Poses = append(f.Poses, pose)
	return nil
}

func (f *Fake) SetFOV(_ context.Context, axis int, degrees float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetFOV"); err != nil {
		return err
	}
	f.FOVAxis, f.FOV = axis, degrees
	return nil
}

func (f *Fake) SetBackgroundColor(_ context.Context, rgba [4]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetBackgroundColor"); err != nil {
		return err
	}
	f.Background = rgba
	return nil
}

func (f *Fake) SetShallTrain(_ context.Context, train bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetShallTrain"); err != nil {
		return err
	}
	f.ShallTrain = train
	return nil
}

func (f *Fake) SetSnapToPixelCenters(_ context.Context, snap bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetSnapToPixelCenters"); err != nil {
		return err
	}
	f.SnapToCenters = snap
	return nil
}

func (f *Fake) SetRenderingMinAlpha(_ context.Context, alpha float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetRenderingMinAlpha"); err != nil {
		return err
	}
	f.MinAlpha = alpha
	return nil
}

func (f *Fake) SetCameraDistortion(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetCameraDistortion"); err != nil {
		return err
	}
	f.Distortion = enabled
	return nil
}

func (f *Fake) SetSharpen(_ context.Context, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetSharpen"); err != nil {
		return err
	}
	f.Sharpen = amount
	return nil
}

func (f *Fake) SetTonemapCurve(_ context.Context, curve renderer.TonemapCurve) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetTonemapCurve"); err != nil {
		return err
	}
	f.Tonemap = curve
	return nil
}

func (f *Fake) SetRandomBackground(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetRandomBackground"); err != nil {
		return err
	}
	f.RandomBG = enabled
	return nil
}

func (f *Fake) SetConeAngleConstant(_ context.Context, angle float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetConeAngleConstant"); err != nil {
		return err
	}
	f.ConeAngle = angle
	return nil
}

func (f *Fake) InitWindow(_ context.Context, width, height int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("InitWindow"); err != nil {
		return err
	}
	f.Windows = append(f.Windows, [2]int{width, height})
	return nil
}

func (f *Fake) Render(_ context.Context, width, height, spp int, withAlpha bool) (*imaging.ImageBuffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Render"); err != nil {
		return nil, err
	}
	call := RenderCall{Width: width, Height: height, SPP: spp, WithAlpha: withAlpha, Pose: f.Pose, FOV: f.FOV}
	f.Renders = append(f.Renders, call)
	if f.RenderFunc != nil {
		return f.RenderFunc(call), nil
	}
	return imaging.Uniform(width, height, [4]float32{0.5, 0.5, 0.5, 1}), nil
}

func (f *Fake) Frame(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Frame"); err != nil {
		return false, err
	}
	if f.FrameLimit > 0 && f.Frames >= f.FrameLimit {
		return false, nil
	}
	f.Frames++
	if f.ShallTrain {
		f.trainingFrames++
		if len(f.Steps) > 0 {
			i := f.trainingFrames - 1
			if i >= len(f.Steps) {
				i = len(f.Steps) - 1
			}
			f.step = f.Steps[i]
		} else {
			f.step++
		}
	}
	return true, nil
}

func (f *Fake) TrainingStep(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("TrainingStep"); err != nil {
		return 0, err
	}
	return f.step, nil
}

func (f *Fake) Loss(_ context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Loss"); err != nil {
		return 0, err
	}
	return f.LossValue, nil
}

func (f *Fake) WantsREPL(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("WantsREPL"); err != nil {
		return false, err
	}
	return f.REPL[f.Frames], nil
}
