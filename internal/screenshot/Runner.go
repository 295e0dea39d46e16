// Package screenshot renders batches of frames to image files, either from a manifest's poses or from the
// renderer's current camera.
package screenshot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/imaging"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/log"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/models/transforms"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/renderer"
)

// DefaultSPP is the screenshot sample count used by the command line.
const DefaultSPP = 16

// DefaultExtension is appended to output names that have none.
const DefaultExtension = ".png"

// ErrMissingResolution is returned when neither the options nor the manifest give a width and height.
var ErrMissingResolution = fmt.Errorf("%w: screenshot resolution unknown", common.ErrConfig)

// ErrUnsupportedOutput is returned when a frame's file name has an extension no image codec writes.
var ErrUnsupportedOutput = fmt.Errorf("%w: unsupported screenshot format", common.ErrConfig)

// Options configure a Runner. Width and Height override the manifest's w and h when non-zero.
type Options struct {
	Dir    string
	Width  int
	Height int
	SPP    int
	// Frames selects manifest frame indices; empty means every frame in order.
	Frames []int
	// Scene and NetworkStem name the single screenshot taken without a manifest.
	Scene       string
	NetworkStem string
}

// Shot describes one written screenshot.
type Shot struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Runner takes screenshots.
type Runner struct {
	renderer renderer.Renderer
	opts     Options
	logger   *log.Logger
}

func NewRunner(r renderer.Renderer, opts Options, logger *log.Logger) *Runner {
	if opts.SPP <= 0 {
		opts.SPP = DefaultSPP
	}
	return &Runner{renderer: r, opts: opts, logger: logger}
}

type job struct {
	shot Shot
	pose *common.Pose
}

// Run renders the requested frames of m, or a single image from the current camera when m is nil. Frame
// indices and resolutions are checked before the first render.
func (r *Runner) Run(ctx context.Context, m *transforms.Manifest) ([]Shot, error) {
	var jobs []job
	var err error
	if m == nil {
		jobs, err = r.currentCameraJob()
	} else {
		jobs, err = r.manifestJobs(m)
	}
	if err != nil {
		return nil, err
	}

	if m != nil {
		if err := r.renderer.SetFOV(ctx, transforms.FOVAxis, m.FOVDegrees()); err != nil {
			return nil, fmt.Errorf("failed to set field of view: %w", err)
		}
	}

	shots := make([]Shot, 0, len(jobs))
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return shots, err
		}
		if j.pose != nil {
			if err := r.renderer.SetCameraPose(ctx, *j.pose); err != nil {
				return shots, fmt.Errorf("failed to set camera pose: %w", err)
			}
		}
		r.logger.Infow("rendering screenshot", "path", j.shot.Path, "width", j.shot.Width, "height", j.shot.Height, "spp", r.opts.SPP)
		img, err := r.renderer.Render(ctx, j.shot.Width, j.shot.Height, r.opts.SPP, true)
		if err != nil {
			return shots, fmt.Errorf("failed to render %s: %w", j.shot.Path, err)
		}
		if err := imaging.Save(j.shot.Path, img); err != nil {
			return shots, err
		}
		shots = append(shots, j.shot)
	}
	return shots, nil
}

func (r *Runner) manifestJobs(m *transforms.Manifest) ([]job, error) {
	indices := r.opts.Frames
	if len(indices) == 0 {
		indices = make([]int, len(m.Frames))
		for i := range indices {
			indices[i] = i
		}
	}

	w, h := r.opts.Width, r.opts.Height
	if w == 0 {
		w = int(m.W)
	}
	if h == 0 {
		h = int(m.H)
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: width %d, height %d", ErrMissingResolution, w, h)
	}

	jobs := make([]job, 0, len(indices))
	for _, idx := range indices {
		frame, err := m.Frame(idx)
		if err != nil {
			return nil, err
		}
		pose, err := transforms.PoseForFrame(frame)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", idx, err)
		}
		name := filepath.Base(frame.FilePath)
		if filepath.Ext(name) == "" {
			name += DefaultExtension
		}
		if !imaging.SupportedExtension(name) {
			return nil, fmt.Errorf("%w: frame %d: %s", ErrUnsupportedOutput, idx, name)
		}
		jobs = append(jobs, job{
			shot: Shot{Index: idx, Path: filepath.Join(r.opts.Dir, name), Width: w, Height: h},
			pose: &pose,
		})
	}
	return jobs, nil
}

func (r *Runner) currentCameraJob() ([]job, error) {
	if r.opts.Width <= 0 || r.opts.Height <= 0 {
		return nil, fmt.Errorf("%w: width %d, height %d", ErrMissingResolution, r.opts.Width, r.opts.Height)
	}
	name := filepath.Base(r.opts.Scene) + "_" + r.opts.NetworkStem + DefaultExtension
	return []job{{shot: Shot{Index: -1, Path: filepath.Join(r.opts.Dir, name), Width: r.opts.Width, Height: r.opts.Height}}}, nil
}
