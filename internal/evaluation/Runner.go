package evaluation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/imaging"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/log"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/metrics"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/models/transforms"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/renderer"
)

// Debug image names written for the first frame.
const (
	ReferenceImageName = "ref.png"
	OutputImageName    = "out.png"
	DiffImageName      = "diff.png"
)

// ErrRenderShape is returned when the renderer answers with an image of the wrong size.
var ErrRenderShape = fmt.Errorf("%w: rendered image has unexpected size", common.ErrRenderer)

// ErrNonFiniteRender is returned when a rendered image contains NaN or infinite values.
var ErrNonFiniteRender = fmt.Errorf("%w: rendered image has non-finite values", common.ErrRenderer)

// Options configure a Runner.
type Options struct {
	SPP                 int
	MinAlpha            float64
	DebugDir            string
	ReferenceExtensions []string
	// ComputeSSIM replaces the zero SSIM stub with a real windowed SSIM.
	ComputeSSIM bool
}

// DefaultOptions returns the evaluation settings used by the command line.
func DefaultOptions() Options {
	return Options{
		SPP:                 8,
		MinAlpha:            1e-4,
		DebugDir:            ".",
		ReferenceExtensions: imaging.DefaultReferenceExtensions,
	}
}

// Report is the outcome of one evaluation run.
type Report struct {
	Manifest    string                `json:"manifest"`
	SPP         int                   `json:"spp"`
	Frames      []metrics.FrameResult `json:"frames"`
	Summary     metrics.Summary       `json:"summary"`
	DebugImages []string              `json:"debug_images,omitempty"`
}

// Runner evaluates a renderer against a manifest.
type Runner struct {
	renderer renderer.Renderer
	opts     Options
	logger   *log.Logger

	// OnFrame, when set, is called after each scored frame with the running mean PSNR.
	OnFrame func(done, total int, meanPSNR float64)
}

// NewRunner creates a Runner. Zero option fields fall back to DefaultOptions.
func NewRunner(r renderer.Renderer, opts Options, logger *log.Logger) *Runner {
	def := DefaultOptions()
	if opts.SPP <= 0 {
		opts.SPP = def.SPP
	}
	if opts.MinAlpha <= 0 {
		opts.MinAlpha = def.MinAlpha
	}
	if opts.DebugDir == "" {
		opts.DebugDir = def.DebugDir
	}
	if len(opts.ReferenceExtensions) == 0 {
		opts.ReferenceExtensions = def.ReferenceExtensions
	}
	return &Runner{renderer: r, opts: opts, logger: logger}
}

// Run evaluates every frame of m in order. Any failure abandons the whole run.
func (r *Runner) Run(ctx context.Context, m *transforms.Manifest) (*Report, error) {
	if len(m.Frames) == 0 {
		return nil, fmt.Errorf("%w: no frames to evaluate", transforms.ErrMalformedManifest)
	}
	if err := r.prepare(ctx, m); err != nil {
		return nil, err
	}

	acc := metrics.NewErrorAccumulator(r.opts.ComputeSSIM)
	report := &Report{Manifest: m.Path, SPP: r.opts.SPP}

	for i, frame := range m.Frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, debug, err := r.evaluateFrame(ctx, m, i, frame)
		if err != nil {
			return nil, fmt.Errorf("frame %d (%s): %w", i, frame.FilePath, err)
		}
		if i == 0 {
			paths, err := r.writeDebugImages(debug)
			if err != nil {
				return nil, err
			}
			report.DebugImages = paths
		}
		acc.Add(res)
		r.logger.Debugw("frame evaluated", "index", i, "file", frame.FilePath, "mse", res.MSE, "psnr", res.PSNR)
		if r.OnFrame != nil {
			r.OnFrame(i+1, len(m.Frames), acc.MeanPSNR())
		}
	}

	summary, err := acc.Summary()
	if err != nil {
		return nil, err
	}
	report.Frames = acc.Frames()
	report.Summary = summary
	r.logger.Infow("evaluation finished",
		"manifest", m.Path,
		"frames", summary.Frames,
		"mean_psnr", summary.MeanPSNR,
		"psnr_of_mean_mse", summary.PSNROfMeanMSE,
		"min_psnr", summary.MinPSNR,
		"max_psnr", summary.MaxPSNR,
		"ssim_computed", summary.SSIMComputed,
	)
	return report, nil
}

func (r *Runner) prepare(ctx context.Context, m *transforms.Manifest) error {
	steps := []struct {
		name string
		call func() error
	}{
		{"background", func() error { return r.renderer.SetBackgroundColor(ctx, [4]float64{0, 0, 0, 0}) }},
		{"pixel snapping", func() error { return r.renderer.SetSnapToPixelCenters(ctx, true) }},
		{"minimum alpha", func() error { return r.renderer.SetRenderingMinAlpha(ctx, r.opts.MinAlpha) }},
		{"camera distortion", func() error { return r.renderer.SetCameraDistortion(ctx, true) }},
		{"field of view", func() error { return r.renderer.SetFOV(ctx, transforms.FOVAxis, m.FOVDegrees()) }},
		{"training flag", func() error { return r.renderer.SetShallTrain(ctx, false) }},
	}
	for _, s := range steps {
		if err := s.call(); err != nil {
			return fmt.Errorf("failed to set %s: %w", s.name, err)
		}
	}
	return nil
}

type debugImages struct {
	ref, out, diff *imaging.ImageBuffer
}

func (r *Runner) evaluateFrame(ctx context.Context, m *transforms.Manifest, i int, frame transforms.Frame) (metrics.FrameResult, debugImages, error) {
	var none debugImages
	refPath, err := imaging.ResolveReferencePath(m.Dir(), frame.FilePath, r.opts.ReferenceExtensions)
	if err != nil {
		return metrics.FrameResult{}, none, err
	}
	ref, err := imaging.Load(refPath)
	if err != nil {
		return metrics.FrameResult{}, none, err
	}
	if err := imaging.CompositeOnOpaqueWhite(ref, imaging.Linear); err != nil {
		return metrics.FrameResult{}, none, err
	}

	pose, err := transforms.PoseForFrame(frame)
	if err != nil {
		return metrics.FrameResult{}, none, err
	}
	if err := r.renderer.SetCameraPose(ctx, pose); err != nil {
		return metrics.FrameResult{}, none, fmt.Errorf("failed to set camera pose: %w", err)
	}
	r.logger.Debugw("camera placed", "index", i, "position", pose.Translation())
	out, err := r.renderer.Render(ctx, ref.Width, ref.Height, r.opts.SPP, true)
	if err != nil {
		return metrics.FrameResult{}, none, fmt.Errorf("failed to render: %w", err)
	}
	if !out.SameShape(ref) {
		return metrics.FrameResult{}, none, fmt.Errorf("%w: got %dx%d, want %dx%d", ErrRenderShape, out.Width, out.Height, ref.Width, ref.Height)
	}
	if x, y, found := metrics.FirstNonFinite(out); found {
		return metrics.FrameResult{}, none, fmt.Errorf("%w: pixel (%d, %d)", ErrNonFiniteRender, x, y)
	}

	if err := compositeRender(out); err != nil {
		return metrics.FrameResult{}, none, err
	}

	diff, err := imaging.AbsDiff(out, ref)
	if err != nil {
		return metrics.FrameResult{}, none, err
	}
	diff.SetAlpha(1)

	a, err := imaging.SRGBCopy(out)
	if err != nil {
		return metrics.FrameResult{}, none, err
	}
	b, err := imaging.SRGBCopy(ref)
	if err != nil {
		return metrics.FrameResult{}, none, err
	}

	mse, err := metrics.MSE(a, b)
	if err != nil {
		return metrics.FrameResult{}, none, err
	}
	psnr, err := metrics.MSEToPSNR(mse)
	perfect := errors.Is(err, metrics.ErrPerfectMatch)

	var ssim float64
	if r.opts.ComputeSSIM {
		if ssim, err = metrics.SSIM(a, b); err != nil {
			return metrics.FrameResult{}, none, err
		}
	}

	res := metrics.FrameResult{
		Index:        i,
		FilePath:     frame.FilePath,
		MSE:          mse,
		PSNR:         psnr,
		SSIM:         ssim,
		PerfectMatch: perfect,
	}
	return res, debugImages{ref: ref, out: out, diff: diff}, nil
}

// compositeRender blends a linear render onto white in sRGB space and returns it to linear.
func compositeRender(img *imaging.ImageBuffer) error {
	if err := imaging.EncodeSRGB(img); err != nil {
		return err
	}
	if err := imaging.CompositeOnOpaqueWhite(img, imaging.SRGB); err != nil {
		return err
	}
	return imaging.DecodeSRGB(img)
}

func (r *Runner) writeDebugImages(d debugImages) ([]string, error) {
	images := []struct {
		name string
		img  *imaging.ImageBuffer
	}{
		{ReferenceImageName, d.ref},
		{OutputImageName, d.out},
		{DiffImageName, d.diff},
	}
	paths := make([]string, 0, len(images))
	for _, im := range images {
		path := filepath.Join(r.opts.DebugDir, im.name)
		if err := imaging.Save(path, im.img); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
