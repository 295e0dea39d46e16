package metrics

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// ErrNoFrames is returned when a summary is requested before any frame was accumulated.
var ErrNoFrames = errors.New("no frames accumulated")

// FrameResult holds the metrics of one evaluated frame.
type FrameResult struct {
	Index        int     `json:"index" bson:"index"`
	FilePath     string  `json:"file_path" bson:"file_path"`
	MSE          float64 `json:"mse" bson:"mse"`
	PSNR         float64 `json:"psnr" bson:"psnr"`
	SSIM         float64 `json:"ssim" bson:"ssim"`
	PerfectMatch bool    `json:"perfect_match,omitempty" bson:"perfect_match,omitempty"`
}

// Summary aggregates a run. MeanPSNR averages after the log transform, PSNROfMeanMSE before it;
// both are reported because they differ.
type Summary struct {
	Frames         int     `json:"frames" bson:"frames"`
	MeanPSNR       float64 `json:"mean_psnr" bson:"mean_psnr"`
	PSNROfMeanMSE  float64 `json:"psnr_of_mean_mse" bson:"psnr_of_mean_mse"`
	MeanMSE        float64 `json:"mean_mse" bson:"mean_mse"`
	MeanSSIM       float64 `json:"mean_ssim" bson:"mean_ssim"`
	MinPSNR        float64 `json:"min_psnr" bson:"min_psnr"`
	MaxPSNR        float64 `json:"max_psnr" bson:"max_psnr"`
	StdDevPSNR     float64 `json:"stddev_psnr" bson:"stddev_psnr"`
	SSIMComputed   bool    `json:"ssim_computed" bson:"ssim_computed"`
	PerfectMatches int     `json:"perfect_matches" bson:"perfect_matches"`
}

// String renders the summary line printed at the end of an evaluation.
func (s Summary) String() string {
	return fmt.Sprintf("psnr %v average, psnr range %v-%v, ssim %v", s.MeanPSNR, s.MinPSNR, s.MaxPSNR, s.MeanSSIM)
}

// ErrorAccumulator keeps running totals over the frames of a manifest.
type ErrorAccumulator struct {
	SumMSE  float64
	SumPSNR float64
	SumSSIM float64
	Count   int
	MinPSNR float64
	MaxPSNR float64

	ssimComputed   bool
	perfectMatches int
	frames         []FrameResult
}

// NewErrorAccumulator returns an empty accumulator. ssimComputed records whether frame SSIM
// values are real or the disabled stub.
func NewErrorAccumulator(ssimComputed bool) *ErrorAccumulator {
	return &ErrorAccumulator{ssimComputed: ssimComputed}
}

// Add folds one frame into the totals.
func (a *ErrorAccumulator) Add(r FrameResult) {
	if a.Count == 0 || r.PSNR < a.MinPSNR {
		a.MinPSNR = r.PSNR
	}
	if a.Count == 0 || r.PSNR > a.MaxPSNR {
		a.MaxPSNR = r.PSNR
	}
	a.SumMSE += r.MSE
	a.SumPSNR += r.PSNR
	a.SumSSIM += r.SSIM
	a.Count++
	if r.PerfectMatch {
		a.perfectMatches++
	}
	a.frames = append(a.frames, r)
}

// MeanPSNR is the running average PSNR, 0 before the first frame.
func (a *ErrorAccumulator) MeanPSNR() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.SumPSNR / float64(a.Count)
}

// Frames returns the per-frame results in accumulation order.
func (a *ErrorAccumulator) Frames() []FrameResult {
	return a.frames
}

// Summary computes the aggregate statistics.
func (a *ErrorAccumulator) Summary() (Summary, error) {
	if a.Count == 0 {
		return Summary{}, ErrNoFrames
	}
	n := float64(a.Count)
	meanMSE := a.SumMSE / n
	// a zero mean MSE maps to the ceiling; the per-frame perfect matches are already counted
	psnrOfMean, _ := MSEToPSNR(meanMSE)

	psnrs := make([]float64, len(a.frames))
	for i, f := range a.frames {
		psnrs[i] = f.PSNR
	}
	var std float64
	if len(psnrs) > 1 {
		_, std = stat.MeanStdDev(psnrs, nil)
	}

	return Summary{
		Frames:         a.Count,
		MeanPSNR:       a.SumPSNR / n,
		PSNROfMeanMSE:  psnrOfMean,
		MeanMSE:        meanMSE,
		MeanSSIM:       a.SumSSIM / n,
		MinPSNR:        a.MinPSNR,
		MaxPSNR:        a.MaxPSNR,
		StdDevPSNR:     std,
		SSIMComputed:   a.ssimComputed,
		PerfectMatches: a.perfectMatches,
	}, nil
}
