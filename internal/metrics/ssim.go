package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/imaging"
)

const (
	ssimWindow = 8
	ssimStride = 4
	ssimC1     = 0.01 * 0.01
	ssimC2     = 0.03 * 0.03
)

// SSIM returns the mean structural similarity of the luma of two equally shaped images, over
// 8x8 windows with a stride of 4. Images smaller than a window are scored as a single window.
// Values are expected in [0, 1] (sRGB-encoded).
func SSIM(a, b *imaging.ImageBuffer) (float64, error) {
	if !a.SameShape(b) {
		return 0, fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, a.Width, a.Height, b.Width, b.Height)
	}

	la, lb := luma(a), luma(b)
	winW, winH := min(ssimWindow, a.Width), min(ssimWindow, a.Height)

	wa := make([]float64, 0, winW*winH)
	wb := make([]float64, 0, winW*winH)
	var total float64
	var count int
	for y := 0; y+winH <= a.Height; y += ssimStride {
		for x := 0; x+winW <= a.Width; x += ssimStride {
			wa, wb = wa[:0], wb[:0]
			for yy := y; yy < y+winH; yy++ {
				row := yy * a.Width
				wa = append(wa, la[row+x:row+x+winW]...)
				wb = append(wb, lb[row+x:row+x+winW]...)
			}
			total += windowSSIM(wa, wb)
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}

func windowSSIM(x, y []float64) float64 {
	muX, varX := stat.PopMeanVariance(x, nil)
	muY, varY := stat.PopMeanVariance(y, nil)
	var cov float64
	if n := float64(len(x)); n > 1 {
		cov = stat.Covariance(x, y, nil) * (n - 1) / n
	}
	num := (2*muX*muY + ssimC1) * (2*cov + ssimC2)
	den := (muX*muX + muY*muY + ssimC1) * (varX + varY + ssimC2)
	return num / den
}

func luma(img *imaging.ImageBuffer) []float64 {
	out := make([]float64, img.Width*img.Height)
	for i := range out {
		p := i * imaging.Channels
		out[i] = 0.2126*float64(img.Pix[p]) + 0.7152*float64(img.Pix[p+1]) + 0.0722*float64(img.Pix[p+2])
	}
	return out
}
