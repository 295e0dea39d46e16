package metrics

import (
	"errors"
	"fmt"
	"math"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/imaging"
)

var (
	// ErrShapeMismatch is returned when two images compared by a metric differ in size.
	ErrShapeMismatch = errors.New("image shapes differ")
	// ErrPerfectMatch is returned alongside PSNRCeiling when the MSE is zero. It marks a boundary case, not a failure.
	ErrPerfectMatch = errors.New("perfect match: mse is zero")
)

// PSNRCeiling is the PSNR reported for a zero MSE. It equals the PSNR of an MSE of 1e-10, so the
// mapping stays finite and monotonically non-increasing.
const PSNRCeiling = 100.0

// MSE returns the mean squared difference of the RGB channels of two equally shaped images in
// the same colour space. Alpha is excluded.
func MSE(a, b *imaging.ImageBuffer) (float64, error) {
	if !a.SameShape(b) {
		return 0, fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, a.Width, a.Height, b.Width, b.Height)
	}
	if a.Space != b.Space {
		return 0, fmt.Errorf("%w: %s vs %s", imaging.ErrColorSpaceMismatch, a.Space, b.Space)
	}

	var sum float64
	for i := 0; i < len(a.Pix); i += imaging.Channels {
		for c := 0; c < 3; c++ {
			d := float64(a.Pix[i+c]) - float64(b.Pix[i+c])
			sum += d * d
		}
	}
	n := a.Width * a.Height * 3
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

// MSEToPSNR maps an MSE to decibels: -10 * log10(mse). For mse <= 0 it returns PSNRCeiling
// together with ErrPerfectMatch; results above the ceiling are clamped to it.
func MSEToPSNR(mse float64) (float64, error) {
	if mse <= 0 {
		return PSNRCeiling, ErrPerfectMatch
	}
	return math.Min(PSNRCeiling, -10*math.Log10(mse)), nil
}

// FirstNonFinite returns the coordinates of the first pixel with a NaN or infinite channel.
func FirstNonFinite(img *imaging.ImageBuffer) (x, y int, found bool) {
	for i, v := range img.Pix {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			px := i / imaging.Channels
			return px % img.Width, px / img.Width, true
		}
	}
	return 0, 0, false
}
