package imaging

import (
	"errors"
	"fmt"
	"math"
)

// ErrColorSpaceMismatch is returned when an operation is asked to work in a colour space the buffer is not in.
var ErrColorSpaceMismatch = errors.New("colour space mismatch")

const (
	linearThreshold = 0.0031308
	srgbThreshold   = 0.04045
)

// LinearToSRGB applies the piecewise sRGB encoding curve.
func LinearToSRGB(c float64) float64 {
	if c > linearThreshold {
		return 1.055*math.Pow(c, 1.0/2.4) - 0.055
	}
	return 12.92 * c
}

// SRGBToLinear inverts LinearToSRGB.
func SRGBToLinear(c float64) float64 {
	if c > srgbThreshold {
		return math.Pow((c+0.055)/1.055, 2.4)
	}
	return c / 12.92
}

// EncodeSRGB converts the RGB channels of a linear buffer to sRGB in place. Alpha is untouched.
func EncodeSRGB(img *ImageBuffer) error {
	if img.Space != Linear {
		return fmt.Errorf("%w: encode needs %s, buffer is %s", ErrColorSpaceMismatch, Linear, img.Space)
	}
	mapRGB(img, LinearToSRGB)
	img.Space = SRGB
	return nil
}

// DecodeSRGB converts the RGB channels of an sRGB buffer back to linear in place. Alpha is untouched.
func DecodeSRGB(img *ImageBuffer) error {
	if img.Space != SRGB {
		return fmt.Errorf("%w: decode needs %s, buffer is %s", ErrColorSpaceMismatch, SRGB, img.Space)
	}
	mapRGB(img, SRGBToLinear)
	img.Space = Linear
	return nil
}

// SRGBCopy returns a copy of img with its RGB channels sRGB-encoded, leaving img untouched.
func SRGBCopy(img *ImageBuffer) (*ImageBuffer, error) {
	out := img.Clone()
	if err := EncodeSRGB(out); err != nil {
		return nil, err
	}
	return out, nil
}

// CompositeOnOpaqueWhite blends a premultiplied buffer over an opaque white background in place:
// every channel gets (1 - alpha) added, so the alpha channel ends at 1.
//
// space names the colour space the blend happens in and must match the buffer; references are
// composited in Linear, renders in SRGB.
func CompositeOnOpaqueWhite(img *ImageBuffer, space ColorSpace) error {
	if img.Space != space {
		return fmt.Errorf("%w: composite in %s, buffer is %s", ErrColorSpaceMismatch, space, img.Space)
	}
	for i := 0; i < len(img.Pix); i += Channels {
		cover := 1 - img.Pix[i+3]
		img.Pix[i] += cover
		img.Pix[i+1] += cover
		img.Pix[i+2] += cover
		img.Pix[i+3] += cover
	}
	return nil
}

func mapRGB(img *ImageBuffer, fn func(float64) float64) {
	for i := 0; i < len(img.Pix); i += Channels {
		img.Pix[i] = float32(fn(float64(img.Pix[i])))
		img.Pix[i+1] = float32(fn(float64(img.Pix[i+1])))
		img.Pix[i+2] = float32(fn(float64(img.Pix[i+2])))
	}
}
