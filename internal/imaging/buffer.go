// This file contains the ImageBuffer type, the float RGBA pixel store shared by the renderer transport,
// the colour-space helpers, the codecs and the metrics.
//
// Pixels are stored row-major, 4 interleaved float32 channels per pixel (R, G, B, A). Colour is premultiplied
// by alpha, the convention used by the renderer and by EXR files.

package imaging

import (
	"errors"
	"fmt"
	"math"
)

// Channels is the fixed channel count of every ImageBuffer.
const Channels = 4

// ErrInvalidDimensions is returned when a buffer is constructed with non-positive dimensions or
// mismatched pixel storage.
var ErrInvalidDimensions = errors.New("invalid image dimensions")

// ColorSpace tags how the RGB channels of a buffer are encoded.
type ColorSpace int

const (
	// Linear is scene-linear light.
	Linear ColorSpace = iota
	// SRGB is the sRGB transfer-encoded representation.
	SRGB
)

func (cs ColorSpace) String() string {
	switch cs {
	case Linear:
		return "linear"
	case SRGB:
		return "srgb"
	default:
		return "unknown"
	}
}

// ImageBuffer is a width x height RGBA float32 image.
type ImageBuffer struct {
	Width  int
	Height int
	Pix    []float32
	Space  ColorSpace
}

// New allocates a zeroed linear buffer.
func New(width, height int) *ImageBuffer {
	return &ImageBuffer{
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height*Channels),
		Space:  Linear,
	}
}

// FromPixels wraps existing RGBA storage. The slice is not copied.
func FromPixels(width, height int, pix []float32, space ColorSpace) (*ImageBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if len(pix) != width*height*Channels {
		return nil, fmt.Errorf("%w: %dx%d needs %d values, got %d",
			ErrInvalidDimensions, width, height, width*height*Channels, len(pix))
	}
	return &ImageBuffer{Width: width, Height: height, Pix: pix, Space: space}, nil
}

// Uniform returns a buffer with every pixel set to the same RGBA value.
func Uniform(width, height int, rgba [4]float32) *ImageBuffer {
	img := New(width, height)
	for i := 0; i < len(img.Pix); i += Channels {
		copy(img.Pix[i:i+Channels], rgba[:])
	}
	return img
}

// Clone returns a deep copy.
func (b *ImageBuffer) Clone() *ImageBuffer {
	pix := make([]float32, len(b.Pix))
	copy(pix, b.Pix)
	return &ImageBuffer{Width: b.Width, Height: b.Height, Pix: pix, Space: b.Space}
}

// SameShape reports whether both buffers have identical dimensions.
func (b *ImageBuffer) SameShape(o *ImageBuffer) bool {
	return b.Width == o.Width && b.Height == o.Height && len(b.Pix) == len(o.Pix)
}

// Offset returns the index of channel 0 of pixel (x, y).
func (b *ImageBuffer) Offset(x, y int) int {
	return (y*b.Width + x) * Channels
}

// At returns the RGBA value at (x, y).
func (b *ImageBuffer) At(x, y int) [4]float32 {
	i := b.Offset(x, y)
	return [4]float32{b.Pix[i], b.Pix[i+1], b.Pix[i+2], b.Pix[i+3]}
}

// Set writes the RGBA value at (x, y).
func (b *ImageBuffer) Set(x, y int, rgba [4]float32) {
	i := b.Offset(x, y)
	copy(b.Pix[i:i+Channels], rgba[:])
}

// SetAlpha forces the alpha channel of every pixel to a.
func (b *ImageBuffer) SetAlpha(a float32) {
	for i := 3; i < len(b.Pix); i += Channels {
		b.Pix[i] = a
	}
}

// AbsDiff returns |a - b| over all four channels.
func AbsDiff(a, b *ImageBuffer) (*ImageBuffer, error) {
	if !a.SameShape(b) {
		return nil, fmt.Errorf("%w: %dx%d vs %dx%d", ErrInvalidDimensions, a.Width, a.Height, b.Width, b.Height)
	}
	out := New(a.Width, a.Height)
	out.Space = a.Space
	for i := range a.Pix {
		out.Pix[i] = float32(math.Abs(float64(a.Pix[i] - b.Pix[i])))
	}
	return out, nil
}
