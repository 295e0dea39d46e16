package imaging

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSRGBRoundTrip(t *testing.T) {
	for i := 0; i <= 1000; i++ {
		x := float64(i) / 1000
		assert.InDelta(t, x, SRGBToLinear(LinearToSRGB(x)), 1e-5, "x=%v", x)
	}
}

func TestLinearToSRGBKnownValues(t *testing.T) {
	assert.InDelta(t, 0.0, LinearToSRGB(0), 1e-12)
	assert.InDelta(t, 1.0, LinearToSRGB(1), 1e-9)
	// linear segment
	assert.InDelta(t, 12.92*0.002, LinearToSRGB(0.002), 1e-12)
	// mid grey: 0.5 sRGB is about 0.214 linear
	assert.InDelta(t, 0.21404, SRGBToLinear(0.5), 1e-4)
}

func TestEncodeDecodeLeavesAlpha(t *testing.T) {
	img := Uniform(2, 2, [4]float32{0.25, 0.5, 0.75, 0.3})
	require.NoError(t, EncodeSRGB(img))
	assert.Equal(t, SRGB, img.Space)
	assert.Equal(t, float32(0.3), img.At(1, 1)[3])

	require.NoError(t, DecodeSRGB(img))
	px := img.At(0, 1)
	assert.InDelta(t, 0.25, px[0], 1e-5)
	assert.InDelta(t, 0.5, px[1], 1e-5)
	assert.InDelta(t, 0.75, px[2], 1e-5)
	assert.Equal(t, float32(0.3), px[3])
}

func TestEncodeRejectsWrongSpace(t *testing.T) {
	img := New(1, 1)
	img.Space = SRGB
	assert.ErrorIs(t, EncodeSRGB(img), ErrColorSpaceMismatch)
	assert.ErrorIs(t, CompositeOnOpaqueWhite(img, Linear), ErrColorSpaceMismatch)
}

func TestCompositeOpaqueIsIdentity(t *testing.T) {
	img := Uniform(3, 2, [4]float32{0.1, 0.4, 0.9, 1})
	want := img.Clone()
	require.NoError(t, CompositeOnOpaqueWhite(img, Linear))
	assert.Equal(t, want.Pix, img.Pix)
}

func TestCompositeTransparentBecomesWhite(t *testing.T) {
	img := Uniform(1, 1, [4]float32{0, 0, 0, 0})
	require.NoError(t, CompositeOnOpaqueWhite(img, Linear))
	assert.Equal(t, [4]float32{1, 1, 1, 1}, img.At(0, 0))

	half := Uniform(1, 1, [4]float32{0.2, 0.1, 0, 0.5})
	require.NoError(t, CompositeOnOpaqueWhite(half, Linear))
	px := half.At(0, 0)
	assert.InDelta(t, 0.7, px[0], 1e-6)
	assert.InDelta(t, 0.6, px[1], 1e-6)
	assert.InDelta(t, 0.5, px[2], 1e-6)
	assert.InDelta(t, 1.0, px[3], 1e-6)
}

func TestCompositeOrderMatters(t *testing.T) {
	// Compositing a half-transparent pixel in sRGB then decoding differs from compositing in linear.
	a := Uniform(1, 1, [4]float32{0.1, 0.1, 0.1, 0.5})
	b := a.Clone()

	require.NoError(t, CompositeOnOpaqueWhite(a, Linear))

	require.NoError(t, EncodeSRGB(b))
	require.NoError(t, CompositeOnOpaqueWhite(b, SRGB))
	require.NoError(t, DecodeSRGB(b))

	assert.Greater(t, math.Abs(float64(a.At(0, 0)[0])-float64(b.At(0, 0)[0])), 1e-3)
}

func TestAbsDiff(t *testing.T) {
	a := Uniform(2, 1, [4]float32{0.5, 0.2, 0.1, 1})
	b := Uniform(2, 1, [4]float32{0.25, 0.4, 0.1, 0.5})
	d, err := AbsDiff(a, b)
	require.NoError(t, err)
	px := d.At(1, 0)
	assert.InDelta(t, 0.25, px[0], 1e-6)
	assert.InDelta(t, 0.2, px[1], 1e-6)
	assert.InDelta(t, 0.0, px[2], 1e-6)
	assert.InDelta(t, 0.5, px[3], 1e-6)

	_, err = AbsDiff(a, New(1, 1))
	assert.ErrorIs(t, err, ErrInvalidDimensions)
}
