package metrics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/imaging"
)

func randomImage(r *rand.Rand, w, h int) *imaging.ImageBuffer {
	img := imaging.New(w, h)
	for i := range img.Pix {
		img.Pix[i] = r.Float32()
	}
	return img
}

func TestMSEProperties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		a := randomImage(r, 6, 5)
		b := randomImage(r, 6, 5)

		self, err := MSE(a, a)
		require.NoError(t, err)
		assert.Equal(t, 0.0, self)

		ab, err := MSE(a, b)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ab, 0.0)

		ba, err := MSE(b, a)
		require.NoError(t, err)
		assert.InDelta(t, ab, ba, 1e-12)
	}
}

func TestMSEIgnoresAlpha(t *testing.T) {
	a := imaging.Uniform(2, 2, [4]float32{0.5, 0.5, 0.5, 1})
	b := imaging.Uniform(2, 2, [4]float32{0.5, 0.5, 0.5, 0})
	mse, err := MSE(a, b)
	require.NoError(t, err)
	assert.Equal(t, 0.0, mse)

	c := imaging.Uniform(2, 2, [4]float32{0.5, 0.5, 0.0, 1})
	mse, err = MSE(a, c)
	require.NoError(t, err)
	assert.InDelta(t, 0.25/3, mse, 1e-9)
}

func TestMSEShapeMismatch(t *testing.T) {
	_, err := MSE(imaging.New(2, 2), imaging.New(2, 3))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	enc := imaging.New(2, 2)
	enc.Space = imaging.SRGB
	_, err = MSE(imaging.New(2, 2), enc)
	assert.ErrorIs(t, err, imaging.ErrColorSpaceMismatch)
}

func TestMSEToPSNRMonotonic(t *testing.T) {
	prev := math.Inf(1)
	for _, m := range []float64{0, 1e-14, 1e-10, 1e-6, 1e-3, 0.01, 0.5, 1, 4} {
		p, _ := MSEToPSNR(m)
		assert.False(t, math.IsInf(p, 0) || math.IsNaN(p), "mse=%v", m)
		assert.LessOrEqual(t, p, prev, "mse=%v", m)
		prev = p
	}
}

func TestMSEToPSNRValues(t *testing.T) {
	p, err := MSEToPSNR(0.01)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, p, 1e-9)

	p, err = MSEToPSNR(0)
	assert.ErrorIs(t, err, ErrPerfectMatch)
	assert.Equal(t, PSNRCeiling, p)
}

func TestFirstNonFinite(t *testing.T) {
	img := imaging.Uniform(3, 2, [4]float32{0.1, 0.2, 0.3, 1})
	_, _, found := FirstNonFinite(img)
	assert.False(t, found)

	img.Set(2, 1, [4]float32{0, float32(math.Inf(-1)), 0, 1})
	img.Set(1, 1, [4]float32{float32(math.NaN()), 0, 0, 1})
	x, y, found := FirstNonFinite(img)
	require.True(t, found)
	assert.Equal(t, 1, x)
	assert.Equal(t, 1, y)

	neg := imaging.Uniform(1, 1, [4]float32{-0.5, 0, 0, 1})
	_, _, found = FirstNonFinite(neg)
	assert.False(t, found, "negative values are finite and scored as-is")
}

func TestSSIM(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	a := randomImage(r, 16, 16)

	same, err := SSIM(a, a)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, same, 1e-9)

	b := randomImage(r, 16, 16)
	diff, err := SSIM(a, b)
	require.NoError(t, err)
	assert.Less(t, diff, 0.5)

	small, err := SSIM(imaging.Uniform(3, 2, [4]float32{0.2, 0.2, 0.2, 1}), imaging.Uniform(3, 2, [4]float32{0.2, 0.2, 0.2, 1}))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, small, 1e-9)

	_, err = SSIM(imaging.New(8, 8), imaging.New(4, 4))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
