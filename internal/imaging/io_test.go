package imaging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
)

func gradient(w, h int) *ImageBuffer {
	img := New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float32(x+y) / float32(w+h)
			img.Set(x, y, [4]float32{v, v / 2, 1 - v, 1})
		}
	}
	return img
}

func TestPNGRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "img.png")
	src := gradient(8, 4)
	require.NoError(t, Save(path, src))

	got, err := Load(path)
	require.NoError(t, err)
	require.True(t, got.SameShape(src))
	assert.Equal(t, Linear, got.Space)
	for i := range src.Pix {
		// 8-bit quantisation in sRGB space
		assert.InDelta(t, src.Pix[i], got.Pix[i], 0.01, "index %d", i)
	}
}

func TestPNGPremultipliesAlpha(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alpha.png")
	src := Uniform(2, 2, [4]float32{0.25, 0.25, 0.25, 0.5})
	require.NoError(t, Save(path, src))

	got, err := Load(path)
	require.NoError(t, err)
	px := got.At(0, 0)
	assert.InDelta(t, 0.5, px[3], 0.01)
	assert.InDelta(t, 0.25, px[0], 0.01)
}

func TestJPEGIsOpaque(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.jpg")
	require.NoError(t, Save(path, Uniform(16, 16, [4]float32{0.2, 0.2, 0.2, 0.5})))

	got, err := Load(path)
	require.NoError(t, err)
	px := got.At(5, 5)
	assert.Equal(t, float32(1), px[3])
	// straight colour 0.4 survives; alpha is dropped rather than premultiplied in
	assert.InDelta(t, 0.4, px[0], 0.03)
}

func TestTIFFAndBMP(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"img.tiff", "img.bmp"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, gradient(5, 3)), name)
		got, err := Load(path)
		require.NoError(t, err, name)
		assert.Equal(t, 5, got.Width)
		assert.Equal(t, 3, got.Height)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, common.ErrIO)

	_, err = Load(filepath.Join(dir, "image.webp"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not a png"), 0o644))
	_, err = Load(bad)
	assert.ErrorIs(t, err, common.ErrIO)
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, Save(path, Uniform(4, 4, [4]float32{0, 0, 0, 1})))
	require.NoError(t, Save(path, Uniform(2, 2, [4]float32{1, 1, 1, 1})))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Width)
}

func TestSaveRejectsEncodedBuffer(t *testing.T) {
	img := New(1, 1)
	require.NoError(t, EncodeSRGB(img))
	err := Save(filepath.Join(t.TempDir(), "x.png"), img)
	assert.ErrorIs(t, err, ErrColorSpaceMismatch)
}

func TestResolveReferencePathFallsBackToJPG(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame_01.jpg"), []byte{}, 0o644))

	got, err := ResolveReferencePath(dir, "frame_01", DefaultReferenceExtensions)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "frame_01.jpg"), got)
}

func TestResolveReferencePathPriority(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"f.exr", "f.jpeg", "f.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte{}, 0o644))
	}
	got, err := ResolveReferencePath(dir, "f", DefaultReferenceExtensions)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "f.png"), got)

	got, err = ResolveReferencePath(dir, "f.exr", DefaultReferenceExtensions)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "f.exr"), got)
}

func TestResolveReferencePathNotFound(t *testing.T) {
	_, err := ResolveReferencePath(t.TempDir(), "./test/r_0", DefaultReferenceExtensions)
	assert.ErrorIs(t, err, ErrReferenceImageNotFound)
	assert.ErrorIs(t, err, common.ErrIO)
}
