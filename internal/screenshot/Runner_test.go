package screenshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/imaging"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/log"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/models/transforms"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/renderer/renderertest"
)

const manifest = `{
	"camera_angle_x": 0.6911112070083618,
	"w": 40,
	"h": 30,
	"frames": [
		{"file_path": "./train/r_0", "transform_matrix": [[1,0,0,0],[0,1,0,0],[0,0,1,1],[0,0,0,1]]},
		{"file_path": "./train/r_1.jpg", "transform_matrix": [[1,0,0,0],[0,1,0,0],[0,0,1,2],[0,0,0,1]]},
		{"file_path": "./train/r_2", "transform_matrix": [[1,0,0,0],[0,1,0,0],[0,0,1,3],[0,0,0,1]]}
	]
}`

func decode(t *testing.T, body string) *transforms.Manifest {
	t.Helper()
	m, err := transforms.Decode([]byte(body))
	require.NoError(t, err)
	return m
}

func TestNoManifestSingleShot(t *testing.T) {
	dir := t.TempDir()
	fake := &renderertest.Fake{}
	runner := NewRunner(fake, Options{Dir: dir, Width: 256, Height: 128, SPP: 4, Scene: "fox", NetworkStem: "base"}, log.NewNop())

	shots, err := runner.Run(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, fake.Renders, 1)
	call := fake.Renders[0]
	assert.Equal(t, 256, call.Width)
	assert.Equal(t, 128, call.Height)
	assert.Equal(t, 4, call.SPP)
	assert.True(t, call.WithAlpha)
	assert.Zero(t, fake.Called("SetCameraPose"))

	want := filepath.Join(dir, "fox_base.png")
	require.Len(t, shots, 1)
	assert.Equal(t, want, shots[0].Path)
	img, err := imaging.Load(want)
	require.NoError(t, err)
	assert.Equal(t, 256, img.Width)
	assert.Equal(t, 128, img.Height)
}

func TestNoManifestUsesSceneBaseName(t *testing.T) {
	dir := t.TempDir()
	runner := NewRunner(&renderertest.Fake{}, Options{Dir: dir, Width: 8, Height: 8, Scene: "data/nerf/fox", NetworkStem: "big"}, log.NewNop())

	shots, err := runner.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fox_big.png"), shots[0].Path)
}

func TestNoManifestNeedsResolution(t *testing.T) {
	fake := &renderertest.Fake{}
	_, err := NewRunner(fake, Options{Dir: t.TempDir(), Width: 256}, log.NewNop()).Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMissingResolution)
	assert.ErrorIs(t, err, common.ErrConfig)
	assert.Empty(t, fake.Renders)
}

func TestManifestAllFramesUseManifestResolution(t *testing.T) {
	dir := t.TempDir()
	fake := &renderertest.Fake{}
	runner := NewRunner(fake, Options{Dir: dir}, log.NewNop())

	shots, err := runner.Run(context.Background(), decode(t, manifest))
	require.NoError(t, err)

	require.Len(t, shots, 3)
	assert.Equal(t, filepath.Join(dir, "r_0.png"), shots[0].Path)
	assert.Equal(t, filepath.Join(dir, "r_1.jpg"), shots[1].Path)
	assert.Equal(t, filepath.Join(dir, "r_2.png"), shots[2].Path)
	for _, s := range shots {
		assert.FileExists(t, s.Path)
	}

	require.Len(t, fake.Renders, 3)
	for i, call := range fake.Renders {
		assert.Equal(t, 40, call.Width)
		assert.Equal(t, 30, call.Height)
		assert.Equal(t, DefaultSPP, call.SPP)
		assert.Equal(t, float64(i+1), call.Pose.Translation()[2])
	}
	assert.Equal(t, 0, fake.FOVAxis)
	assert.InDelta(t, 39.5978, fake.FOV, 1e-3)
}

func TestExplicitResolutionWins(t *testing.T) {
	fake := &renderertest.Fake{}
	runner := NewRunner(fake, Options{Dir: t.TempDir(), Width: 64, Frames: []int{2, 0}}, log.NewNop())

	shots, err := runner.Run(context.Background(), decode(t, manifest))
	require.NoError(t, err)

	require.Len(t, fake.Renders, 2)
	assert.Equal(t, 64, fake.Renders[0].Width)
	assert.Equal(t, 30, fake.Renders[0].Height)
	assert.Equal(t, 2, shots[0].Index)
	assert.Equal(t, 0, shots[1].Index)
	assert.Equal(t, float64(3), fake.Renders[0].Pose.Translation()[2])
}

func TestFrameIndexOutOfRangeBeforeRendering(t *testing.T) {
	fake := &renderertest.Fake{}
	runner := NewRunner(fake, Options{Dir: t.TempDir(), Frames: []int{0, 7}}, log.NewNop())

	_, err := runner.Run(context.Background(), decode(t, manifest))
	assert.ErrorIs(t, err, transforms.ErrFrameIndexOutOfRange)
	assert.Empty(t, fake.Renders)
}

func TestUnsupportedOutputBeforeRendering(t *testing.T) {
	fake := &renderertest.Fake{}
	m := decode(t, `{"camera_angle_x": 0.5, "w": 8, "h": 8, "frames": [
		{"file_path": "./train/r_0", "transform_matrix": [[1,0,0,0],[0,1,0,0],[0,0,1,0]]},
		{"file_path": "./train/r_1.webp", "transform_matrix": [[1,0,0,0],[0,1,0,0],[0,0,1,0]]}
	]}`)

	_, err := NewRunner(fake, Options{Dir: t.TempDir()}, log.NewNop()).Run(context.Background(), m)
	assert.ErrorIs(t, err, ErrUnsupportedOutput)
	assert.ErrorIs(t, err, common.ErrConfig)
	assert.Empty(t, fake.Renders)
}

func TestManifestWithoutResolution(t *testing.T) {
	fake := &renderertest.Fake{}
	m := decode(t, `{"camera_angle_x": 0.5, "frames": [{"file_path": "a", "transform_matrix": [[1,0,0,0],[0,1,0,0],[0,0,1,0]]}]}`)

	_, err := NewRunner(fake, Options{Dir: t.TempDir()}, log.NewNop()).Run(context.Background(), m)
	assert.ErrorIs(t, err, ErrMissingResolution)
}

func TestRenderErrorStopsBatch(t *testing.T) {
	fake := &renderertest.Fake{Errors: map[string]error{"Render": common.ErrRenderer}}
	dir := t.TempDir()

	shots, err := NewRunner(fake, Options{Dir: dir}, log.NewNop()).Run(context.Background(), decode(t, manifest))
	assert.ErrorIs(t, err, common.ErrRenderer)
	assert.Empty(t, shots)
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}
