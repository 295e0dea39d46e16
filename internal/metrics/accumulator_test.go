package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorSummary(t *testing.T) {
	acc := NewErrorAccumulator(false)
	for i, mse := range []float64{0.01, 0.0001} {
		psnr, err := MSEToPSNR(mse)
		require.NoError(t, err)
		acc.Add(FrameResult{Index: i, MSE: mse, PSNR: psnr})
	}

	assert.InDelta(t, 30.0, acc.MeanPSNR(), 1e-9)

	s, err := acc.Summary()
	require.NoError(t, err)
	assert.Equal(t, 2, s.Frames)
	assert.InDelta(t, 30.0, s.MeanPSNR, 1e-9)
	assert.InDelta(t, 20.0, s.MinPSNR, 1e-9)
	assert.InDelta(t, 40.0, s.MaxPSNR, 1e-9)
	// averaging before the log differs from averaging after it
	assert.InDelta(t, 22.967, s.PSNROfMeanMSE, 1e-3)
	assert.NotEqual(t, s.MeanPSNR, s.PSNROfMeanMSE)
	assert.Equal(t, 0.0, s.MeanSSIM)
	assert.False(t, s.SSIMComputed)
	assert.Len(t, acc.Frames(), 2)
}

func TestAccumulatorCountsPerfectMatches(t *testing.T) {
	acc := NewErrorAccumulator(true)
	acc.Add(FrameResult{MSE: 0, PSNR: PSNRCeiling, PerfectMatch: true, SSIM: 1})
	s, err := acc.Summary()
	require.NoError(t, err)
	assert.Equal(t, 1, s.PerfectMatches)
	assert.Equal(t, PSNRCeiling, s.PSNROfMeanMSE)
	assert.Equal(t, 1.0, s.MeanSSIM)
	assert.True(t, s.SSIMComputed)
}

func TestAccumulatorNegativePSNRTracksMax(t *testing.T) {
	acc := NewErrorAccumulator(false)
	acc.Add(FrameResult{MSE: 4, PSNR: -6})
	acc.Add(FrameResult{MSE: 2, PSNR: -3})
	s, err := acc.Summary()
	require.NoError(t, err)
	assert.Equal(t, -6.0, s.MinPSNR)
	assert.Equal(t, -3.0, s.MaxPSNR)
}

func TestAccumulatorEmpty(t *testing.T) {
	_, err := NewErrorAccumulator(false).Summary()
	assert.ErrorIs(t, err, ErrNoFrames)
}

func TestSummaryString(t *testing.T) {
	s := Summary{MeanPSNR: 31.5, MinPSNR: 30, MaxPSNR: 33.25, MeanSSIM: 0}
	assert.Equal(t, "psnr 31.5 average, psnr range 30-33.25, ssim 0", s.String())
}
