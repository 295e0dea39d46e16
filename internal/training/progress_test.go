package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressTrackerResetOnDecrease(t *testing.T) {
	var p ProgressTracker
	steps := []int{5, 8, 8, 2, 2, 9}
	wantDelta := []int{5, 3, 0, 2, 0, 7}
	wantReset := []bool{true, false, false, true, false, false}

	for i, s := range steps {
		delta, reset := p.Observe(s)
		assert.GreaterOrEqual(t, delta, 0)
		assert.Equal(t, wantDelta[i], delta, "step %d", i)
		assert.Equal(t, wantReset[i], reset, "step %d", i)
	}
	assert.Equal(t, 9, p.Total())
	assert.Equal(t, 9, p.previous)
	assert.Equal(t, 2, p.Resets())
	assert.Equal(t, 6, p.observations)
}

func TestProgressTrackerZeroPrevious(t *testing.T) {
	var p ProgressTracker

	// nothing trained yet: every observation resets until the counter moves
	delta, reset := p.Observe(0)
	assert.Equal(t, 0, delta)
	assert.True(t, reset)

	delta, reset = p.Observe(0)
	assert.Equal(t, 0, delta)
	assert.True(t, reset)

	delta, reset = p.Observe(4)
	assert.Equal(t, 4, delta)
	assert.True(t, reset)

	delta, reset = p.Observe(6)
	assert.Equal(t, 2, delta)
	assert.False(t, reset)
	assert.Equal(t, 6, p.Total())
}
