package training

// ProgressTracker converts absolute step counts into progress increments.
//
// The display is reset whenever the step counter goes backwards or no step has been recorded yet, so an
// increment is never negative.
type ProgressTracker struct {
	previous     int
	total        int
	observations int
	resets       int
}

// Observe records step and returns the increment to add to the display. reset reports that the display
// must be cleared before adding it.
func (p *ProgressTracker) Observe(step int) (delta int, reset bool) {
	p.observations++
	if step < p.previous || p.previous == 0 {
		p.previous = 0
		p.total = 0
		p.resets++
		reset = true
	}
	delta = step - p.previous
	if delta < 0 {
		delta = 0
	}
	p.total += delta
	p.previous = step
	return delta, reset
}

// Total is the progress accumulated since the last reset.
func (p *ProgressTracker) Total() int { return p.total }

// Resets counts display resets, including the one on the first observation.
func (p *ProgressTracker) Resets() int { return p.resets }
