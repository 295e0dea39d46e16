package training

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Display shows training progress.
type Display interface {
	Reset()
	Add(n int) error
	Describe(description string)
	Finish() error
}

// Bar is a terminal Display backed by a progress bar.
type Bar struct {
	bar *progressbar.ProgressBar
	w   io.Writer
}

// NewBar returns a Bar writing to w. A limit <= 0 shows an open-ended counter.
func NewBar(w io.Writer, limit int) *Bar {
	max := limit
	if max <= 0 {
		max = -1
	}
	return &Bar{w: w, bar: progressbar.NewOptions(max,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("training"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowDescriptionAtLineEnd(),
	)}
}

func (b *Bar) Reset() { b.bar.Reset() }

func (b *Bar) Add(n int) error { return b.bar.Add(n) }

func (b *Bar) Describe(description string) { b.bar.Describe(description) }

func (b *Bar) Finish() error {
	if err := b.bar.Finish(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(b.w)
	return err
}

// NopDisplay discards progress.
type NopDisplay struct{}

func (NopDisplay) Reset() {}

func (NopDisplay) Add(int) error { return nil }

func (NopDisplay) Describe(string) {}

func (NopDisplay) Finish() error { return nil }
