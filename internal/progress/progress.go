// Package progress draws terminal progress bars for analysis stages.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/neural-garage/tools/pkg/analyzer"
)

// Bar wraps a progress bar for file processing.
type Bar struct {
	bar   *progressbar.ProgressBar
	label string
	out   io.Writer

	mu  sync.Mutex
	max int
}

// NewBar creates a progress bar that draws on w. Its total grows with
// the events it receives.
func NewBar(w io.Writer, label string) *Bar {
	bar := progressbar.NewOptions(0,
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription(label),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &Bar{bar: bar, label: label, out: w}
}

// Func returns a callback that advances the bar. Safe for concurrent use.
func (b *Bar) Func() analyzer.ProgressFunc {
	return func(e analyzer.Event) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if e.Total > b.max {
			b.max = e.Total
			b.bar.ChangeMax(e.Total)
		}
		_ = b.bar.Add(1)
	}
}

// Tracker returns an analyzer tracker for stage that drives this bar.
func (b *Bar) Tracker(stage string) *analyzer.Tracker {
	return analyzer.NewTracker(stage, b.Func())
}

// FinishSuccess clears the bar completely (no output).
func (b *Bar) FinishSuccess() {
	_ = b.bar.Finish()
	_ = b.bar.Clear()
}

// FinishError clears the bar and prints an error message.
func (b *Bar) FinishError(err error) {
	_ = b.bar.Finish()
	_ = b.bar.Clear()
	fmt.Fprintf(b.out, "  %s error: %v\n", b.label, err)
}
