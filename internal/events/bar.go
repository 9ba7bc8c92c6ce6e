package events

import (
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
)

// Bar renders phase progress on a terminal progress bar. It subscribes
// to the bus like any other consumer and advances one tick per event of
// the configured kind, so a chapter-sized bar follows chapter-complete
// while an illustrate bar sized in scenes follows image-complete.
type Bar struct {
	bar       *progressbar.ProgressBar
	advanceOn Kind
}

// NewBar creates a stderr progress bar with total ticks.
func NewBar(total int, description string, advanceOn Kind) *Bar {
	return newBar(os.Stderr, total, description, advanceOn)
}

func newBar(w io.Writer, total int, description string, advanceOn Kind) *Bar {
	return &Bar{
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		),
		advanceOn: advanceOn,
	}
}

// Run consumes events until the channel closes, then finishes the bar.
func (b *Bar) Run(ch <-chan Event) {
	for ev := range ch {
		switch ev.Kind {
		case b.advanceOn:
			_ = b.bar.Add(1)
		case KindRateLimit:
			b.bar.Describe(ev.Message)
		}
	}
	_ = b.bar.Finish()
}
