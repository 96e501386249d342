// Package progress renders transfer progress for the CLI: a single
// schollz bar for one-file operations and an mpb group for concurrent
// transfers. Broker-driven front-ends get progress from the event bus
// instead and never import this package.
package progress

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
)

// Reporter receives progress for one operation.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
}

// Bar renders a single progress bar on stderr.
type Bar struct {
	bar *progressbar.ProgressBar
}

// NewBar creates an unstarted single-operation reporter.
func NewBar() *Bar {
	return &Bar{}
}

// Start initializes the bar. total <= 0 renders a spinner (unknown
// length, e.g. a download before the Content-Length arrives).
func (b *Bar) Start(total int64, description string) {
	b.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update moves the bar to the current position.
func (b *Bar) Update(current int64) {
	if b.bar != nil {
		_ = b.bar.Set64(current)
	}
}

// Finish completes the bar.
func (b *Bar) Finish() {
	if b.bar != nil {
		_ = b.bar.Finish()
	}
}

// Error prints the failure under the bar.
func (b *Bar) Error(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}
}

// Nop discards all progress. Used when stderr is not a terminal or
// --quiet is set.
type Nop struct{}

func (Nop) Start(int64, string) {}
func (Nop) Update(int64)        {}
func (Nop) Finish()             {}
func (Nop) Error(error)         {}
