package progress

import (
	"io"
	"os"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// MultiUI renders one bar per concurrent transfer. On a non-TTY stderr
// the bars are suppressed entirely.
type MultiUI struct {
	progress   *mpb.Progress
	isTerminal bool
}

// NewMultiUI creates a bar group for a batch of transfers.
func NewMultiUI() *MultiUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &MultiUI{progress: p, isTerminal: isTerminal}
}

// AddBar registers one transfer. total <= 0 is allowed and treated as
// indeterminate until SetTotal is called.
func (m *MultiUI) AddBar(name string, total int64) *TransferBar {
	bar := m.progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name, decor.WCSyncSpaceR),
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
	return &TransferBar{bar: bar, lastTime: time.Now()}
}

// Wait blocks until every bar has completed or been aborted.
func (m *MultiUI) Wait() {
	m.progress.Wait()
}

// TransferBar is one transfer's bar within a MultiUI.
type TransferBar struct {
	bar      *mpb.Bar
	lastTime time.Time
	last     int64
}

// SetTotal fixes the denominator once it is known.
func (t *TransferBar) SetTotal(total int64) {
	t.bar.SetTotal(total, false)
}

// Update advances the bar to an absolute position.
func (t *TransferBar) Update(current int64) {
	now := time.Now()
	delta := current - t.last
	if delta < 0 {
		return
	}
	t.bar.EwmaIncrInt64(delta, now.Sub(t.lastTime))
	t.last = current
	t.lastTime = now
}

// Done force-completes the bar.
func (t *TransferBar) Done() {
	t.bar.SetTotal(-1, true)
}

// Abort drops the bar without completing it.
func (t *TransferBar) Abort() {
	t.bar.Abort(true)
}
