// Package acquire provides the acquisition sessions the control loop reads
// raw EEG windows from.
package acquire

import (
	"context"
	"errors"

	"github.com/satindergrewal/neuroloop/internal/dsp"
)

var (
	ErrNotPrepared  = errors.New("acquire: session not prepared")
	ErrNotStreaming = errors.New("acquire: stream not started")
)

// Frame is one acquisition read, one row per board channel.
type Frame [][]float64

// Window returns a copy of row ch, or nil if the frame has no such row.
func (f Frame) Window(ch int) dsp.Window {
	if ch < 0 || ch >= len(f) {
		return nil
	}
	return append(dsp.Window(nil), f[ch]...)
}

// Source is an acquisition session. The control loop owns it for the
// lifetime of a run: Prepare and Start once, CurrentWindow every cycle, then
// Stop and Release once.
type Source interface {
	Prepare(ctx context.Context) error
	Start() error
	// CurrentWindow returns up to n of the most recent samples per channel.
	CurrentWindow(ctx context.Context, n int) (Frame, error)
	// Channels lists the rows of a Frame that carry EEG.
	Channels() []int
	Stop() error
	Release() error
}
