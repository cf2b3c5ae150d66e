// Package dsp holds the signal types of the control loop and the pure
// functions applied to them.
package dsp

import "errors"

const (
	DefaultSampleRate = 256 // Hz, Muse 2 nominal rate
	DefaultWindowSize = 100 // samples per acquisition window
	FilterOrder       = 4
)

var (
	ErrInvalidBand    = errors.New("dsp: invalid band")
	ErrEmptyWindow    = errors.New("dsp: empty window")
	ErrInvalidFeature = errors.New("dsp: invalid feature")
)

// Window is one channel's raw samples from a single acquisition read.
type Window []float64

// BandSignal is a Window passed through one band's filter. Same length as its source.
type BandSignal []float64

// Band is a named frequency range used for display filtering.
type Band struct {
	Name string
	Low  float64 // Hz
	High float64 // Hz
}

// Bands are the canonical physiological bands, in display order.
var Bands = []Band{
	{Name: "delta", Low: 0.5, High: 4},
	{Name: "theta", Low: 4, High: 8},
	{Name: "alpha", Low: 8, High: 13},
	{Name: "beta", Low: 13, High: 30},
	{Name: "gamma", Low: 30, High: 100},
}
