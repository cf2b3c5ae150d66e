package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
)

// section is one biquad with a0 normalised to 1.
type section struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// Filter applies a 4th-order Butterworth bandpass to window and returns a
// signal of the same length. Filtering is causal and starts from rest on
// every call, so consecutive windows are filtered independently.
func Filter(window Window, lowHz, highHz, sampleRateHz float64) (BandSignal, error) {
	nyquist := sampleRateHz / 2
	if !(lowHz > 0 && lowHz < highHz && highHz < nyquist) {
		return nil, fmt.Errorf("%w: %g-%g Hz at fs=%g Hz", ErrInvalidBand, lowHz, highHz, sampleRateHz)
	}

	sections, gain := butterBandpass(FilterOrder, lowHz/nyquist, highHz/nyquist)

	out := make(BandSignal, len(window))
	z1 := make([]float64, len(sections))
	z2 := make([]float64, len(sections))
	for n, s := range window {
		x := s * gain
		for i, sec := range sections {
			// Direct Form II Transposed
			y := sec.b0*x + z1[i]
			z1[i] = sec.b1*x - sec.a1*y + z2[i]
			z2[i] = sec.b2*x - sec.a2*y
			x = y
		}
		out[n] = x
	}
	return out, nil
}

// BandResult is the outcome of filtering one window through one band.
type BandResult struct {
	Band   Band
	Signal BandSignal
	Err    error
}

// FilterBands runs window through every canonical band. A failing band
// carries its error and does not affect the others.
func FilterBands(window Window, sampleRateHz float64) []BandResult {
	results := make([]BandResult, 0, len(Bands))
	for _, b := range Bands {
		sig, err := Filter(window, b.Low, b.High, sampleRateHz)
		results = append(results, BandResult{Band: b, Signal: sig, Err: err})
	}
	return results
}

// butterBandpass designs a digital Butterworth bandpass from cutoffs
// normalised to Nyquist. The analog prototype is shifted to a bandpass and
// mapped through the bilinear transform; each conjugate pole pair becomes a
// section whose zeros sit at z=+1 and z=-1.
func butterBandpass(order int, low, high float64) ([]section, float64) {
	const fs = 2.0 // normalised sampling frequency used for pre-warping

	wl := 2 * fs * math.Tan(math.Pi*low/fs)
	wh := 2 * fs * math.Tan(math.Pi*high/fs)
	bw := wh - wl
	wo := math.Sqrt(wl * wh)

	// Analog lowpass prototype poles on the left half of the unit circle.
	proto := make([]complex128, 0, order)
	for m := -order + 1; m < order; m += 2 {
		proto = append(proto, -cmplx.Exp(complex(0, math.Pi*float64(m)/float64(2*order))))
	}

	// Lowpass to bandpass: every prototype pole splits into two.
	analog := make([]complex128, 0, 2*order)
	for _, p := range proto {
		pl := p * complex(bw/2, 0)
		d := cmplx.Sqrt(pl*pl - complex(wo*wo, 0))
		analog = append(analog, pl+d, pl-d)
	}

	// Bilinear transform. The order zeros at the analog origin land on z=+1,
	// the order zeros at infinity on z=-1.
	fs2 := complex(2*fs, 0)
	digital := make([]complex128, len(analog))
	den := complex(1, 0)
	for i, p := range analog {
		digital[i] = (fs2 + p) / (fs2 - p)
		den *= fs2 - p
	}
	gain := real(complex(math.Pow(2*fs*bw, float64(order)), 0) / den)

	var sections []section
	var reals []float64
	for _, p := range digital {
		switch {
		case imag(p) > 1e-12:
			sections = append(sections, section{
				b0: 1, b1: 0, b2: -1,
				a1: -2 * real(p),
				a2: real(p)*real(p) + imag(p)*imag(p),
			})
		case imag(p) >= -1e-12:
			reals = append(reals, real(p))
		}
	}
	for i := 0; i+1 < len(reals); i += 2 {
		sections = append(sections, section{
			b0: 1, b1: 0, b2: -1,
			a1: -(reals[i] + reals[i+1]),
			a2: reals[i] * reals[i+1],
		})
	}
	return sections, gain
}
