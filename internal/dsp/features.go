package dsp

import (
	"fmt"
	"math"
)

// Features are the two scalars the stimulation policy decides on.
type Features struct {
	AbsMean float64 `json:"abs_mean"`
	Peak    float64 `json:"peak"`
}

// Extract reduces a window to its mean and maximum absolute sample.
func Extract(window Window) (Features, error) {
	if len(window) == 0 {
		return Features{}, ErrEmptyWindow
	}
	var sum, peak float64
	for _, s := range window {
		a := math.Abs(s)
		sum += a
		if a > peak {
			peak = a
		}
	}
	return Features{AbsMean: sum / float64(len(window)), Peak: peak}, nil
}

// Validate rejects features that a non-finite sample has poisoned.
func (f Features) Validate() error {
	if !finite(f.AbsMean) || !finite(f.Peak) {
		return fmt.Errorf("%w: abs_mean=%v peak=%v", ErrInvalidFeature, f.AbsMean, f.Peak)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Baseline is the resting reference captured once before the first decision.
type Baseline struct {
	Value float64 `json:"value"`
}

// Calibrate captures a baseline from one window. The value is half the
// window's absolute mean.
func Calibrate(window Window) (Baseline, error) {
	f, err := Extract(window)
	if err != nil {
		return Baseline{}, fmt.Errorf("calibrate: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Baseline{}, fmt.Errorf("calibrate: %w", err)
	}
	return Baseline{Value: f.AbsMean / 2}, nil
}
