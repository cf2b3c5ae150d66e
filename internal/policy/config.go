// Package policy maps extracted features to stimulation parameters and
// indicator categories.
package policy

import (
	"errors"
	"fmt"
)

// Variant names a stimulation rule shape.
type Variant string

const (
	FixedThreshold   Variant = "fixed-threshold"
	BaselineRelative Variant = "baseline-relative"
	RangeScaled      Variant = "range-scaled"
)

const (
	DefaultEEGThreshold  = 200
	DefaultScalingFactor = 0.02
	DefaultPreset        = 3
)

var ErrBaselineRequired = errors.New("policy: baseline required")

// Config is the immutable decision configuration for one run. Selecting a
// new preset produces a new Config; a running loop never sees it mutate.
type Config struct {
	Variant       Variant `json:"variant"`
	Preset        int     `json:"preset"` // 1-based index into the preset table
	Range         Preset  `json:"range"`
	EEGThreshold  float64 `json:"eeg_threshold"`
	ScalingFactor float64 `json:"scaling_factor"`

	// PolicyIndicator emits the tier colour chosen by the threshold variants.
	PolicyIndicator bool `json:"policy_indicator"`
	// Indicator emits the colour derived from amplitude+duration.
	Indicator bool `json:"indicator"`
}

// DefaultConfig returns the range-scaled policy on the middle preset.
func DefaultConfig() Config {
	return Config{
		Variant:       RangeScaled,
		Preset:        DefaultPreset,
		Range:         DefaultPresets[DefaultPreset-1],
		EEGThreshold:  DefaultEEGThreshold,
		ScalingFactor: DefaultScalingFactor,
		Indicator:     true,
	}
}

// WithPreset returns a copy of c using preset n (1-based) from table.
func (c Config) WithPreset(table Presets, n int) (Config, error) {
	p, err := table.Lookup(n)
	if err != nil {
		return c, err
	}
	c.Preset = n
	c.Range = p
	return c, nil
}

// NeedsBaseline reports whether the variant decides relative to a baseline.
func (c Config) NeedsBaseline() bool {
	return c.Variant == BaselineRelative
}

// Validate checks that c describes a usable policy.
func (c Config) Validate() error {
	switch c.Variant {
	case FixedThreshold, BaselineRelative, RangeScaled:
	default:
		return fmt.Errorf("policy: unknown variant %q", c.Variant)
	}
	if c.ScalingFactor <= 0 {
		return fmt.Errorf("policy: scaling factor must be positive, got %v", c.ScalingFactor)
	}
	if c.Variant == RangeScaled {
		if err := c.Range.Validate(); err != nil {
			return err
		}
	}
	return nil
}
