package policy

import (
	"fmt"

	"github.com/satindergrewal/neuroloop/internal/dsp"
)

// Supported stimulation rates.
const (
	FreqLow  = 10 // Hz
	FreqHigh = 20 // Hz
)

// Params is one cycle's stimulation setting.
type Params struct {
	Amplitude int `json:"amplitude"` // mA
	Duration  int `json:"duration"`  // µs
	Frequency int `json:"frequency"` // Hz
}

// Decision is a policy's output for one FeatureSet. Indicator is empty when
// the variant does not emit its own colour or no tier matched.
type Decision struct {
	Params    Params
	Indicator Indicator
}

// Policy is a pure mapping from features to a decision.
type Policy interface {
	Decide(f dsp.Features) Decision
	Variant() Variant
}

// New builds the policy selected by cfg. baseline is required by the
// baseline-relative variant and ignored by the others.
func New(cfg Config, baseline *dsp.Baseline) (Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Variant {
	case FixedThreshold:
		return &tiered{cfg: cfg, lower: 120, upper: 200}, nil
	case BaselineRelative:
		if baseline == nil {
			return nil, ErrBaselineRequired
		}
		return &tiered{cfg: cfg, lower: baseline.Value + 50, upper: baseline.Value + 100}, nil
	case RangeScaled:
		return &rangeScaled{cfg: cfg}, nil
	}
	return nil, fmt.Errorf("policy: unknown variant %q", cfg.Variant)
}

func frequency(cfg Config, absMean float64) int {
	if absMean > cfg.EEGThreshold {
		return FreqHigh
	}
	return FreqLow
}

type tier struct {
	amplitude, duration int
	indicator           Indicator
}

var tiers = [3]tier{
	{amplitude: 10, duration: 100, indicator: Green},
	{amplitude: 15, duration: 120, indicator: Yellow},
	{amplitude: 20, duration: 200, indicator: Red},
}

// tiered evaluates three threshold checks in order, later matches
// overwriting earlier ones. Comparisons are strict, so a mean exactly on
// lower or upper matches nothing and falls back to the first tier with no
// indicator.
type tiered struct {
	cfg          Config
	lower, upper float64
}

func (p *tiered) Variant() Variant { return p.cfg.Variant }

func (p *tiered) Decide(f dsp.Features) Decision {
	t, matched := tiers[0], false
	if f.AbsMean < p.lower {
		t, matched = tiers[0], true
	}
	if p.lower < f.AbsMean && f.AbsMean < p.upper {
		t, matched = tiers[1], true
	}
	if f.AbsMean > p.upper {
		t, matched = tiers[2], true
	}

	d := Decision{Params: Params{
		Amplitude: t.amplitude,
		Duration:  t.duration,
		Frequency: frequency(p.cfg, f.AbsMean),
	}}
	if matched && p.cfg.PolicyIndicator {
		d.Indicator = t.indicator
	}
	return d
}

// rangeScaled scales both features and clamps them into the preset bounds.
type rangeScaled struct {
	cfg Config
}

func (p *rangeScaled) Variant() Variant { return RangeScaled }

func (p *rangeScaled) Decide(f dsp.Features) Decision {
	r := p.cfg.Range
	return Decision{Params: Params{
		Amplitude: int(clamp(f.AbsMean*p.cfg.ScalingFactor, float64(r.AmplMin), float64(r.AmplMax))),
		Duration:  int(clamp(f.Peak*p.cfg.ScalingFactor, float64(r.DurnMin), float64(r.DurnMax))),
		Frequency: frequency(p.cfg, f.AbsMean),
	}}
}

// clamp raises x to lo, then caps it at hi.
func clamp(x, lo, hi float64) float64 {
	return min(max(lo, x), hi)
}
