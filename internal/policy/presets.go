package policy

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// PresetCount is the number of intensity levels offered to the operator.
const PresetCount = 5

// Preset bounds the range-scaled policy's output.
type Preset struct {
	AmplMin int `yaml:"ampl_min" json:"ampl_min"`
	AmplMax int `yaml:"ampl_max" json:"ampl_max"`
	DurnMin int `yaml:"durn_min" json:"durn_min"`
	DurnMax int `yaml:"durn_max" json:"durn_max"`
}

// Validate requires positive, ordered bounds so clamped parameters stay above zero.
func (p Preset) Validate() error {
	if p.AmplMin <= 0 || p.DurnMin <= 0 {
		return fmt.Errorf("policy: preset minimums must be positive: %+v", p)
	}
	if p.AmplMin > p.AmplMax || p.DurnMin > p.DurnMax {
		return fmt.Errorf("policy: preset minimum above maximum: %+v", p)
	}
	return nil
}

// Presets is an ordered intensity table, level 1 first.
type Presets []Preset

// DefaultPresets are the five intensity levels, low to high.
var DefaultPresets = Presets{
	{AmplMin: 1, AmplMax: 10, DurnMin: 1, DurnMax: 5},
	{AmplMin: 10, AmplMax: 20, DurnMin: 5, DurnMax: 10},
	{AmplMin: 20, AmplMax: 30, DurnMin: 10, DurnMax: 15},
	{AmplMin: 30, AmplMax: 40, DurnMin: 15, DurnMax: 20},
	{AmplMin: 40, AmplMax: 50, DurnMin: 20, DurnMax: 25},
}

// Lookup returns level n, counting from 1.
func (ps Presets) Lookup(n int) (Preset, error) {
	if n < 1 || n > len(ps) {
		return Preset{}, fmt.Errorf("policy: preset %d out of range 1-%d", n, len(ps))
	}
	return ps[n-1], nil
}

type presetsFile struct {
	Presets Presets `yaml:"presets"`
}

// LoadPresets reads a YAML preset table:
//
//	presets:
//	  - {ampl_min: 1, ampl_max: 10, durn_min: 1, durn_max: 5}
//	  ...
func LoadPresets(r io.Reader) (Presets, error) {
	var f presetsFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode presets: %w", err)
	}
	if len(f.Presets) != PresetCount {
		return nil, fmt.Errorf("policy: want %d presets, got %d", PresetCount, len(f.Presets))
	}
	for i, p := range f.Presets {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("preset %d: %w", i+1, err)
		}
	}
	return f.Presets, nil
}
