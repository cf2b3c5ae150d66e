package policy

// Indicator is the status light colour.
type Indicator string

const (
	Red    Indicator = "RED"
	Yellow Indicator = "YELLOW"
	Green  Indicator = "GREEN"
	Off    Indicator = "OFF"
)

// IndicatorFor derives the light from amplitude+duration, independently of
// how the parameters were chosen.
func IndicatorFor(p Params) Indicator {
	sum := p.Amplitude + p.Duration
	switch {
	case sum >= 115 && sum <= 120:
		return Red
	case sum >= 110 && sum < 115:
		return Yellow
	case sum >= 105 && sum < 110:
		return Green
	default:
		return Off
	}
}

// Indicators lists the colours to emit for d under cfg: the policy's own
// tier colour first, then the derived one. Both may be present and may
// disagree.
func Indicators(cfg Config, d Decision) []Indicator {
	var out []Indicator
	if cfg.PolicyIndicator && d.Indicator != "" {
		out = append(out, d.Indicator)
	}
	if cfg.Indicator {
		out = append(out, IndicatorFor(d.Params))
	}
	return out
}
