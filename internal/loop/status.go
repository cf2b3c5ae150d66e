package loop

import (
	"github.com/satindergrewal/neuroloop/internal/dsp"
	"github.com/satindergrewal/neuroloop/internal/policy"
)

// State is a ControlLoop lifecycle state.
type State int

const (
	Idle State = iota
	Calibrating
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Calibrating:
		return "calibrating"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Status is a point-in-time view of the loop for operators.
type Status struct {
	RunID      string             `json:"run_id"`
	State      string             `json:"state"`
	Cycle      int                `json:"cycle"`
	Features   *dsp.Features      `json:"features,omitempty"`
	Params     *policy.Params     `json:"params,omitempty"`
	Indicators []policy.Indicator `json:"indicators,omitempty"`
	Baseline   *dsp.Baseline      `json:"baseline,omitempty"`
	Policy     policy.Config      `json:"policy"`
	Commands   int                `json:"commands_sent"`
	LastError  string             `json:"last_error,omitempty"`
}

// Status returns the current loop state.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.status
	s.RunID = l.runID
	s.State = l.state.String()
	s.Baseline = l.baseline
	s.Indicators = append([]policy.Indicator(nil), l.status.Indicators...)
	return s
}

// State returns the lifecycle state.
func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Baseline returns the captured baseline, or nil before calibration.
func (l *Loop) Baseline() *dsp.Baseline {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.baseline
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) record(f dsp.Features, p policy.Params, indicators []policy.Indicator, sent int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Features = &f
	l.status.Params = &p
	l.status.Indicators = indicators
	l.status.Commands += sent
}

func (l *Loop) recordError(err error) {
	l.mu.Lock()
	l.status.LastError = err.Error()
	l.mu.Unlock()
}
