// Package loop runs the closed control cycle that turns EEG windows into
// stimulator commands.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/satindergrewal/neuroloop/internal/acquire"
	"github.com/satindergrewal/neuroloop/internal/device"
	"github.com/satindergrewal/neuroloop/internal/dsp"
	"github.com/satindergrewal/neuroloop/internal/policy"
)

const DefaultCycleInterval = 6 * time.Second

// Link is the stimulator side of the loop. *device.Link implements it.
type Link interface {
	SendAll(ctx context.Context, cmds []device.Command) (int, error)
	EmergencyStop() error
	Close() error
	Vocabulary() device.Vocabulary
}

// Visualizer receives filtered bands for display. It must not block.
type Visualizer interface {
	PushBandFrame(band string, sig dsp.BandSignal)
}

// Config sets the loop's acquisition shape and pacing.
type Config struct {
	SampleRate    float64
	WindowSize    int
	CycleInterval time.Duration
	Policy        policy.Config
}

// Loop owns the acquisition session and the device link for one run.
type Loop struct {
	cfg    Config
	source acquire.Source
	link   Link
	viz    Visualizer
	runID  string

	// Touched only by the Run goroutine.
	policyCfg policy.Config
	pol       policy.Policy

	mu       sync.RWMutex
	state    State
	next     *policy.Config
	baseline *dsp.Baseline
	status   Status
}

// New creates a loop in the Idle state. viz may be nil.
func New(cfg Config, source acquire.Source, link Link, viz Visualizer) *Loop {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = dsp.DefaultSampleRate
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = dsp.DefaultWindowSize
	}
	return &Loop{
		cfg:       cfg,
		source:    source,
		link:      link,
		viz:       viz,
		runID:     uuid.NewString(),
		policyCfg: cfg.Policy,
		status:    Status{Policy: cfg.Policy},
	}
}

// RunID identifies this run in logs and status.
func (l *Loop) RunID() string {
	return l.runID
}

// UsePolicy replaces the policy config from the next cycle on. The value is
// taken as a whole; the running config is never modified in place.
func (l *Loop) UsePolicy(cfg policy.Config) error {
	_, err := l.UpdatePolicy(func(policy.Config) (policy.Config, error) {
		return cfg, nil
	})
	return err
}

// UpdatePolicy derives the next policy config from the newest one, pending
// or applied, so changes made within one cycle interval accumulate.
func (l *Loop) UpdatePolicy(change func(policy.Config) (policy.Config, error)) (policy.Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.status.Policy
	if l.next != nil {
		cur = *l.next
	}
	next, err := change(cur)
	if err != nil {
		return cur, err
	}
	if err := next.Validate(); err != nil {
		return cur, err
	}
	l.next = &next
	return next, nil
}

// Run drives the loop until ctx is cancelled, then stops the stimulator and
// releases both the acquisition session and the link. It returns nil after a
// clean cancellation; shutdown failures are returned, never swallowed.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.state != Idle {
		l.mu.Unlock()
		return fmt.Errorf("loop: run called in state %s", l.state)
	}
	l.mu.Unlock()

	log.Printf("Control loop %s starting (policy: %s)", l.runID, l.policyCfg.Variant)

	err := l.start(ctx)
	if err == nil {
		l.run(ctx)
	}
	stopErr := l.stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		return errors.Join(err, stopErr)
	}
	return stopErr
}

func (l *Loop) start(ctx context.Context) error {
	if err := l.source.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare acquisition: %w", err)
	}
	if err := l.source.Start(); err != nil {
		return fmt.Errorf("start acquisition: %w", err)
	}

	if l.policyCfg.NeedsBaseline() {
		l.setState(Calibrating)
		if err := l.calibrate(ctx); err != nil {
			return err
		}
	}

	pol, err := policy.New(l.policyCfg, l.Baseline())
	if err != nil {
		return err
	}
	l.pol = pol
	l.setState(Running)
	return nil
}

// calibrate retries until one window yields a baseline or ctx ends.
func (l *Loop) calibrate(ctx context.Context) error {
	for {
		window, err := l.acquireWindow(ctx)
		if err == nil {
			err = l.captureBaseline(window)
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("Calibration failed, retrying in %v: %v", l.cfg.CycleInterval, err)
		l.recordError(err)
		if err := sleep(ctx, l.cfg.CycleInterval); err != nil {
			return err
		}
	}
}

func (l *Loop) captureBaseline(window dsp.Window) error {
	baseline, err := dsp.Calibrate(window)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.baseline == nil {
		l.baseline = &baseline
		log.Printf("Baseline captured: %.2f", baseline.Value)
	}
	return nil
}

func (l *Loop) run(ctx context.Context) {
	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			return
		}
		l.applyPendingPolicy()

		if err := l.cycle(ctx, cycle); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.recordError(fmt.Errorf("cycle %d: %w", cycle, err))
		}

		if err := sleep(ctx, l.cfg.CycleInterval); err != nil {
			return
		}
	}
}

// cycle runs one acquire-decide-command pass. Any error aborts the rest of
// the cycle only.
func (l *Loop) cycle(ctx context.Context, n int) error {
	l.mu.Lock()
	l.status.Cycle = n
	l.mu.Unlock()

	window, err := l.acquireWindow(ctx)
	if err != nil {
		log.Printf("Cycle %d: acquisition skipped: %v", n, err)
		return err
	}
	l.visualize(window)

	features, err := dsp.Extract(window)
	if err == nil {
		err = features.Validate()
	}
	if err != nil {
		log.Printf("Cycle %d: features rejected (%d samples): %v", n, len(window), err)
		return err
	}

	if l.pol == nil {
		// Switched into a baseline policy mid-run: this window calibrates.
		if err := l.captureBaseline(window); err != nil {
			return err
		}
		pol, err := policy.New(l.policyCfg, l.Baseline())
		if err != nil {
			return err
		}
		l.pol = pol
		log.Printf("Cycle %d: window used for calibration, no stimulation", n)
		return nil
	}

	decision := l.pol.Decide(features)
	indicators := policy.Indicators(l.policyCfg, decision)
	p := decision.Params
	log.Printf("Cycle %d: abs_mean=%.2f peak=%.2f -> ampl=%d durn=%d freq=%d indicators=%v",
		n, features.AbsMean, features.Peak, p.Amplitude, p.Duration, p.Frequency, indicators)

	cmds := l.link.Vocabulary().CycleCommands(p, indicators)
	sent, err := l.link.SendAll(ctx, cmds)
	l.record(features, decision.Params, indicators, sent)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("Cycle %d: command sequence aborted after %d/%d (abs_mean=%.2f peak=%.2f): %v",
				n, sent, len(cmds), features.AbsMean, features.Peak, err)
		}
		return err
	}
	return nil
}

// acquireWindow reads one frame and selects the first EEG channel.
func (l *Loop) acquireWindow(ctx context.Context) (dsp.Window, error) {
	frame, err := l.source.CurrentWindow(ctx, l.cfg.WindowSize)
	if err != nil {
		return nil, err
	}
	channels := l.source.Channels()
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: no EEG channels", dsp.ErrEmptyWindow)
	}
	window := frame.Window(channels[0])
	if len(window) == 0 {
		return nil, fmt.Errorf("%w: channel %d", dsp.ErrEmptyWindow, channels[0])
	}
	return window, nil
}

func (l *Loop) visualize(window dsp.Window) {
	if l.viz == nil {
		return
	}
	for _, r := range dsp.FilterBands(window, l.cfg.SampleRate) {
		if r.Err != nil {
			log.Printf("Band %s not displayed: %v", r.Band.Name, r.Err)
			continue
		}
		l.viz.PushBandFrame(r.Band.Name, r.Signal)
	}
}

func (l *Loop) applyPendingPolicy() {
	l.mu.Lock()
	next := l.next
	if next == nil {
		l.mu.Unlock()
		return
	}
	l.next = nil
	pol, err := policy.New(*next, l.baseline)
	if err == nil || errors.Is(err, policy.ErrBaselineRequired) {
		l.status.Policy = *next
	}
	l.mu.Unlock()

	switch {
	case errors.Is(err, policy.ErrBaselineRequired):
		pol = nil
		log.Printf("Policy %s selected, calibrating on next window", next.Variant)
	case err != nil:
		log.Printf("Policy change rejected: %v", err)
		return
	default:
		log.Printf("Policy changed: %s preset %d", next.Variant, next.Preset)
	}
	l.policyCfg = *next
	l.pol = pol
}

// stop is the Stopping state: emergency stop, release acquisition, close
// the link. Every step runs even if an earlier one fails.
func (l *Loop) stop() error {
	l.setState(Stopping)
	log.Println("Stopping: emergency stop, releasing acquisition and link")

	var errs []error
	if err := l.link.EmergencyStop(); err != nil {
		log.Printf("EMERGENCY STOP FAILED: %v", err)
		errs = append(errs, fmt.Errorf("emergency stop: %w", err))
	}
	if err := l.source.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop acquisition: %w", err))
	}
	if err := l.source.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release acquisition: %w", err))
	}
	if err := l.link.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close link: %w", err))
	}

	l.setState(Stopped)
	log.Printf("Control loop %s stopped", l.runID)
	return errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
