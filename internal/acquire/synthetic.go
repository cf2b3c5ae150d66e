package acquire

import (
	"context"
	"log"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/satindergrewal/neuroloop/internal/dsp"
)

// SyntheticConfig shapes the generated signal.
type SyntheticConfig struct {
	SampleRate float64
	Channels   int
	Amplitude  float64 // µV scale of the dominant rhythm
	Seed       uint64
}

// rhythm is one band-limited component of the generated signal.
type rhythm struct {
	freq, weight float64
}

var rhythms = []rhythm{
	{freq: 2, weight: 1.0},  // delta
	{freq: 6, weight: 0.6},  // theta
	{freq: 10, weight: 0.8}, // alpha
	{freq: 20, weight: 0.4}, // beta
	{freq: 40, weight: 0.2}, // gamma
}

// Synthetic generates an EEG-like signal from one sinusoid per band under a
// slow envelope, plus seeded Gaussian noise. It stands in for a headset on
// the bench.
type Synthetic struct {
	cfg SyntheticConfig

	mu        sync.Mutex
	rng       *rand.Rand
	sample    int
	prepared  bool
	streaming bool
}

// NewSynthetic creates a synthetic source. Same config, same samples.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = dsp.DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 4
	}
	return &Synthetic{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

func (s *Synthetic) Prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepared = true
	log.Printf("Synthetic session prepared: %d channels @ %g Hz", s.cfg.Channels, s.cfg.SampleRate)
	return ctx.Err()
}

func (s *Synthetic) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.prepared {
		return ErrNotPrepared
	}
	s.streaming = true
	return nil
}

// CurrentWindow generates the next n samples on every channel.
func (s *Synthetic) CurrentWindow(ctx context.Context, n int) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return nil, ErrNotStreaming
	}

	frame := make(Frame, s.cfg.Channels)
	for ch := range frame {
		frame[ch] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		t := float64(s.sample) / s.cfg.SampleRate
		envelope := 1 + 0.5*math.Sin(2*math.Pi*0.05*t)
		for ch := range frame {
			phase := float64(ch) * math.Pi / 4
			var v float64
			for _, r := range rhythms {
				v += r.weight * math.Sin(2*math.Pi*r.freq*t+phase)
			}
			v += 0.1 * s.rng.NormFloat64()
			frame[ch][i] = s.cfg.Amplitude * envelope * v
		}
		s.sample++
	}
	return frame, nil
}

func (s *Synthetic) Channels() []int {
	out := make([]int, s.cfg.Channels)
	for i := range out {
		out[i] = i
	}
	return out
}

func (s *Synthetic) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
	return nil
}

func (s *Synthetic) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepared = false
	s.streaming = false
	log.Println("Synthetic session released")
	return nil
}
