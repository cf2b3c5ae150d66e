package stream

import (
	"sync"
	"time"

	"github.com/satindergrewal/neuroloop/internal/dsp"
)

// BandFrame is one band's filtered window, as handed to viewers.
type BandFrame struct {
	Seq     uint64    `json:"seq"`
	Band    string    `json:"band"`
	Time    time.Time `json:"time"`
	Samples []float64 `json:"samples"`
}

// Broadcaster fans out band frames from the control loop to N viewers.
// Pushing never blocks: a viewer whose buffer is full misses frames.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	seq       uint64
	latest    map[string]BandFrame
}

// Listener receives band frames from the broadcaster.
type Listener struct {
	C    chan BandFrame // buffered, ~5 cycles of frames
	done chan struct{}
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
		latest:    make(map[string]BandFrame),
	}
}

// Subscribe registers a new listener. Returns a Listener that receives frames.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan BandFrame, 5*len(dsp.Bands)),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	close(l.done)
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// PushBandFrame publishes one band's signal to every listener.
func (b *Broadcaster) PushBandFrame(band string, sig dsp.BandSignal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	frame := BandFrame{
		Seq:     b.seq,
		Band:    band,
		Time:    time.Now(),
		Samples: append([]float64(nil), sig...),
	}
	b.latest[band] = frame

	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
			// viewer too slow, drop frame to keep the control loop moving
		}
	}
}

// Latest returns the newest frame of every band seen, in band order.
func (b *Broadcaster) Latest() []BandFrame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]BandFrame, 0, len(b.latest))
	for _, band := range dsp.Bands {
		if f, ok := b.latest[band.Name]; ok {
			out = append(out, f)
		}
	}
	return out
}
