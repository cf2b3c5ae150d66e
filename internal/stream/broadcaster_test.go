package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/satindergrewal/neuroloop/internal/dsp"
)

func TestNewBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	if b == nil {
		t.Fatal("NewBroadcaster returned nil")
	}
	if b.ListenerCount() != 0 {
		t.Errorf("Initial ListenerCount = %d, want 0", b.ListenerCount())
	}
	if len(b.Latest()) != 0 {
		t.Errorf("Initial Latest = %v, want empty", b.Latest())
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	l1 := b.Subscribe()
	if b.ListenerCount() != 1 {
		t.Errorf("After 1 subscribe: ListenerCount = %d, want 1", b.ListenerCount())
	}

	l2 := b.Subscribe()
	if b.ListenerCount() != 2 {
		t.Errorf("After 2 subscribes: ListenerCount = %d, want 2", b.ListenerCount())
	}

	b.Unsubscribe(l1)
	if b.ListenerCount() != 1 {
		t.Errorf("After 1 unsubscribe: ListenerCount = %d, want 1", b.ListenerCount())
	}

	b.Unsubscribe(l2)
	if b.ListenerCount() != 0 {
		t.Errorf("After all unsubscribed: ListenerCount = %d, want 0", b.ListenerCount())
	}
}

func TestPushDeliversToAllListeners(t *testing.T) {
	b := NewBroadcaster()
	listeners := make([]*Listener, 5)
	for i := range listeners {
		listeners[i] = b.Subscribe()
	}

	b.PushBandFrame("alpha", dsp.BandSignal{42, -42})

	for i, l := range listeners {
		select {
		case got := <-l.C:
			if got.Band != "alpha" || got.Samples[0] != 42 || got.Seq != 1 {
				t.Errorf("Listener %d got %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Errorf("Listener %d timed out", i)
		}
	}

	for _, l := range listeners {
		b.Unsubscribe(l)
	}
}

func TestPushCopiesSamples(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()
	defer b.Unsubscribe(l)

	sig := dsp.BandSignal{1, 2, 3}
	b.PushBandFrame("beta", sig)
	sig[0] = 99

	got := <-l.C
	if got.Samples[0] != 1 {
		t.Errorf("frame shares memory with caller: sample[0] = %v", got.Samples[0])
	}
}

func TestPushNeverBlocksOnSlowListener(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Subscribe()
	defer b.Unsubscribe(slow)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.PushBandFrame("gamma", dsp.BandSignal{float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PushBandFrame blocked on a listener that never reads")
	}

	if n := len(slow.C); n != cap(slow.C) {
		t.Errorf("slow listener holds %d frames, want buffer capacity %d", n, cap(slow.C))
	}
	// The oldest frames are kept; later ones are dropped.
	if first := <-slow.C; first.Samples[0] != 0 {
		t.Errorf("first buffered frame = %v, want 0", first.Samples[0])
	}
}

func TestLatestInBandOrder(t *testing.T) {
	b := NewBroadcaster()
	b.PushBandFrame("gamma", dsp.BandSignal{5})
	b.PushBandFrame("delta", dsp.BandSignal{1})
	b.PushBandFrame("delta", dsp.BandSignal{2})

	latest := b.Latest()
	if len(latest) != 2 {
		t.Fatalf("Latest = %v, want 2 frames", latest)
	}
	if latest[0].Band != "delta" || latest[0].Samples[0] != 2 {
		t.Errorf("Latest[0] = %+v, want newest delta", latest[0])
	}
	if latest[1].Band != "gamma" {
		t.Errorf("Latest[1] = %+v, want gamma", latest[1])
	}
}

func TestListenerDoneChannel(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()

	b.Unsubscribe(l)

	// done channel should be closed
	select {
	case <-l.done:
		// good
	default:
		t.Error("Listener done channel not closed after unsubscribe")
	}
}

func TestHTTPHandlerStreamsNDJSON(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(NewHTTPHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}

	// Headers are flushed before subscribing; wait for the listener.
	deadline := time.Now().Add(2 * time.Second)
	for b.ListenerCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.PushBandFrame("theta", dsp.BandSignal{0.5, -0.5})

	lines := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		if sc.Scan() {
			lines <- sc.Text()
		}
	}()

	select {
	case line := <-lines:
		var f BandFrame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if f.Band != "theta" || len(f.Samples) != 2 {
			t.Errorf("frame = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for NDJSON frame")
	}
}

func TestWebRTCHandlerRejectsBadRequests(t *testing.T) {
	h := NewWebRTCHandler(NewBroadcaster())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/offer", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /offer = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/offer", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS /offer = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST /offer with empty body = %d, want 400", rec.Code)
	}
	if h.PeerCount() != 0 {
		t.Errorf("PeerCount = %d, want 0", h.PeerCount())
	}
}
