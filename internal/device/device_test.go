package device

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/neuroloop/internal/policy"
)

type fakePort struct {
	mu     sync.Mutex
	lines  []string
	times  []time.Time
	failAt int // 1-based write index that fails; 0 never
	closes int
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAt != 0 && len(p.lines)+1 == p.failAt {
		p.failAt = 0
		return 0, errors.New("usb unplugged")
	}
	p.lines = append(p.lines, string(b))
	p.times = append(p.times, time.Now())
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

func (p *fakePort) written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lines...)
}

func testLink(t *testing.T, port *fakePort, pacing time.Duration) *Link {
	t.Helper()
	cfg := LinkConfig{Port: "/dev/fake", BaudRate: DefaultBaudRate, PacingDelay: pacing, Vocabulary: DefaultVocabulary}
	l, err := Open(context.Background(), cfg, func(string, int) (Port, error) { return port, nil })
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

// --- protocol ---

func TestCommandFrame(t *testing.T) {
	if got := string(Freq(1, 20).Frame()); got != "FREQ 1 20\r\n" {
		t.Errorf("Frame = %q, want %q", got, "FREQ 1 20\r\n")
	}
}

func TestCycleCommandsOrder(t *testing.T) {
	p := policy.Params{Amplitude: 15, Duration: 120, Frequency: 10}
	got := DefaultVocabulary.CycleCommands(p, []policy.Indicator{policy.Yellow})
	want := []Command{
		"FREQ 1 10", "AMPL 1 15", "DURN 1 120",
		"FREQ 2 10", "AMPL 2 15", "DURN 2 120",
		"STIM 1 10 0", "STIM 2 10 0",
		"LED YELLOW",
	}
	if len(got) != len(want) {
		t.Fatalf("CycleCommands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if n := len(DefaultVocabulary.CycleCommands(p, nil)); n != 8 {
		t.Errorf("without indicator: %d commands, want 8", n)
	}
}

func TestVocabularies(t *testing.T) {
	tests := []struct {
		v    Vocabulary
		ind  Command
		stop Command
	}{
		{Vocabulary{LED: LEDSpaced, Stop: StopEOFF}, "LED GREEN", "EOFF"},
		{Vocabulary{LED: LEDCompact, Stop: StopEOFF}, "LEDGREEN", "EOFF"},
		{Vocabulary{LED: LEDSpaced, Stop: StopLEDOff}, "LED GREEN", "LED OFF"},
		{Vocabulary{LED: LEDCompact, Stop: StopLEDOff}, "LEDGREEN", "LEDOFF"},
	}
	for _, tt := range tests {
		if err := tt.v.Validate(); err != nil {
			t.Errorf("%+v: Validate = %v", tt.v, err)
		}
		if got := tt.v.Indicator(policy.Green); got != tt.ind {
			t.Errorf("%+v: Indicator = %q, want %q", tt.v, got, tt.ind)
		}
		if got := tt.v.EmergencyStop(); got != tt.stop {
			t.Errorf("%+v: EmergencyStop = %q, want %q", tt.v, got, tt.stop)
		}
	}

	if err := (Vocabulary{LED: "blink", Stop: StopEOFF}).Validate(); err == nil {
		t.Error("unknown LED style accepted")
	}
	if err := (Vocabulary{LED: LEDSpaced, Stop: "halt"}).Validate(); err == nil {
		t.Error("unknown stop command accepted")
	}
}

// --- link ---

func TestOpenUnavailable(t *testing.T) {
	cause := errors.New("no such file")
	_, err := Open(context.Background(), LinkConfig{Port: "/dev/missing"}, func(string, int) (Port, error) {
		return nil, cause
	})
	var lerr *LinkUnavailableError
	if !errors.As(err, &lerr) {
		t.Fatalf("Open err = %v, want LinkUnavailableError", err)
	}
	if lerr.Port != "/dev/missing" || !errors.Is(err, cause) {
		t.Errorf("LinkUnavailableError = %+v", lerr)
	}
}

func TestOpenPassesBaudAndSettles(t *testing.T) {
	var gotBaud int
	port := &fakePort{}
	start := time.Now()
	cfg := LinkConfig{Port: "/dev/fake", BaudRate: 115200, SettleDelay: 30 * time.Millisecond}
	_, err := Open(context.Background(), cfg, func(_ string, baud int) (Port, error) {
		gotBaud = baud
		return port, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotBaud != 115200 {
		t.Errorf("baud = %d, want 115200", gotBaud)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Open returned after %v, want >= settle delay", elapsed)
	}
}

func TestOpenCancelledWhileSettling(t *testing.T) {
	port := &fakePort{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := LinkConfig{Port: "/dev/fake", SettleDelay: time.Hour}
	if _, err := Open(ctx, cfg, func(string, int) (Port, error) { return port, nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("Open err = %v, want context.Canceled", err)
	}
	if port.closes != 1 {
		t.Errorf("port closed %d times, want 1", port.closes)
	}
}

func TestSendAllPacesEveryCommand(t *testing.T) {
	port := &fakePort{}
	pacing := 15 * time.Millisecond
	l := testLink(t, port, pacing)

	cmds := DefaultVocabulary.CycleCommands(policy.Params{Amplitude: 10, Duration: 100, Frequency: 10}, []policy.Indicator{policy.Green})
	n, err := l.SendAll(context.Background(), cmds)
	if err != nil {
		t.Fatal(err)
	}
	if n != 9 || l.Sent() != 9 {
		t.Fatalf("sent %d (link %d), want 9", n, l.Sent())
	}

	lines := port.written()
	for i, cmd := range cmds {
		if lines[i] != string(cmd)+"\r\n" {
			t.Errorf("line[%d] = %q, want %q", i, lines[i], cmd)
		}
	}
	for i := 1; i < len(port.times); i++ {
		if gap := port.times[i].Sub(port.times[i-1]); gap < pacing {
			t.Errorf("gap before command %d = %v, want >= %v", i, gap, pacing)
		}
	}
}

func TestSendAllStopsAtWriteErrorWithoutRetry(t *testing.T) {
	port := &fakePort{failAt: 4}
	l := testLink(t, port, 0)

	cmds := DefaultVocabulary.CycleCommands(policy.Params{Amplitude: 10, Duration: 100, Frequency: 10}, nil)
	n, err := l.SendAll(context.Background(), cmds)
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("err = %v, want WriteError", err)
	}
	if werr.Command != "FREQ 2 10" {
		t.Errorf("failed command = %q, want FREQ 2 10", werr.Command)
	}
	if n != 3 {
		t.Errorf("written = %d, want 3", n)
	}
	if got := port.written(); len(got) != 3 {
		t.Errorf("port saw %d commands, want 3 (no retry, no continuation): %v", len(got), got)
	}
}

func TestSendCancelledDuringPacing(t *testing.T) {
	port := &fakePort{}
	l := testLink(t, port, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	var n int
	var err error
	go func() {
		n, err = l.SendAll(ctx, []Command{"FREQ 1 10", "AMPL 1 10"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SendAll did not observe cancellation during pacing")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if n != 1 {
		t.Errorf("written = %d, want 1", n)
	}
}

func TestSendOnCancelledContextWritesNothing(t *testing.T) {
	port := &fakePort{}
	l := testLink(t, port, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if written, err := l.send(ctx, "FREQ 1 10"); written || !errors.Is(err, context.Canceled) {
		t.Errorf("send = %v, %v, want false, context.Canceled", written, err)
	}
	if len(port.written()) != 0 {
		t.Errorf("port saw %v, want nothing", port.written())
	}
}

func TestEmergencyStopIgnoresCancellation(t *testing.T) {
	port := &fakePort{}
	l := testLink(t, port, time.Millisecond)
	if err := l.EmergencyStop(); err != nil {
		t.Fatal(err)
	}
	if got := port.written(); len(got) != 1 || got[0] != "EOFF\r\n" {
		t.Errorf("port saw %q, want [EOFF]", got)
	}
}

func TestCloseIdempotent(t *testing.T) {
	port := &fakePort{}
	l := testLink(t, port, 0)
	for i := 0; i < 3; i++ {
		if err := l.Close(); err != nil {
			t.Errorf("Close #%d: %v", i+1, err)
		}
	}
	if port.closes != 1 {
		t.Errorf("port closed %d times, want 1", port.closes)
	}

	_, err := l.send(context.Background(), "FREQ 1 10")
	if !errors.Is(err, ErrLinkClosed) {
		t.Errorf("send after Close = %v, want ErrLinkClosed", err)
	}
	if err := l.EmergencyStop(); !errors.Is(err, ErrLinkClosed) {
		t.Errorf("EmergencyStop after Close = %v, want ErrLinkClosed", err)
	}
}

func TestWriteErrorMessageNamesCommand(t *testing.T) {
	err := &WriteError{Command: "STIM 1 10 0", Err: errors.New("timeout")}
	if !strings.Contains(err.Error(), "STIM 1 10 0") {
		t.Errorf("Error() = %q, want command in message", err.Error())
	}
}
