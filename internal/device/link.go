package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 115200
	DefaultSettleDelay = 2 * time.Second
	DefaultPacingDelay = 100 * time.Millisecond
)

var ErrLinkClosed = errors.New("device: link closed")

// LinkUnavailableError reports that the serial port could not be opened.
type LinkUnavailableError struct {
	Port string
	Err  error
}

func (e *LinkUnavailableError) Error() string {
	return fmt.Sprintf("device link %s unavailable: %v", e.Port, e.Err)
}

func (e *LinkUnavailableError) Unwrap() error { return e.Err }

// WriteError reports a command that failed to reach the port. Commands are
// never retried: a stimulator must not see a command twice.
type WriteError struct {
	Command Command
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %q: %v", e.Command, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Port is the half of a serial port the link uses.
type Port interface {
	io.Writer
	io.Closer
}

// Dialer opens a port by name at the given baud rate.
type Dialer func(name string, baud int) (Port, error)

// SerialDialer opens a real serial port, 8N1.
func SerialDialer(name string, baud int) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// LinkConfig describes how to reach and pace the stimulator.
type LinkConfig struct {
	Port        string
	BaudRate    int
	SettleDelay time.Duration // wait after opening, before the first command
	PacingDelay time.Duration // wait after every command
	Vocabulary  Vocabulary
}

// Link owns the serial port to the stimulator. Writes are serialised and
// each is followed by the pacing delay.
type Link struct {
	cfg  LinkConfig
	port Port

	mu     sync.Mutex
	closed bool
	sent   int

	closeOnce sync.Once
	closeErr  error
}

// Open dials the port and waits for the device to settle. The port is
// closed again if ctx is cancelled while settling.
func Open(ctx context.Context, cfg LinkConfig, dial Dialer) (*Link, error) {
	if dial == nil {
		dial = SerialDialer
	}
	port, err := dial(cfg.Port, cfg.BaudRate)
	if err != nil {
		return nil, &LinkUnavailableError{Port: cfg.Port, Err: err}
	}
	log.Printf("Serial link open: %s @ %d baud, settling %v", cfg.Port, cfg.BaudRate, cfg.SettleDelay)

	if err := sleep(ctx, cfg.SettleDelay); err != nil {
		port.Close()
		return nil, err
	}
	return &Link{cfg: cfg, port: port}, nil
}

// Vocabulary returns the dialect the link speaks.
func (l *Link) Vocabulary() Vocabulary {
	return l.cfg.Vocabulary
}

// Sent returns the number of commands written so far.
func (l *Link) Sent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}

// SendAll writes cmds in order and stops at the first failure. It returns
// how many commands reached the port.
func (l *Link) SendAll(ctx context.Context, cmds []Command) (int, error) {
	n := 0
	for _, cmd := range cmds {
		written, err := l.send(ctx, cmd)
		if written {
			n++
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// send writes one command and then waits the pacing delay. A cancelled ctx
// stops the command from being written, or cuts the pacing wait short if it
// already was. It reports whether the command reached the port.
func (l *Link) send(ctx context.Context, cmd Command) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := l.write(cmd); err != nil {
		return false, err
	}
	return true, sleep(ctx, l.cfg.PacingDelay)
}

// EmergencyStop writes the stop command regardless of cancellation and
// paces it so the device handles it before the port closes.
func (l *Link) EmergencyStop() error {
	cmd := l.cfg.Vocabulary.EmergencyStop()
	if err := l.write(cmd); err != nil {
		return err
	}
	log.Printf("Emergency stop sent: %s", cmd)
	return sleep(context.Background(), l.cfg.PacingDelay)
}

// Close releases the port. Later calls return the first call's result.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		l.closeErr = l.port.Close()
		log.Printf("Serial link closed: %s", l.cfg.Port)
	})
	return l.closeErr
}

func (l *Link) write(cmd Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return &WriteError{Command: cmd, Err: ErrLinkClosed}
	}
	if _, err := l.port.Write(cmd.Frame()); err != nil {
		return &WriteError{Command: cmd, Err: err}
	}
	l.sent++
	log.Printf("Sent to device: %s", cmd)
	return nil
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
