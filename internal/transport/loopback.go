package transport

import (
	"fmt"
	"sync"

	"github.com/shaunagostinho/vacdash/internal/instrument"
)

// Device answers frames delivered over a Loopback. Respond receives one
// complete frame and returns the bytes the device puts back on the line,
// or nil to stay silent.
type Device interface {
	Respond(frame []byte) []byte
}

// Loopback is an in-memory Transport wired to a Device. Frames reach the
// device only on Flush; a read with no terminator pending behaves like a
// serial read timeout and returns what is buffered.
type Loopback struct {
	mu     sync.Mutex
	dev    Device
	queued [][]byte
	rx     []byte
	closed bool
}

// NewLoopback returns a Transport whose far end is dev.
func NewLoopback(dev Device) *Loopback {
	return &Loopback{dev: dev}
}

func (l *Loopback) WriteFrame(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("loopback write: %w: closed", instrument.ErrConnection)
	}
	l.queued = append(l.queued, append([]byte(nil), frame...))
	return nil
}

func (l *Loopback) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("loopback flush: %w: closed", instrument.ErrConnection)
	}
	for _, f := range l.queued {
		l.rx = append(l.rx, l.dev.Respond(f)...)
	}
	l.queued = l.queued[:0]
	return nil
}

func (l *Loopback) ReadUntil(term byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("loopback read: %w: closed", instrument.ErrConnection)
	}
	n := len(l.rx)
	for i, b := range l.rx {
		if b == term {
			n = i + 1
			break
		}
	}
	return l.take(n), nil
}

func (l *Loopback) ReadAtMost(n int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("loopback read: %w: closed", instrument.ErrConnection)
	}
	if n > len(l.rx) {
		n = len(l.rx)
	}
	return l.take(n), nil
}

func (l *Loopback) take(n int) []byte {
	out := append([]byte(nil), l.rx[:n]...)
	l.rx = l.rx[n:]
	return out
}

// Pending returns the number of received bytes not yet read.
func (l *Loopback) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rx)
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
