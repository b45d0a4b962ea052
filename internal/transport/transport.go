// Package transport provides the byte channel the instrument drivers talk
// over: a serial port in production and an in-memory loopback for demo mode
// and tests.
package transport

import "time"

// Transport is an open, exclusively owned, half-duplex byte link.
//
// A read that times out is not an error: ReadUntil and ReadAtMost return
// whatever arrived (possibly nothing) and leave validation to the caller.
type Transport interface {
	// WriteFrame queues one complete frame for transmission.
	WriteFrame(frame []byte) error
	// Flush blocks until queued bytes are on the wire.
	Flush() error
	// ReadUntil reads until term is seen or the read timeout elapses.
	// The terminator, when seen, is included in the returned bytes.
	ReadUntil(term byte) ([]byte, error)
	// ReadAtMost performs one read of up to n bytes.
	ReadAtMost(n int) ([]byte, error)
	// Close releases the link.
	Close() error
}

// Config describes a serial link. Framing is always 8N1 without flow control.
type Config struct {
	PortPath string
	BaudRate int
	Timeout  time.Duration
}
