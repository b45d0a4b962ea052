package transport

import (
	"fmt"
	"log"
	"time"

	"go.bug.st/serial"

	"github.com/shaunagostinho/vacdash/internal/instrument"
)

// Serial is a Transport over a local serial port.
type Serial struct {
	path    string
	port    serial.Port
	timeout time.Duration
}

// Open opens and configures the port described by cfg.
func Open(cfg Config) (*Serial, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.PortPath, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", cfg.PortPath, instrument.ErrConnection, err)
	}
	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set timeout on %s: %w: %w", cfg.PortPath, instrument.ErrConnection, err)
	}
	log.Printf("[serial] opened %s at %d baud, 8N1, timeout %v", cfg.PortPath, cfg.BaudRate, cfg.Timeout)
	return &Serial{path: cfg.PortPath, port: port, timeout: cfg.Timeout}, nil
}

func (s *Serial) WriteFrame(frame []byte) error {
	if _, err := s.port.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w: %w", s.path, instrument.ErrConnection, err)
	}
	return nil
}

func (s *Serial) Flush() error {
	if err := s.port.Drain(); err != nil {
		return fmt.Errorf("drain %s: %w: %w", s.path, instrument.ErrConnection, err)
	}
	return nil
}

// ReadUntil reads byte by byte so nothing past the terminator is consumed.
// A zero-length read means the per-read timeout expired.
func (s *Serial) ReadUntil(term byte) ([]byte, error) {
	deadline := time.Now().Add(s.timeout)
	resp := make([]byte, 0, 32)
	buf := make([]byte, 1)
	for time.Now().Before(deadline) {
		n, err := s.port.Read(buf)
		if err != nil {
			return resp, fmt.Errorf("read %s after %d bytes: %w: %w", s.path, len(resp), instrument.ErrConnection, err)
		}
		if n == 0 {
			break
		}
		resp = append(resp, buf[0])
		if buf[0] == term {
			break
		}
	}
	return resp, nil
}

func (s *Serial) ReadAtMost(n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := s.port.Read(buf)
	if err != nil {
		return buf[:got], fmt.Errorf("read %s: %w: %w", s.path, instrument.ErrConnection, err)
	}
	return buf[:got], nil
}

func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
