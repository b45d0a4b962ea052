// Package gauge drives the Hornet IGM401 ionisation gauge over RS-485.
//
// Wire format (manual p.32): requests are "#" + 2-char hex address +
// command + CR. Every response is 12 characters plus CR:
//
//	<status><addr:2><payload>
//
// where status is '*' for success and '?' for an error report.
package gauge

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/shaunagostinho/vacdash/internal/instrument"
	"github.com/shaunagostinho/vacdash/internal/transport"
)

const (
	DefaultBaudRate        = 19200
	DefaultAddress         = "01"
	DefaultTimeout         = 1 * time.Second
	DefaultExpectedVersion = "3351-101" // SN 23K00505; the older 14I218T unit reports 1769-107

	// ResponseLength is the trimmed length of every gauge response.
	ResponseLength = 12

	// payloadOffset skips status, address and the separator.
	payloadOffset = 4

	// invalidPressure is the reading the gauge reports while the
	// ion gauge filament is off.
	invalidPressure = 1e9

	postOpenDelay = 50 * time.Millisecond
)

const cr = '\r'

// Config holds connection configuration for the gauge.
type Config struct {
	PortPath        string        `yaml:"port_path" json:"portPath"`
	BaudRate        int           `yaml:"baud_rate" json:"baudRate"`
	Address         string        `yaml:"rs485_addr" json:"rs485Addr"`
	Timeout         time.Duration `yaml:"-" json:"-"`
	ExpectedVersion string        `yaml:"expected_version" json:"expectedVersion"`

	// OnDiagnostic is called for every protocol anomaly as it is observed.
	OnDiagnostic instrument.DiagnosticFunc `yaml:"-" json:"-"`
}

// Reading is one polled gauge sample.
type Reading struct {
	Pressure   float64 `json:"pressure"` // torr
	Valid      bool    `json:"valid"`    // false while the ion gauge is off
	IgnitionOn bool    `json:"ignitionOn"`
	Stamp      int64   `json:"stamp"` // Unix ms
}

// Hornet implements instrument.Protocol for the IGM401.
type Hornet struct {
	link transport.Transport
	cfg  Config
}

var _ instrument.Protocol = (*Hornet)(nil)

func (c *Config) applyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ExpectedVersion == "" {
		c.ExpectedVersion = DefaultExpectedVersion
	}
}

// New wraps an already open transport. No I/O is performed.
func New(link transport.Transport, cfg Config) *Hornet {
	cfg.applyDefaults()
	return &Hornet{link: link, cfg: cfg}
}

// Open opens the serial port, waits for the adapter to settle and runs the
// connection self-test. An identity mismatch is reported as a diagnostic;
// only a failure to open or talk to the port is an error.
func Open(cfg Config) (*Hornet, error) {
	cfg.applyDefaults()
	link, err := transport.Open(transport.Config{
		PortPath: cfg.PortPath,
		BaudRate: cfg.BaudRate,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("gauge: %w", err)
	}
	h := New(link, cfg)
	time.Sleep(postOpenDelay)

	res, err := h.SelfTest()
	if err != nil {
		link.Close()
		return nil, fmt.Errorf("gauge: self-test: %w", err)
	}
	log.Printf("[gauge] connected to %s (address %s), version %q", cfg.PortPath, cfg.Address, res.Value)
	return h, nil
}

func (h *Hornet) Name() string { return "Hornet IGM401" }

// Address returns the configured RS-485 address.
func (h *Hornet) Address() string { return h.cfg.Address }

func (h *Hornet) Close() error { return h.link.Close() }

// Write sends command + CR and returns the reply line with surrounding
// whitespace and the terminator removed.
func (h *Hornet) Write(command string) (string, error) {
	if err := h.link.WriteFrame([]byte(command + string(cr))); err != nil {
		return "", fmt.Errorf("gauge: %w", err)
	}
	if err := h.link.Flush(); err != nil {
		return "", fmt.Errorf("gauge: %w", err)
	}
	resp, err := h.link.ReadUntil(cr)
	if err != nil {
		return "", fmt.Errorf("gauge: %w", err)
	}
	return strings.TrimSpace(string(resp)), nil
}

// Query addresses command to this gauge and validates the reply frame.
// Checks run in order: length, status character, echoed address. Only the
// first failing check is reported. The reply is returned either way.
func (h *Hornet) Query(command string) (instrument.Result[string], error) {
	frame := "#" + h.cfg.Address + command
	s, err := h.Write(frame)
	res := instrument.Result[string]{Value: s, Raw: s}
	if err != nil {
		return res, err
	}

	diag := instrument.Diagnostic{Device: "gauge", Command: frame, Response: s}
	switch {
	case len(s) != ResponseLength:
		diag.Kind = instrument.KindLength
		diag.Detail = fmt.Sprintf("got %d characters, want %d", len(s), ResponseLength)
	case s[0] == '?':
		diag.Kind = instrument.KindErrorStatus
	case s[0] != '*':
		diag.Kind = instrument.KindUnknownStatus
	case s[1:3] != h.cfg.Address:
		diag.Kind = instrument.KindAddress
		diag.Detail = fmt.Sprintf("echoed %q, want %q", s[1:3], h.cfg.Address)
	default:
		return res, nil
	}
	res.Report(h.cfg.OnDiagnostic, diag)
	return res, nil
}

// Version returns the gauge software version, e.g. "3351-101".
func (h *Hornet) Version() (instrument.Result[string], error) {
	res, err := h.Query("VER")
	if err != nil {
		return res, err
	}
	res.Value = payload(res.Raw)
	return res, nil
}

// IgnitionStatus reports whether the ion gauge is lit.
//
// The device's status character is taken for its presence alone: any
// character at the payload position, '0' included, counts as on. Only a
// reply too short to carry one reads as off.
func (h *Hornet) IgnitionStatus() (instrument.Result[bool], error) {
	res, err := h.Query("IGS")
	out := instrument.Carry(res, false)
	if err != nil {
		return out, err
	}
	out.Value = len(res.Raw) > payloadOffset && res.Raw[payloadOffset] != 0
	return out, nil
}

// Pressure returns the current pressure in torr (the unit is set on the
// device). A payload that is not a number is a *instrument.DecodeError;
// the result still carries the raw reply and its diagnostics.
func (h *Hornet) Pressure() (instrument.Result[float64], error) {
	res, err := h.Query("RD")
	out := instrument.Carry(res, 0.0)
	if err != nil {
		return out, err
	}
	p := strings.TrimSpace(payload(res.Raw))
	f, perr := strconv.ParseFloat(p, 64)
	if perr != nil {
		return out, &instrument.DecodeError{Quantity: "pressure", Payload: p, Err: perr}
	}
	out.Value = f
	return out, nil
}

// SelfTest reads the version and checks it for the expected identifier.
func (h *Hornet) SelfTest() (instrument.Result[string], error) {
	res, err := h.Version()
	if err != nil {
		return res, err
	}
	if !strings.Contains(res.Value, h.cfg.ExpectedVersion) {
		res.Report(h.cfg.OnDiagnostic, instrument.Diagnostic{
			Device:   "gauge",
			Kind:     instrument.KindIdentity,
			Command:  "VER",
			Response: res.Raw,
			Detail:   fmt.Sprintf("expected %q; wrong device or connection failed", h.cfg.ExpectedVersion),
		})
	}
	return res, nil
}

// Read polls pressure and ignition state into a Reading. Diagnostics from
// both exchanges are returned alongside it.
func (h *Hornet) Read() (*Reading, []instrument.Diagnostic, error) {
	p, err := h.Pressure()
	diags := p.Diagnostics
	if err != nil {
		return nil, diags, err
	}
	ig, err := h.IgnitionStatus()
	diags = append(diags, ig.Diagnostics...)
	if err != nil {
		return nil, diags, err
	}
	return &Reading{
		Pressure:   p.Value,
		Valid:      PressureValid(p.Value),
		IgnitionOn: ig.Value,
		Stamp:      time.Now().UnixMilli(),
	}, diags, nil
}

// PressureValid reports whether p is a physical reading rather than the
// off-scale value the gauge returns while unlit.
func PressureValid(p float64) bool {
	return p > 0 && p < invalidPressure
}

// payload returns everything after the status, address and separator.
func payload(s string) string {
	if len(s) <= payloadOffset {
		return ""
	}
	return s[payloadOffset:]
}
