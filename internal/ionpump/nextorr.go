// Package ionpump drives the NIOPS-03 power supply that runs a NEXTorr
// D100-5 ion/NEG pump.
//
// Most commands are answered with a single <ACK> or <NAK>. Data is prepared
// by the controller and must then be fetched with a bare <ENQ>. Version and
// status commands answer directly. Lines end in CR with an optional LF.
package ionpump

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shaunagostinho/vacdash/internal/instrument"
	"github.com/shaunagostinho/vacdash/internal/transport"
)

// Transmission control bytes.
const (
	ENQ byte = 0x05
	ACK byte = 0x06
	NAK byte = 0x15
)

const (
	DefaultBaudRate        = 115200
	DefaultTimeout         = 500 * time.Millisecond
	DefaultENQDelay        = 10 * time.Millisecond
	DefaultQueryDelay      = 100 * time.Millisecond
	DefaultExpectedVersion = "NIOPS.3 Feb 24 2014"

	// Voltage set point limits in volts.
	MinVoltage = 1200
	MaxVoltage = 6000

	postOpenDelay = 50 * time.Millisecond
)

const (
	cr = '\r'
	lf = '\n'
)

// ActivationMode selects how the NEG element is activated.
type ActivationMode int

const (
	Activation ActivationMode = iota + 1
	TimedActivation
	Conditioning
	TimedConditioning
)

func (m ActivationMode) String() string {
	switch m {
	case Activation:
		return "activation"
	case TimedActivation:
		return "timed activation"
	case Conditioning:
		return "conditioning"
	case TimedConditioning:
		return "timed conditioning"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Config holds connection and pacing configuration for the controller.
//
// ENQDelay is the settle time between a command and its <ENQ>; the
// controller needs it to prepare the answer and shorter values give
// intermittent empty replies. QueryDelay is the spacing callers should leave
// between consecutive queries; only Read applies it.
type Config struct {
	PortPath        string        `yaml:"port_path" json:"portPath"`
	BaudRate        int           `yaml:"baud_rate" json:"baudRate"`
	Timeout         time.Duration `yaml:"-" json:"-"`
	ENQDelay        time.Duration `yaml:"-" json:"-"`
	QueryDelay      time.Duration `yaml:"-" json:"-"`
	ExpectedVersion string        `yaml:"expected_version" json:"expectedVersion"`

	OnDiagnostic instrument.DiagnosticFunc `yaml:"-" json:"-"`
}

// Reading is one polled pump sample.
type Reading struct {
	Voltage float64 `json:"voltage"` // kV
	Current float64 `json:"current"` // nA
	Stamp   int64   `json:"stamp"`   // Unix ms
}

// NEXTorr implements instrument.Protocol for the NIOPS-03 controller.
type NEXTorr struct {
	link transport.Transport
	cfg  Config
}

var _ instrument.Protocol = (*NEXTorr)(nil)

func (c *Config) applyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ENQDelay <= 0 {
		c.ENQDelay = DefaultENQDelay
	}
	if c.QueryDelay <= 0 {
		c.QueryDelay = DefaultQueryDelay
	}
	if c.ExpectedVersion == "" {
		c.ExpectedVersion = DefaultExpectedVersion
	}
}

// New wraps an already open transport. No I/O is performed.
func New(link transport.Transport, cfg Config) *NEXTorr {
	cfg.applyDefaults()
	return &NEXTorr{link: link, cfg: cfg}
}

// Open opens the serial port and runs the connection self-test.
func Open(cfg Config) (*NEXTorr, error) {
	cfg.applyDefaults()
	link, err := transport.Open(transport.Config{
		PortPath: cfg.PortPath,
		BaudRate: cfg.BaudRate,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("ionpump: %w", err)
	}
	p := New(link, cfg)
	time.Sleep(postOpenDelay)

	res, err := p.SelfTest()
	if err != nil {
		link.Close()
		return nil, fmt.Errorf("ionpump: self-test: %w", err)
	}
	log.Printf("[ionpump] connected to %s, version %q", cfg.PortPath, res.Value)
	return p, nil
}

func (p *NEXTorr) Name() string { return "NEXTorr D100-5 (NIOPS-03)" }

func (p *NEXTorr) Close() error { return p.link.Close() }

// QueryDelay returns the configured spacing between consecutive queries.
func (p *NEXTorr) QueryDelay() time.Duration { return p.cfg.QueryDelay }

// Write sends command + CR and returns the reply line. One extra single
// byte read swallows the LF that may follow the CR; if none comes the read
// just times out.
func (p *NEXTorr) Write(command string) (string, error) {
	if err := p.link.WriteFrame([]byte(command + string(cr))); err != nil {
		return "", fmt.Errorf("ionpump: %w", err)
	}
	if err := p.link.Flush(); err != nil {
		return "", fmt.Errorf("ionpump: %w", err)
	}
	resp, err := p.link.ReadUntil(cr)
	if err != nil {
		return "", fmt.Errorf("ionpump: %w", err)
	}
	if _, err := p.link.ReadAtMost(1); err != nil {
		return "", fmt.Errorf("ionpump: %w", err)
	}
	return strings.TrimSpace(string(resp)), nil
}

// Command sends an acknowledge-only command and classifies the reply.
func (p *NEXTorr) Command(command string) (instrument.Result[string], error) {
	s, err := p.Write(command)
	res := instrument.Result[string]{Value: s, Raw: s}
	if err != nil {
		return res, err
	}
	p.checkAck(&res, command, s)
	return res, nil
}

// Query runs the two-phase exchange: send the command and expect a single
// ACK, wait the settle delay, then send <ENQ> and return what the
// controller prepared. ENQ is sent even after a NAK; with nothing prepared
// it yields an empty string.
func (p *NEXTorr) Query(command string) (instrument.Result[string], error) {
	ack, err := p.Write(command)
	var res instrument.Result[string]
	if err != nil {
		return res, err
	}
	p.checkAck(&res, command, ack)

	time.Sleep(p.cfg.ENQDelay)

	s, err := p.Write(string(ENQ))
	res.Value, res.Raw = s, s
	return res, err
}

func (p *NEXTorr) checkAck(res *instrument.Result[string], command, reply string) {
	diag := instrument.Diagnostic{Device: "ionpump", Command: command, Response: reply}
	switch {
	case reply == string(ACK):
		return
	case reply == string(NAK):
		diag.Kind = instrument.KindNAK
	case len(reply) == 1:
		diag.Kind = instrument.KindUnrecognized
		diag.Detail = fmt.Sprintf("control byte 0x%02X", reply[0])
	default:
		diag.Kind = instrument.KindUnrecognized
		diag.Detail = fmt.Sprintf("expected one control byte, got %d", len(reply))
	}
	res.Report(p.cfg.OnDiagnostic, diag)
}

// Version returns the firmware identifier. It answers directly, no ENQ.
func (p *NEXTorr) Version() (instrument.Result[string], error) {
	s, err := p.Write("V")
	return instrument.Result[string]{Value: s, Raw: s}, err
}

// Status returns the raw "TS" status line.
func (p *NEXTorr) Status() (instrument.Result[string], error) {
	s, err := p.Write("TS")
	return instrument.Result[string]{Value: s, Raw: s}, err
}

// SelfTest reads the version and checks it for the expected identifier.
func (p *NEXTorr) SelfTest() (instrument.Result[string], error) {
	res, err := p.Version()
	if err != nil {
		return res, err
	}
	if !strings.Contains(res.Value, p.cfg.ExpectedVersion) {
		res.Report(p.cfg.OnDiagnostic, instrument.Diagnostic{
			Device:   "ionpump",
			Kind:     instrument.KindIdentity,
			Command:  "V",
			Response: res.Raw,
			Detail:   fmt.Sprintf("expected %q; wrong device or connection failed", p.cfg.ExpectedVersion),
		})
	}
	return res, nil
}

// Current returns the ion pump current in nA.
func (p *NEXTorr) Current() (instrument.Result[float64], error) {
	res, err := p.Query("I")
	out := instrument.Carry(res, 0.0)
	if err != nil {
		return out, err
	}
	out.Value, err = DecodeCurrent(res.Value)
	return out, err
}

// Voltage returns the ion pump voltage in kV.
func (p *NEXTorr) Voltage() (instrument.Result[float64], error) {
	res, err := p.Query("U")
	out := instrument.Carry(res, 0.0)
	if err != nil {
		return out, err
	}
	out.Value, err = DecodeVoltage(res.Value)
	return out, err
}

// SetVoltage sets the pump voltage in volts. Values outside
// [MinVoltage, MaxVoltage] are rejected before anything is sent.
func (p *NEXTorr) SetVoltage(volts int) (instrument.Result[string], error) {
	if volts < MinVoltage || volts > MaxVoltage {
		return instrument.Result[string]{}, fmt.Errorf("%w: voltage %d V outside [%d, %d]",
			instrument.ErrInvalidArgument, volts, MinVoltage, MaxVoltage)
	}
	return p.Query(fmt.Sprintf("U%04d", volts))
}

// Pressure returns the controller's pressure estimate as free text. It is
// derived from the current using the configured pump size.
func (p *NEXTorr) Pressure() (instrument.Result[string], error) { return p.Query("TT") }

// PumpConstant returns the current-to-pressure constant, e.g.
// "Pump Constant 65 A/Torr".
func (p *NEXTorr) PumpConstant() (instrument.Result[string], error) { return p.Query("TK") }

// OnTime returns the pump running time as reported by the controller.
// TODO: "TM" replies span several lines; only the first is read and the
// rest stays in the input buffer until the next exchange.
func (p *NEXTorr) OnTime() (instrument.Result[string], error) { return p.Query("TM") }

// PumpOn switches the ion pump high voltage on.
func (p *NEXTorr) PumpOn() (instrument.Result[string], error) { return p.Command("G") }

// PumpOff switches the ion pump high voltage off.
func (p *NEXTorr) PumpOff() (instrument.Result[string], error) { return p.Command("B") }

// NEGOn starts the NEG element using the selected activation mode.
func (p *NEXTorr) NEGOn() (instrument.Result[string], error) { return p.Command("GN") }

// NEGOff stops the NEG element.
func (p *NEXTorr) NEGOff() (instrument.Result[string], error) { return p.Command("BN") }

// SetActivationMode selects the NEG activation method.
func (p *NEXTorr) SetActivationMode(m ActivationMode) (instrument.Result[string], error) {
	if m < Activation || m > TimedConditioning {
		return instrument.Result[string]{}, fmt.Errorf("%w: activation mode %d outside 1-4",
			instrument.ErrInvalidArgument, int(m))
	}
	return p.Command(fmt.Sprintf("M%d", int(m)))
}

// Read polls voltage then current, leaving QueryDelay between them.
func (p *NEXTorr) Read() (*Reading, []instrument.Diagnostic, error) {
	v, err := p.Voltage()
	diags := v.Diagnostics
	if err != nil {
		return nil, diags, err
	}
	time.Sleep(p.cfg.QueryDelay)
	i, err := p.Current()
	diags = append(diags, i.Diagnostics...)
	if err != nil {
		return nil, diags, err
	}
	return &Reading{
		Voltage: v.Value,
		Current: i.Value,
		Stamp:   time.Now().UnixMilli(),
	}, diags, nil
}
