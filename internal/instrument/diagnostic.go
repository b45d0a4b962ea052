package instrument

import (
	"errors"
	"fmt"
)

// Kind classifies a protocol anomaly that did not abort the exchange.
type Kind int

const (
	// KindLength: response length differs from the fixed frame length.
	KindLength Kind = iota
	// KindErrorStatus: the gauge answered with a '?' status character.
	KindErrorStatus
	// KindUnknownStatus: the status character is neither '*' nor '?'.
	KindUnknownStatus
	// KindAddress: the echoed RS-485 address is not ours.
	KindAddress
	// KindNAK: the controller answered <NAK>.
	KindNAK
	// KindUnrecognized: the acknowledge phase returned something other
	// than a single ACK/NAK byte.
	KindUnrecognized
	// KindIdentity: the self-test version string did not contain the
	// expected model identifier.
	KindIdentity
)

var kindNames = map[Kind]string{
	KindLength:        "length",
	KindErrorStatus:   "error_status",
	KindUnknownStatus: "unknown_status",
	KindAddress:       "address",
	KindNAK:           "nak",
	KindUnrecognized:  "unrecognized",
	KindIdentity:      "identity",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown diagnostic kind %q", text)
}

// Category returns the sentinel error this kind of anomaly belongs to.
func (k Kind) Category() error {
	switch k {
	case KindErrorStatus, KindNAK:
		return ErrDeviceRejected
	case KindIdentity:
		return ErrWrongDevice
	default:
		return ErrFraming
	}
}

// Diagnostic is a structured warning attached to a best-effort result.
type Diagnostic struct {
	Device   string `json:"device"`
	Kind     Kind   `json:"kind"`
	Command  string `json:"command"`
	Response string `json:"response"`
	Detail   string `json:"detail,omitempty"`
}

func (d Diagnostic) Error() string {
	msg := fmt.Sprintf("%s: %v (%s) on %q: response %q", d.Device, d.Kind.Category(), d.Kind, d.Command, d.Response)
	if d.Detail != "" {
		msg += ": " + d.Detail
	}
	return msg
}

func (d Diagnostic) Unwrap() error { return d.Kind.Category() }

// DiagnosticFunc receives every diagnostic a driver produces, as it happens.
type DiagnosticFunc func(Diagnostic)

// Result carries a decoded value together with the raw response it came
// from and any anomalies observed on the way.
type Result[T any] struct {
	Value       T
	Raw         string
	Diagnostics []Diagnostic
}

// Report appends d and forwards it to hook when one is set.
func (r *Result[T]) Report(hook DiagnosticFunc, d Diagnostic) {
	r.Diagnostics = append(r.Diagnostics, d)
	if hook != nil {
		hook(d)
	}
}

// Clean reports whether the exchange produced no diagnostics.
func (r Result[T]) Clean() bool { return len(r.Diagnostics) == 0 }

// Err joins the diagnostics into one error, or returns nil when clean.
func (r Result[T]) Err() error {
	if r.Clean() {
		return nil
	}
	errs := make([]error, len(r.Diagnostics))
	for i, d := range r.Diagnostics {
		errs[i] = d
	}
	return errors.Join(errs...)
}

// Carry copies raw and diagnostics from src into a result of another type.
func Carry[T, U any](src Result[U], value T) Result[T] {
	return Result[T]{Value: value, Raw: src.Raw, Diagnostics: src.Diagnostics}
}
