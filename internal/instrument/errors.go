package instrument

import (
	"errors"
	"fmt"
)

// Failure categories. Concrete errors wrap one of these so callers can
// branch with errors.Is.
var (
	// ErrConnection means the port could not be opened or the link died.
	ErrConnection = errors.New("connection error")
	// ErrFraming means a response did not match the device's frame contract.
	ErrFraming = errors.New("framing error")
	// ErrDeviceRejected means the device understood the frame but refused it.
	ErrDeviceRejected = errors.New("device rejected command")
	// ErrWrongDevice means the self-test identity string did not match.
	ErrWrongDevice = errors.New("unexpected device identity")
	// ErrDecode means a payload could not be parsed into its typed value.
	ErrDecode = errors.New("decode error")
	// ErrInvalidArgument means a caller-supplied value is out of range.
	ErrInvalidArgument = errors.New("invalid argument")
)

// DecodeError reports a payload that could not be turned into a value.
type DecodeError struct {
	Quantity string // e.g. "pressure", "current"
	Payload  string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s from %q: %v", e.Quantity, e.Payload, e.Err)
	}
	return fmt.Sprintf("decode %s from %q", e.Quantity, e.Payload)
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDecode}
	}
	return []error{ErrDecode, e.Err}
}
