package ionpump

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shaunagostinho/vacdash/internal/instrument"
)

// Current range selectors held in the top two bits of the "I" reply.
// Each selects the size of one mantissa step in nA.
const (
	rangeLow  = 0b00 // 0-10 uA, 1 nA steps
	rangeMid  = 0b01 // 10 uA-1 mA, 100 nA steps
	rangeHigh = 0b10 // 1-100 mA, 10 uA steps

	mantissaBits = 14
	mantissaMask = 1<<mantissaBits - 1
)

var rangeStep = map[uint64]float64{
	rangeLow:  1.0,
	rangeMid:  100.0,
	rangeHigh: 10000.0,
}

// DecodeCurrent converts the controller's 16-bit hex current word to nA.
// Bits 15-14 select the step size and bits 13-0 count steps. The unused
// range code 11 is a *instrument.DecodeError.
func DecodeCurrent(hex string) (float64, error) {
	hex = strings.TrimSpace(hex)
	word, err := strconv.ParseUint(hex, 16, 16)
	if err != nil {
		return 0, &instrument.DecodeError{Quantity: "current", Payload: hex, Err: err}
	}
	r := word >> mantissaBits
	step, ok := rangeStep[r]
	if !ok {
		return 0, &instrument.DecodeError{
			Quantity: "current",
			Payload:  hex,
			Err:      fmt.Errorf("range bits %02b not defined", r),
		}
	}
	return step * float64(word&mantissaMask), nil
}

// EncodeCurrent is the inverse of DecodeCurrent, choosing the finest range
// that can hold nA. Values are truncated to whole steps.
func EncodeCurrent(nA float64) (string, error) {
	if nA < 0 {
		return "", fmt.Errorf("%w: negative current %g nA", instrument.ErrInvalidArgument, nA)
	}
	for _, r := range []uint64{rangeLow, rangeMid, rangeHigh} {
		steps := uint64(nA / rangeStep[r])
		if steps <= mantissaMask {
			return fmt.Sprintf("%04X", r<<mantissaBits|steps), nil
		}
	}
	return "", fmt.Errorf("%w: current %g nA exceeds the high range", instrument.ErrInvalidArgument, nA)
}

// DecodeVoltage converts the controller's hex voltage reply (volts) to kV.
func DecodeVoltage(hex string) (float64, error) {
	hex = strings.TrimSpace(hex)
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, &instrument.DecodeError{Quantity: "voltage", Payload: hex, Err: err}
	}
	return 1e-3 * float64(v), nil
}
