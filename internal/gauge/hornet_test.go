package gauge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/vacdash/internal/instrument"
	"github.com/shaunagostinho/vacdash/internal/transport"
	"github.com/shaunagostinho/vacdash/internal/transport/transporttest"
)

func newFake(t *testing.T, replies ...string) (*Hornet, *transporttest.Fake, *[]instrument.Diagnostic) {
	t.Helper()
	fake, link := transporttest.New(replies...)
	var seen []instrument.Diagnostic
	h := New(link, Config{
		Address:      "01",
		OnDiagnostic: func(d instrument.Diagnostic) { seen = append(seen, d) },
	})
	return h, fake, &seen
}

func TestQueryFraming(t *testing.T) {
	h, fake, _ := newFake(t, "*01 3351-101\r")

	res, err := h.Query("VER")
	require.NoError(t, err)
	assert.Equal(t, "*01 3351-101", res.Value)
	assert.True(t, res.Clean())
	assert.Equal(t, []string{"#01VER\r"}, fake.Frames())
}

func TestQueryValidation(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		kind  instrument.Kind
		cat   error
	}{
		{"short", "*01 1.2E-7\r", instrument.KindLength, instrument.ErrFraming},
		{"long", "*01 1.23E-07X\r", instrument.KindLength, instrument.ErrFraming},
		{"empty timeout", "", instrument.KindLength, instrument.ErrFraming},
		{"error status", "?01 SYNTX ER\r", instrument.KindErrorStatus, instrument.ErrDeviceRejected},
		{"unknown status", "!01 1.23E-07\r", instrument.KindUnknownStatus, instrument.ErrFraming},
		{"wrong address", "*02 1.23E-07\r", instrument.KindAddress, instrument.ErrFraming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, seen := newFake(t, tt.reply)

			res, err := h.Query("RD")
			require.NoError(t, err, "framing problems never abort the call")
			require.Len(t, res.Diagnostics, 1)
			assert.Equal(t, tt.kind, res.Diagnostics[0].Kind)
			assert.ErrorIs(t, res.Err(), tt.cat)
			assert.Equal(t, res.Diagnostics, *seen)
		})
	}
}

func TestQueryReportsFirstFailureOnly(t *testing.T) {
	// wrong length and wrong status: only length is reported
	h, _, _ := newFake(t, "?02 BAD\r")
	res, err := h.Query("RD")
	require.NoError(t, err)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, instrument.KindLength, res.Diagnostics[0].Kind)
}

func TestPressure(t *testing.T) {
	h, fake, _ := newFake(t, "*01 1.23E-07\r")

	res, err := h.Pressure()
	require.NoError(t, err)
	assert.InDelta(t, 1.23e-7, res.Value, 1e-12)
	assert.True(t, res.Clean())
	assert.Equal(t, []string{"#01RD\r"}, fake.Frames())
}

func TestPressureMalformedStillReturnsValue(t *testing.T) {
	h, _, _ := newFake(t, "*07 4.50E-08\r")

	res, err := h.Pressure()
	require.NoError(t, err)
	assert.InDelta(t, 4.5e-8, res.Value, 1e-13)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, instrument.KindAddress, res.Diagnostics[0].Kind)
}

func TestPressureDecodeError(t *testing.T) {
	h, _, _ := newFake(t, "?01 SYNTX ER\r")

	res, err := h.Pressure()
	require.Error(t, err)
	assert.ErrorIs(t, err, instrument.ErrDecode)
	var de *instrument.DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "SYNTX ER", de.Payload)

	assert.Equal(t, "?01 SYNTX ER", res.Raw)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, instrument.KindErrorStatus, res.Diagnostics[0].Kind)
}

func TestVersion(t *testing.T) {
	h, _, _ := newFake(t, "*01 3351-101\r")
	res, err := h.Version()
	require.NoError(t, err)
	assert.Equal(t, "3351-101", res.Value)
}

func TestVersionIdempotent(t *testing.T) {
	fake, link := transporttest.New("*01 3351-101\r")
	fake.Repeat = true
	h := New(link, Config{})

	first, err := h.Version()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := h.Version()
		require.NoError(t, err)
		assert.Equal(t, first.Value, again.Value)
	}
	assert.Len(t, fake.Frames(), 6)
}

// The ignition flag is the presence of a character, not its value: a '0'
func TestIgnitionStatusCharacterTruthiness(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  bool
	}{
		{"one", "*01 1 IGN ON\r", true},
		{"zero is still on", "*01 0 IGN OF\r", true},
		{"letter", "*01 X IGN ??\r", true},
		{"too short", "*01\r", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, fake, _ := newFake(t, tt.reply)
			res, err := h.IgnitionStatus()
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Value)
			assert.Equal(t, []string{"#01IGS\r"}, fake.Frames())
		})
	}
}

func TestSelfTestIdentityMismatch(t *testing.T) {
	h, _, seen := newFake(t, "*01 1769-107\r")

	res, err := h.SelfTest()
	require.NoError(t, err)
	assert.Equal(t, "1769-107", res.Value)
	require.Len(t, *seen, 1)
	assert.Equal(t, instrument.KindIdentity, (*seen)[0].Kind)
	assert.ErrorIs(t, res.Err(), instrument.ErrWrongDevice)
}

func TestWriteTransportError(t *testing.T) {
	h, _, _ := newFake(t)
	require.NoError(t, h.Close())

	_, err := h.Pressure()
	assert.ErrorIs(t, err, instrument.ErrConnection)
}

func TestSimulator(t *testing.T) {
	sim := NewSimulator("01")
	h := New(transport.NewLoopback(sim), Config{Address: "01"})

	v, err := h.SelfTest()
	require.NoError(t, err)
	assert.True(t, v.Clean())

	r, diags, err := h.Read()
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.True(t, r.Valid)
	assert.True(t, r.IgnitionOn)
	assert.Greater(t, r.Pressure, 1e-9)

	sim.SetLit(false)
	r, _, err = h.Read()
	require.NoError(t, err)
	assert.False(t, r.Valid)
}

func TestSimulatorIgnoresOtherAddresses(t *testing.T) {
	sim := NewSimulator("01")
	h := New(transport.NewLoopback(sim), Config{Address: "02"})

	res, err := h.Version()
	require.NoError(t, err)
	assert.Empty(t, res.Raw)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, instrument.KindLength, res.Diagnostics[0].Kind)
}

func TestSimulatorUnknownCommand(t *testing.T) {
	h := New(transport.NewLoopback(NewSimulator("01")), Config{})
	res, err := h.Query("XYZ")
	require.NoError(t, err)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, instrument.KindErrorStatus, res.Diagnostics[0].Kind)
}

func TestPressureValid(t *testing.T) {
	assert.True(t, PressureValid(1.2e-9))
	assert.False(t, PressureValid(9.9e9))
	assert.False(t, PressureValid(0))
}
