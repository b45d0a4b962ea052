package ionpump

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/vacdash/internal/instrument"
	"github.com/shaunagostinho/vacdash/internal/transport"
	"github.com/shaunagostinho/vacdash/internal/transport/transporttest"
)

const (
	ackLine = "\x06\r\n"
	nakLine = "\x15\r\n"
	enqLine = "\x05\r"
)

func newFake(t *testing.T, replies ...string) (*NEXTorr, *transporttest.Fake, *transport.Loopback, *[]instrument.Diagnostic) {
	t.Helper()
	fake, link := transporttest.New(replies...)
	var seen []instrument.Diagnostic
	p := New(link, Config{
		OnDiagnostic: func(d instrument.Diagnostic) { seen = append(seen, d) },
	})
	return p, fake, link, &seen
}

func TestWriteSwallowsTrailingLF(t *testing.T) {
	p, fake, link, _ := newFake(t, "NIOPS.3 Feb 24 2014\r\n")

	s, err := p.Write("V")
	require.NoError(t, err)
	assert.Equal(t, "NIOPS.3 Feb 24 2014", s)
	assert.Zero(t, link.Pending(), "LF must be consumed")
	assert.Equal(t, []string{"V\r"}, fake.Frames())
}

func TestWriteCROnly(t *testing.T) {
	p, _, link, _ := newFake(t, "NIOPS.3 Feb 24 2014\r")

	s, err := p.Write("V")
	require.NoError(t, err)
	assert.Equal(t, "NIOPS.3 Feb 24 2014", s)
	assert.Zero(t, link.Pending())
}

func TestQueryAckThenEnq(t *testing.T) {
	p, fake, _, seen := newFake(t, ackLine, "4001\r\n")

	res, err := p.Query("I")
	require.NoError(t, err)
	assert.Equal(t, "4001", res.Value)
	assert.True(t, res.Clean())
	assert.Empty(t, *seen)
	assert.Equal(t, []string{"I\r", enqLine}, fake.Frames())
}

func TestQueryNakStillSendsEnq(t *testing.T) {
	p, fake, _, seen := newFake(t, nakLine, "0001\r\n")

	res, err := p.Query("I")
	require.NoError(t, err)
	assert.Equal(t, "0001", res.Value)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, instrument.KindNAK, res.Diagnostics[0].Kind)
	assert.ErrorIs(t, res.Err(), instrument.ErrDeviceRejected)
	assert.Len(t, *seen, 1)
	assert.Equal(t, []string{"I\r", enqLine}, fake.Frames())
}

func TestQueryUnrecognizedReplies(t *testing.T) {
	tests := []struct {
		name  string
		first string
	}{
		{"other control byte", "$\r\n"},
		{"multi byte", "OK\r\n"},
		{"timeout", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, fake, _, _ := newFake(t, tt.first, "1388\r\n")
			res, err := p.Query("U")
			require.NoError(t, err)
			assert.Equal(t, "1388", res.Value)
			require.Len(t, res.Diagnostics, 1)
			assert.Equal(t, instrument.KindUnrecognized, res.Diagnostics[0].Kind)
			assert.ErrorIs(t, res.Err(), instrument.ErrFraming)
			assert.Len(t, fake.Frames(), 2)
		})
	}
}

func TestQueryEnqWithNothingPrepared(t *testing.T) {
	p, _, _, _ := newFake(t, ackLine, "")
	res, err := p.Query("G")
	require.NoError(t, err)
	assert.Equal(t, "", res.Value)
	assert.True(t, res.Clean())
}

func TestCurrent(t *testing.T) {
	tests := []struct {
		hex  string
		want float64
	}{
		{"0001", 1.0},
		{"4001", 100.0},
		{"8000", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.hex, func(t *testing.T) {
			p, _, _, _ := newFake(t, ackLine, tt.hex+"\r\n")
			res, err := p.Current()
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Value)
			assert.Equal(t, tt.hex, res.Raw)
		})
	}
}

func TestCurrentInvalidRange(t *testing.T) {
	p, _, _, _ := newFake(t, ackLine, "C001\r\n")
	res, err := p.Current()
	require.Error(t, err)
	assert.ErrorIs(t, err, instrument.ErrDecode)
	assert.Equal(t, "C001", res.Raw)
	assert.Zero(t, res.Value)
}

func TestVoltage(t *testing.T) {
	p, fake, _, _ := newFake(t, ackLine, "1388\r\n")
	res, err := p.Voltage()
	require.NoError(t, err)
	assert.InDelta(t, 5.0, res.Value, 1e-12)
	assert.Equal(t, []string{"U\r", enqLine}, fake.Frames())
}

func TestSetVoltage(t *testing.T) {
	p, fake, _, _ := newFake(t, ackLine, "")
	res, err := p.SetVoltage(3000)
	require.NoError(t, err)
	assert.True(t, res.Clean())
	assert.Equal(t, []string{"U3000\r", enqLine}, fake.Frames())
}

func TestSetVoltageOutOfRangeSendsNothing(t *testing.T) {
	for _, v := range []int{6500, 1199, 0, -5, 6001} {
		p, fake, _, _ := newFake(t, ackLine)
		_, err := p.SetVoltage(v)
		require.Error(t, err)
		assert.ErrorIs(t, err, instrument.ErrInvalidArgument)
		assert.Empty(t, fake.Frames(), "voltage %d", v)
	}
}

func TestPassThroughQueries(t *testing.T) {
	tests := []struct {
		name string
		call func(*NEXTorr) (instrument.Result[string], error)
		cmd  string
	}{
		{"pressure", (*NEXTorr).Pressure, "TT\r"},
		{"pump constant", (*NEXTorr).PumpConstant, "TK\r"},
		{"on time", (*NEXTorr).OnTime, "TM\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, fake, _, _ := newFake(t, ackLine, "free text 65\r\n")
			res, err := tt.call(p)
			require.NoError(t, err)
			assert.Equal(t, "free text 65", res.Value)
			assert.Equal(t, []string{tt.cmd, enqLine}, fake.Frames())
		})
	}
}

func TestDirectCommands(t *testing.T) {
	p, fake, _, _ := newFake(t, "IP ON, NP OFF\r\n", "NIOPS.3 Feb 24 2014\r\n")

	st, err := p.Status()
	require.NoError(t, err)
	assert.Equal(t, "IP ON, NP OFF", st.Value)

	v, err := p.Version()
	require.NoError(t, err)
	assert.Equal(t, "NIOPS.3 Feb 24 2014", v.Value)

	assert.Equal(t, []string{"TS\r", "V\r"}, fake.Frames())
}

func TestControlCommands(t *testing.T) {
	tests := []struct {
		name string
		call func(*NEXTorr) (instrument.Result[string], error)
		cmd  string
	}{
		{"pump on", (*NEXTorr).PumpOn, "G\r"},
		{"pump off", (*NEXTorr).PumpOff, "B\r"},
		{"neg on", (*NEXTorr).NEGOn, "GN\r"},
		{"neg off", (*NEXTorr).NEGOff, "BN\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, fake, _, _ := newFake(t, ackLine)
			res, err := tt.call(p)
			require.NoError(t, err)
			assert.True(t, res.Clean())
			assert.Equal(t, []string{tt.cmd}, fake.Frames(), "no ENQ for acknowledge-only commands")
		})
	}
}

func TestControlCommandRejected(t *testing.T) {
	p, _, _, seen := newFake(t, nakLine)
	res, err := p.NEGOn()
	require.NoError(t, err)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, instrument.KindNAK, res.Diagnostics[0].Kind)
	assert.Len(t, *seen, 1)
}

func TestSetActivationMode(t *testing.T) {
	p, fake, _, _ := newFake(t, ackLine)
	_, err := p.SetActivationMode(TimedConditioning)
	require.NoError(t, err)
	assert.Equal(t, []string{"M4\r"}, fake.Frames())

	_, err = p.SetActivationMode(ActivationMode(7))
	assert.ErrorIs(t, err, instrument.ErrInvalidArgument)
	assert.Len(t, fake.Frames(), 1)
}

func TestSelfTestIdentityMismatch(t *testing.T) {
	p, _, _, seen := newFake(t, "NIOPS.2 Jan 01 2010\r\n")
	res, err := p.SelfTest()
	require.NoError(t, err)
	assert.Equal(t, "NIOPS.2 Jan 01 2010", res.Value)
	require.Len(t, *seen, 1)
	assert.Equal(t, instrument.KindIdentity, (*seen)[0].Kind)
}

func TestVersionIdempotent(t *testing.T) {
	fake, link := transporttest.New("NIOPS.3 Feb 24 2014\r\n")
	fake.Repeat = true
	p := New(link, Config{})
	for i := 0; i < 5; i++ {
		v, err := p.Version()
		require.NoError(t, err)
		assert.Equal(t, "NIOPS.3 Feb 24 2014", v.Value)
	}
}

func TestSimulator(t *testing.T) {
	sim := NewSimulator()
	p := New(transport.NewLoopback(sim), Config{QueryDelay: 1})

	v, err := p.SelfTest()
	require.NoError(t, err)
	assert.True(t, v.Clean())

	r, diags, err := p.Read()
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.InDelta(t, 5.0, r.Voltage, 1e-12)
	assert.Greater(t, r.Current, 0.0)

	_, err = p.SetVoltage(3000)
	require.NoError(t, err)
	vr, err := p.Voltage()
	require.NoError(t, err)
	assert.InDelta(t, 3.0, vr.Value, 1e-12)

	_, err = p.PumpOff()
	require.NoError(t, err)
	st, err := p.Status()
	require.NoError(t, err)
	assert.Contains(t, st.Value, "IP OFF")

	res, err := p.Command("XX")
	require.NoError(t, err)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, instrument.KindNAK, res.Diagnostics[0].Kind)
}
