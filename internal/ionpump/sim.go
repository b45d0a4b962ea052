package ionpump

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Simulator is a transport.Device that speaks the NIOPS-03 protocol:
// ACK/NAK for commands, prepared answers fetched with ENQ, CR LF endings.
type Simulator struct {
	mu       sync.Mutex
	version  string
	volts    int
	hvOn     bool
	negOn    bool
	mode     ActivationMode
	prepared string
	start    time.Time
}

// NewSimulator returns a running simulated controller at 5000 V.
func NewSimulator() *Simulator {
	return &Simulator{
		version: DefaultExpectedVersion,
		volts:   5000,
		hvOn:    true,
		mode:    Activation,
		start:   time.Now(),
	}
}

func (s *Simulator) Respond(frame []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := strings.TrimRight(string(frame), "\r\n")
	switch {
	case cmd == string(ENQ):
		out := s.prepared
		s.prepared = ""
		if out == "" {
			return nil
		}
		return line(out)
	case cmd == "V":
		return line(s.version)
	case cmd == "TS":
		return line(s.status())
	case cmd == "I":
		hex, err := EncodeCurrent(s.current())
		if err != nil {
			return nak()
		}
		return s.prepare(hex)
	case cmd == "U":
		return s.prepare(fmt.Sprintf("%04X", s.outputVolts()))
	case strings.HasPrefix(cmd, "U") && len(cmd) == 5:
		v, err := strconv.Atoi(cmd[1:])
		if err != nil || v < MinVoltage || v > MaxVoltage {
			return nak()
		}
		s.volts = v
		return s.prepare("")
	case cmd == "TT":
		return s.prepare(fmt.Sprintf("%.1E Torr", s.current()*1e-9/65))
	case cmd == "TK":
		return s.prepare("Pump Constant 65 A/Torr")
	case cmd == "TM":
		h := time.Since(s.start).Hours()
		return s.prepare(fmt.Sprintf("Pump ON time %d h", int(h)))
	case cmd == "G":
		s.hvOn = true
		return ack()
	case cmd == "B":
		s.hvOn = false
		return ack()
	case cmd == "GN":
		s.negOn = true
		return ack()
	case cmd == "BN":
		s.negOn = false
		return ack()
	case len(cmd) == 2 && cmd[0] == 'M' && cmd[1] >= '1' && cmd[1] <= '4':
		s.mode = ActivationMode(cmd[1] - '0')
		return ack()
	}
	return nak()
}

func (s *Simulator) prepare(answer string) []byte {
	s.prepared = answer
	return ack()
}

func (s *Simulator) outputVolts() int {
	if !s.hvOn {
		return 0
	}
	return s.volts
}

// current falls off as the chamber pumps down, scaled by the voltage.
func (s *Simulator) current() float64 {
	if !s.hvOn {
		return 0
	}
	t := time.Since(s.start).Hours()
	nA := (40 + 8000*math.Exp(-t/2)) * float64(s.volts) / 5000
	return nA * (1 + 0.05*(rand.Float64()-0.5))
}

func (s *Simulator) status() string {
	hv, neg := "OFF", "OFF"
	if s.hvOn {
		hv = "ON"
	}
	if s.negOn {
		neg = "ON"
	}
	return fmt.Sprintf("IP %s, NP %s, MODE %d", hv, neg, int(s.mode))
}

func line(s string) []byte { return []byte(s + "\r\n") }
func ack() []byte          { return []byte{ACK, '\r', '\n'} }
func nak() []byte          { return []byte{NAK, '\r', '\n'} }
