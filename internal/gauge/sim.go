package gauge

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Simulator is a transport.Device that behaves like an IGM401 on the bus:
// it answers only frames carrying its own address and follows a pump-down
// curve for pressure.
type Simulator struct {
	mu      sync.Mutex
	addr    string
	version string
	start   time.Time
	lit     bool
	now     func() time.Time
}

// NewSimulator returns a lit simulated gauge at addr.
func NewSimulator(addr string) *Simulator {
	if addr == "" {
		addr = DefaultAddress
	}
	return &Simulator{
		addr:    addr,
		version: DefaultExpectedVersion,
		start:   time.Now(),
		lit:     true,
		now:     time.Now,
	}
}

// SetLit switches the simulated ion gauge on or off.
func (s *Simulator) SetLit(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lit = on
}

func (s *Simulator) Respond(frame []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := strings.TrimRight(string(frame), "\r\n")
	if len(line) < 3 || line[0] != '#' {
		return nil
	}
	if line[1:3] != s.addr {
		return nil // another drop on the bus
	}

	var body string
	switch cmd := line[3:]; cmd {
	case "VER":
		body = s.version
	case "RD":
		body = fmt.Sprintf("%.2E", s.pressure())
	case "IGS":
		if s.lit {
			body = "1 IGN ON"
		} else {
			body = "0 IGN OF"
		}
	default:
		return []byte(fmt.Sprintf("?%s SYNTX ER\r", s.addr))
	}
	return []byte(fmt.Sprintf("*%s %s\r", s.addr, body))
}

// pressure decays from 1e-3 torr towards a 2e-9 base with some noise.
func (s *Simulator) pressure() float64 {
	if !s.lit {
		return 9.90e9
	}
	t := s.now().Sub(s.start).Hours()
	p := 2e-9 + 1e-3*math.Exp(-t/0.5) + 5e-7*math.Exp(-t/12)
	return p * (1 + 0.02*(rand.Float64()-0.5))
}
