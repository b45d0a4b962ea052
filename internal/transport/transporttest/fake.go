// Package transporttest provides a scripted instrument for driver tests.
package transporttest

import (
	"sync"

	"github.com/shaunagostinho/vacdash/internal/transport"
)

// Fake is a transport.Device that records every frame it receives and
// answers with canned replies in order. Once the script is exhausted it
// stays silent, which the driver sees as a read timeout.
type Fake struct {
	mu      sync.Mutex
	replies []string
	frames  []string
	Repeat  bool // when true the last reply is repeated forever
}

// New returns a fake device and a loopback transport attached to it.
func New(replies ...string) (*Fake, *transport.Loopback) {
	f := &Fake{replies: replies}
	return f, transport.NewLoopback(f)
}

func (f *Fake) Respond(frame []byte) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, string(frame))
	if len(f.replies) == 0 {
		return nil
	}
	r := f.replies[0]
	if len(f.replies) > 1 || !f.Repeat {
		f.replies = f.replies[1:]
	}
	return []byte(r)
}

// Push appends replies to the script.
func (f *Fake) Push(replies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, replies...)
}

// Frames returns every frame written so far.
func (f *Fake) Frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}
