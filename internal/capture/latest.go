// Package capture holds the hand-off point between frame producers and the
// send loop.
package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgestream/internal/flow"
)

// Frame is one captured, already encoded image. Data must not be modified
// after Publish.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
	Pose       *flow.Pose
}

// LatestFrame is a single-slot mailbox. Publishing over an unconsumed frame
// replaces it and counts a drop; consumers always see the newest frame.
type LatestFrame struct {
	mu     sync.Mutex
	frame  *Frame
	drops  atomic.Uint64
	posted atomic.Uint64
}

func NewLatestFrame() *LatestFrame {
	return &LatestFrame{}
}

func (l *LatestFrame) Publish(f Frame) {
	l.mu.Lock()
	if l.frame != nil {
		l.drops.Add(1)
	}
	l.frame = &f
	l.posted.Add(1)
	l.mu.Unlock()
}

// Ready reports whether a frame is waiting in the slot.
func (l *LatestFrame) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frame != nil
}

// TryTake empties the slot without blocking.
func (l *LatestFrame) TryTake() (Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frame == nil {
		return Frame{}, false
	}
	f := *l.frame
	l.frame = nil
	return f, true
}

type Stats struct {
	Published uint64
	Dropped   uint64
}

func (l *LatestFrame) Stats() Stats {
	return Stats{Published: l.posted.Load(), Dropped: l.drops.Load()}
}
