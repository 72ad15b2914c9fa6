package stream

import (
	"time"

	"github.com/danmuck/edgestream/internal/channel"
	"github.com/danmuck/edgestream/internal/clocksync"
	"github.com/danmuck/edgestream/internal/flow"
)

// Delivery is one resolved frame handed to the consumer.
type Delivery struct {
	SessionID     string
	FrameID       int64
	EngineID      string
	Status        flow.Status
	GeneratedAt   time.Time
	EncodedAt     time.Time
	ReceivedAt    time.Time
	ResultReadyAt time.Time
	// Sent is nil when the sent record was already resolved, e.g. a late
	// result after its frame was swept.
	Sent     *flow.SentRecord
	Guidance channel.Guidance
}

// Latency is capture-to-receipt time, or zero when either end is unknown.
func (d Delivery) Latency() time.Duration {
	if d.GeneratedAt.IsZero() || d.ReceivedAt.IsZero() {
		return 0
	}
	return d.ReceivedAt.Sub(d.GeneratedAt)
}

type Consumer interface {
	Consume(Delivery)
}

type ConsumerFunc func(Delivery)

func (f ConsumerFunc) Consume(d Delivery) { f(d) }

// ClockObserver is implemented by consumers that record clock sync samples.
// Phase is "start" or "end".
type ClockObserver interface {
	ObserveClock(sessionID, phase string, s clocksync.Sample)
}

// Consumers fans each delivery out to every member in order.
type Consumers []Consumer

func (cs Consumers) Consume(d Delivery) {
	for _, c := range cs {
		c.Consume(d)
	}
}

func (cs Consumers) ObserveClock(sessionID, phase string, s clocksync.Sample) {
	for _, c := range cs {
		if o, ok := c.(ClockObserver); ok {
			o.ObserveClock(sessionID, phase, s)
		}
	}
}
