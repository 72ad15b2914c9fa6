// Package clocksync estimates the offset between the client and server
// clocks from repeated round trips, keeping the fastest one.
package clocksync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultTrials = 20

var ErrNoTrials = errors.New("clocksync: trials must be positive")

// Pinger sends the local send time and returns the server clock in Unix
// milliseconds.
type Pinger interface {
	Ping(ctx context.Context, sent time.Time) (int64, error)
}

// Sample is one round trip. Server is Unix milliseconds.
type Sample struct {
	Sent     time.Time
	Server   int64
	Received time.Time
}

func (s Sample) RTT() time.Duration {
	return s.Received.Sub(s.Sent)
}

// Offset is the server clock minus the midpoint of the round trip.
func (s Sample) Offset() time.Duration {
	mid := s.Sent.Add(s.RTT() / 2)
	return time.UnixMilli(s.Server).Sub(mid)
}

// Best returns the sample with the smallest RTT. Ties keep the earliest.
func Best(samples []Sample) (Sample, bool) {
	if len(samples) == 0 {
		return Sample{}, false
	}
	best := samples[0]
	for _, s := range samples[1:] {
		if s.RTT() < best.RTT() {
			best = s
		}
	}
	return best, true
}

// Run performs trials round trips and returns the minimum-RTT sample. Only
// the best sample so far is kept.
func Run(ctx context.Context, p Pinger, trials int, now func() time.Time) (Sample, error) {
	if trials <= 0 {
		return Sample{}, ErrNoTrials
	}
	if now == nil {
		now = time.Now
	}

	var (
		best Sample
		have bool
	)
	for i := 0; i < trials; i++ {
		if err := ctx.Err(); err != nil {
			return Sample{}, err
		}
		sent := now()
		server, err := p.Ping(ctx, sent)
		if err != nil {
			return Sample{}, fmt.Errorf("clocksync: trial %d: %w", i+1, err)
		}
		s := Sample{Sent: sent, Server: server, Received: now()}
		if !have || s.RTT() < best.RTT() {
			best, have = s, true
		}
	}

	log.Debug().
		Str("component", "clocksync").
		Int("trials", trials).
		Dur("rtt", best.RTT()).
		Dur("offset", best.Offset()).
		Msg("clock sync complete")
	return best, nil
}
