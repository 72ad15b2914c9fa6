// Package sink holds stream consumers: structured logging, a latency TSV
// file, and an MQTT publisher.
package sink

import (
	"github.com/danmuck/edgestream/internal/clocksync"
	"github.com/danmuck/edgestream/internal/stream"
	"github.com/rs/zerolog"
)

// Log writes one structured line per delivery.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "sink.log").Logger()}
}

func (l *Log) Consume(d stream.Delivery) {
	event := l.logger.Info()
	if !d.Status.Success() {
		event = l.logger.Warn()
	}
	event = event.
		Str("session", d.SessionID).
		Int64("frame_id", d.FrameID).
		Str("engine_id", d.EngineID).
		Str("status", string(d.Status)).
		Dur("latency", d.Latency())
	if d.Guidance.Text != "" {
		event = event.Str("speech", d.Guidance.Text)
	}
	if len(d.Guidance.Image) > 0 {
		event = event.Int("image_bytes", len(d.Guidance.Image))
	}
	if p := d.Guidance.Position; p != nil {
		event = event.Float64("holo_x", p.X).Float64("holo_y", p.Y).Float64("holo_depth", p.Depth)
	}
	event.Msg("guidance")
}

func (l *Log) ObserveClock(sessionID, phase string, s clocksync.Sample) {
	l.logger.Info().
		Str("session", sessionID).
		Str("phase", phase).
		Time("sent", s.Sent).
		Int64("server_ms", s.Server).
		Time("received", s.Received).
		Dur("rtt", s.RTT()).
		Dur("offset", s.Offset()).
		Msg("clock sample")
}
