// Package stream drives one streaming session: a send loop that paces
// captured frames against the credit ledger and a receive loop that resolves
// results and hands them to the consumer.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgestream/internal/capture"
	"github.com/danmuck/edgestream/internal/channel"
	"github.com/danmuck/edgestream/internal/clocksync"
	"github.com/danmuck/edgestream/internal/flow"
	"github.com/danmuck/edgestream/internal/observability"
	"github.com/danmuck/edgestream/internal/protocol/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval = 30 * time.Millisecond
	maxPollInterval     = time.Second
	endSyncTimeout      = 5 * time.Second
)

type Config struct {
	EngineName       string
	PayloadType      message.PayloadType
	PollInterval     time.Duration
	HoloCapture      bool
	ClockSyncTrials  int
	ClockSyncOnClose bool
}

type Session struct {
	id       string
	cfg      Config
	ch       channel.Channel
	ctrl     *flow.Controller
	frames   *capture.LatestFrame
	consumer Consumer
	log      zerolog.Logger

	nextID   atomic.Int64
	holoNext bool
	running  atomic.Bool
	now      func() time.Time
}

func NewSession(cfg Config, ch channel.Channel, ctrl *flow.Controller, frames *capture.LatestFrame, consumer Consumer) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollInterval > maxPollInterval {
		cfg.PollInterval = maxPollInterval
	}
	if cfg.ClockSyncTrials <= 0 {
		cfg.ClockSyncTrials = clocksync.DefaultTrials
	}
	if consumer == nil {
		consumer = ConsumerFunc(func(Delivery) {})
	}
	id := uuid.NewString()
	return &Session{
		id:       id,
		cfg:      cfg,
		ch:       ch,
		ctrl:     ctrl,
		frames:   frames,
		consumer: consumer,
		log:      observability.ComponentLogger("stream", id),
		holoNext: true,
		now:      time.Now,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Running() bool { return s.running.Load() }

func (s *Session) Ledger() flow.Snapshot { return s.ctrl.Snapshot() }

// Run streams until ctx is cancelled (returns nil) or either loop hits a
// fatal error (returned). The caller owns closing the channel.
func (s *Session) Run(ctx context.Context) error {
	s.log.Info().
		Str("engine", s.cfg.EngineName).
		Int64("credits", s.ctrl.Snapshot().Credits).
		Msg("session starting")

	if err := s.syncClock(ctx, "start"); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("stream: session %s: %w", s.id, err)
	}

	if g, ok := s.ch.(channel.GrantAnnouncer); ok && g.AnnouncesGrant() {
		s.ctrl.Grant(0)
		s.log.Info().Msg("waiting for server credit grant")
	}

	s.running.Store(true)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.sendLoop(gctx) })
	g.Go(func() error { return s.receiveLoop(gctx) })
	err := g.Wait()
	s.running.Store(false)

	if ctx.Err() != nil {
		err = nil
	}
	if err == nil && s.cfg.ClockSyncOnClose {
		endCtx, cancel := context.WithTimeout(context.Background(), endSyncTimeout)
		if syncErr := s.syncClock(endCtx, "end"); syncErr != nil {
			s.log.Warn().Err(syncErr).Msg("closing clock sync failed")
		}
		cancel()
	}

	snap := s.ctrl.Snapshot()
	s.log.Info().
		Int64("last_frame", s.nextID.Load()).
		Int64("credits", snap.Credits).
		Int("pending", snap.Pending).
		Int64("watermark", snap.Watermark).
		Err(err).
		Msg("session stopped")
	if err != nil {
		return fmt.Errorf("stream: session %s: %w", s.id, err)
	}
	return nil
}

func (s *Session) syncClock(ctx context.Context, phase string) error {
	pinger, ok := s.ch.(clocksync.Pinger)
	if !ok {
		s.log.Info().Str("phase", phase).Msg("transport has no clock sync endpoint, skipping")
		return nil
	}
	sample, err := clocksync.Run(ctx, pinger, s.cfg.ClockSyncTrials, s.now)
	if err != nil {
		return err
	}
	s.log.Info().
		Str("phase", phase).
		Dur("rtt", sample.RTT()).
		Dur("offset", sample.Offset()).
		Msg("clock sync")
	observability.RecordClockSync(phase, sample.RTT(), sample.Offset())
	if o, ok := s.consumer.(ClockObserver); ok {
		o.ObserveClock(s.id, phase, sample)
	}
	return nil
}

func (s *Session) sendLoop(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, ok := s.frames.TryTake()
		if !ok {
			timer.Reset(s.cfg.PollInterval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}
		if !s.ctrl.TryAcquire() {
			observability.RecordFrame("denied")
			continue
		}
		if err := s.submit(ctx, f); err != nil {
			return err
		}
	}
}

func (s *Session) submit(ctx context.Context, f capture.Frame) error {
	id := s.nextID.Add(1)
	holo := false
	if s.cfg.HoloCapture {
		holo = s.holoNext
		s.holoNext = !s.holoNext
	}
	rec := flow.SentRecord{
		FrameID:     id,
		GeneratedAt: f.CapturedAt,
		EncodedAt:   s.now(),
		Pose:        f.Pose,
	}
	if err := s.ctrl.RecordSent(rec); err != nil {
		return err
	}

	err := s.ch.Send(ctx, channel.Submission{
		FrameID:     id,
		Payload:     f.Data,
		HoloCapture: holo,
		PayloadType: s.cfg.PayloadType,
		EngineName:  s.cfg.EngineName,
	})
	if err != nil {
		s.ctrl.Abort(id)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	observability.RecordFrame("sent")
	s.log.Trace().Int64("frame_id", id).Bool("holo_capture", holo).Int("bytes", len(f.Data)).Msg("frame sent")
	return nil
}

func (s *Session) receiveLoop(ctx context.Context) error {
	for {
		in, err := s.ch.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		switch {
		case in.Welcome != nil:
			s.ctrl.Grant(in.Welcome.Credits)
			s.log.Info().Int("credits", in.Welcome.Credits).Strs("engines", in.Welcome.Engines).Msg("credit grant")
		case in.Result != nil:
			s.resolve(in.Result)
		default:
			return errors.New("stream: empty inbound record")
		}
	}
}

func (s *Session) resolve(r *channel.Result) {
	rec := r.Record
	sent, found := s.ctrl.OnResult(rec)

	d := Delivery{
		SessionID:     s.id,
		FrameID:       rec.FrameID,
		EngineID:      rec.EngineID,
		Status:        rec.Status,
		ReceivedAt:    rec.ReceivedAt,
		ResultReadyAt: rec.ResultReadyAt,
		Guidance:      r.Guidance,
	}
	if found {
		d.Sent = &sent
		d.GeneratedAt = sent.GeneratedAt
		d.EncodedAt = sent.EncodedAt
	}
	observability.RecordResult(rec.EngineID, string(rec.Status), r.Superseded, d.Latency())

	event := s.log.Debug()
	if !rec.Status.Success() {
		event = s.log.Warn()
	}
	event.
		Int64("frame_id", rec.FrameID).
		Str("engine_id", rec.EngineID).
		Str("status", string(rec.Status)).
		Bool("matched", found).
		Bool("superseded", r.Superseded).
		Msg("result")

	if r.Superseded {
		return
	}
	s.consumer.Consume(d)
}
