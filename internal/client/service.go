// Package client owns the process-level lifecycle: it dials the configured
// channel, runs one stream session per connection with a fresh credit
// ledger, reconnects with backoff and exposes readiness over the status
// listener.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgestream/internal/auth"
	"github.com/danmuck/edgestream/internal/capture"
	"github.com/danmuck/edgestream/internal/channel"
	"github.com/danmuck/edgestream/internal/config"
	"github.com/danmuck/edgestream/internal/flow"
	"github.com/danmuck/edgestream/internal/observability"
	"github.com/danmuck/edgestream/internal/protocol/frame"
	"github.com/danmuck/edgestream/internal/protocol/message"
	"github.com/danmuck/edgestream/internal/protocol/session"
	"github.com/danmuck/edgestream/internal/stream"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrSessionEnded = errors.New("client: session ended")

// DialFunc opens one channel to the server.
type DialFunc func(ctx context.Context) (channel.Channel, error)

type Service struct {
	cfg      config.Config
	frames   *capture.LatestFrame
	consumer stream.Consumer
	dial     DialFunc
	rng      *rand.Rand

	mu       sync.RWMutex
	current  *stream.Session
	sessions atomic.Int64
}

// NewService validates cfg and prepares a service that streams frames from
// the given slot to consumer.
func NewService(cfg config.Config, frames *capture.LatestFrame, consumer stream.Consumer) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if frames == nil {
		return nil, errors.New("client: frame source required")
	}
	s := &Service{
		cfg:      cfg,
		frames:   frames,
		consumer: consumer,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.dial = s.dialConfigured
	return s, nil
}

// WithDial replaces the channel factory.
func (s *Service) WithDial(dial DialFunc) *Service {
	s.dial = dial
	return s
}

func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil && s.current.Running()
}

// Ledger returns the active session's ledger snapshot, or nil when no
// session is connected.
func (s *Service) Ledger() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	return s.current.Ledger()
}

// Sessions reports how many sessions have been started.
func (s *Service) Sessions() int64 { return s.sessions.Load() }

// Run streams until ctx is cancelled. With reconnect disabled the first
// session failure is returned.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.StatusAddr == "" {
		return s.loop(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	statusCtx, stopStatus := context.WithCancel(gctx)
	g.Go(func() error {
		return observability.ServeStatus(statusCtx, s.cfg.StatusAddr, s)
	})
	g.Go(func() error {
		defer stopStatus()
		return s.loop(gctx)
	})
	return g.Wait()
}

func (s *Service) loop(ctx context.Context) error {
	sessCfg := s.cfg.SessionConfig()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		attempt++
		ch, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Str("component", "client").Int("attempt", attempt).Err(err).Msg("connect failed")
			if !session.ShouldRetry(s.cfg.MaxConnectAttempts, attempt) {
				return fmt.Errorf("client: connect: %w", err)
			}
			if err := session.SleepBackoff(ctx, sessCfg.Backoff, attempt, s.rng); err != nil {
				return nil
			}
			continue
		}

		attempt = 0
		err = s.runSession(ctx, ch)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = ErrSessionEnded
		}
		if !s.cfg.Reconnect {
			return err
		}
		log.Warn().Str("component", "client").Err(err).Msg("session lost, reconnecting")
		if err := session.SleepBackoff(ctx, sessCfg.Backoff, 1, s.rng); err != nil {
			return nil
		}
	}
}

func (s *Service) runSession(ctx context.Context, ch channel.Channel) error {
	defer ch.Close()

	payloadType, err := message.ParsePayloadType(s.cfg.PayloadType)
	if err != nil {
		return err
	}
	ctrl := flow.New(s.cfg.FlowConfig())
	sess := stream.NewSession(stream.Config{
		EngineName:       s.cfg.EngineName,
		PayloadType:      payloadType,
		PollInterval:     s.cfg.PollInterval.Std(),
		HoloCapture:      s.cfg.HoloCapture,
		ClockSyncTrials:  s.cfg.ClockSyncTrials,
		ClockSyncOnClose: s.cfg.ClockSyncOnClose,
	}, ch, ctrl, s.frames, s.consumer)

	s.sessions.Add(1)
	s.setCurrent(sess)
	defer s.setCurrent(nil)
	return sess.Run(ctx)
}

func (s *Service) setCurrent(sess *stream.Session) {
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
}

func (s *Service) dialConfigured(ctx context.Context) (channel.Channel, error) {
	sessCfg := s.cfg.SessionConfig()
	switch s.cfg.Transport {
	case config.TransportWebSocket:
		return channel.DialWebSocket(ctx, channel.WebSocketConfig{
			URL:     s.cfg.WebSocketURL,
			Header:  auth.BearerHeader(s.cfg.AuthToken),
			Session: sessCfg,
		})
	default:
		return channel.DialStream(ctx, channel.StreamConfig{
			Host:        s.cfg.ServerHost,
			ControlPort: s.cfg.ControlPort,
			VideoPort:   s.cfg.VideoPort,
			ResultPort:  s.cfg.ResultPort,
			Session:     sessCfg,
			Limits:      frame.DefaultLimits(),
		})
	}
}
