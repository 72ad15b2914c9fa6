package client

import (
	"context"
	"errors"

	"github.com/danmuck/edgestream/internal/capture"
	"github.com/danmuck/edgestream/internal/config"
	"github.com/danmuck/edgestream/internal/observability"
	"github.com/danmuck/edgestream/internal/sink"
	"github.com/danmuck/edgestream/internal/stream"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrNoFrameSource = errors.New("client: image_dir is required")

// Sinks builds the consumers named by cfg. The returned close func flushes
// and releases every sink that owns a resource.
func Sinks(cfg config.Config) (stream.Consumers, func(), error) {
	consumers := stream.Consumers{sink.NewLog(observability.ComponentLogger("sink.log", ""))}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.LatencyLog != "" {
		l, err := sink.OpenLatencyLog(cfg.LatencyLog)
		if err != nil {
			return nil, nil, err
		}
		consumers = append(consumers, l)
		closers = append(closers, func() {
			if err := l.Close(); err != nil {
				log.Warn().Str("component", "client").Err(err).Msg("close latency log")
			}
		})
	}
	if cfg.MQTT.Broker != "" {
		m, err := sink.DialMQTT(sink.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      byte(cfg.MQTT.QoS),
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		consumers = append(consumers, m)
		closers = append(closers, m.Close)
	}
	return consumers, closeAll, nil
}

// RunApp streams the images in cfg.ImageDir to the configured server until
// ctx is cancelled.
func RunApp(ctx context.Context, cfg config.Config) error {
	if cfg.ImageDir == "" {
		return ErrNoFrameSource
	}
	src, err := capture.LoadDir(cfg.ImageDir, cfg.ImageFPS, true)
	if err != nil {
		return err
	}
	consumers, closeSinks, err := Sinks(cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	frames := capture.NewLatestFrame()
	svc, err := NewService(cfg, frames, consumers)
	if err != nil {
		return err
	}
	log.Info().
		Str("component", "client").
		Str("transport", string(cfg.Transport)).
		Str("image_dir", cfg.ImageDir).
		Int("images", src.Len()).
		Msg("client starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := src.Run(gctx, frames); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error { return svc.Run(gctx) })
	err = g.Wait()

	stats := frames.Stats()
	log.Info().
		Str("component", "client").
		Int64("sessions", svc.Sessions()).
		Uint64("frames_published", stats.Published).
		Uint64("frames_dropped", stats.Dropped).
		Msg("client stopped")
	return err
}
