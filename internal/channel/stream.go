package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/edgestream/internal/flow"
	"github.com/danmuck/edgestream/internal/protocol/frame"
	"github.com/danmuck/edgestream/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

type StreamConfig struct {
	Host        string
	ControlPort int
	VideoPort   int
	ResultPort  int
	Session     session.Config
	Limits      frame.Limits
}

func (c StreamConfig) addr(port int) string {
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// StreamChannel speaks the length-prefixed protocol over three connections:
// control (clock sync), video (submissions) and result.
type StreamChannel struct {
	cfg     StreamConfig
	control net.Conn
	video   net.Conn
	result  net.Conn

	controlMu sync.Mutex
	videoMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	now       func() time.Time
}

// DialStream connects control, video and result in that order.
func DialStream(ctx context.Context, cfg StreamConfig) (*StreamChannel, error) {
	cfg.Session = cfg.Session.WithDefaults()
	var conns []net.Conn
	for _, port := range []int{cfg.ControlPort, cfg.VideoPort, cfg.ResultPort} {
		conn, err := cfg.Session.Dial(ctx, cfg.addr(port))
		if err != nil {
			for _, c := range conns {
				_ = c.Close()
			}
			return nil, fmt.Errorf("channel: dial %s: %w", cfg.addr(port), err)
		}
		conns = append(conns, conn)
	}
	log.Info().
		Str("component", "channel").
		Str("host", cfg.Host).
		Int("control_port", cfg.ControlPort).
		Int("video_port", cfg.VideoPort).
		Int("result_port", cfg.ResultPort).
		Msg("stream channel connected")
	return NewStream(cfg, conns[0], conns[1], conns[2]), nil
}

// NewStream wraps already established connections.
func NewStream(cfg StreamConfig, control, video, result net.Conn) *StreamChannel {
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.Limits == (frame.Limits{}) {
		cfg.Limits = frame.DefaultLimits()
	}
	return &StreamChannel{
		cfg:     cfg,
		control: control,
		video:   video,
		result:  result,
		closed:  make(chan struct{}),
		now:     time.Now,
	}
}

func (c *StreamChannel) Send(ctx context.Context, sub Submission) error {
	if c.isClosed() {
		return &Error{Op: "send", Err: ErrClosed}
	}
	header, err := frame.EncodeHeader(frame.VideoHeader{FrameID: sub.FrameID, HoloCapture: sub.HoloCapture})
	if err != nil {
		return &Error{Op: "send", Err: err}
	}

	c.videoMu.Lock()
	defer c.videoMu.Unlock()
	_ = c.video.SetWriteDeadline(writeDeadline(ctx, c.cfg.Session.WriteTimeout))
	if err := frame.WriteFrame(c.video, frame.Frame{Header: header, Payload: sub.Payload}, c.cfg.Limits); err != nil {
		return transportError("send", err)
	}
	return nil
}

func (c *StreamChannel) Receive(ctx context.Context) (Inbound, error) {
	_ = c.result.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.result.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		f, err := frame.ReadFrame(c.result, c.cfg.Limits)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Inbound{}, ctxErr
			}
			if c.isClosed() {
				return Inbound{}, &Error{Op: "receive", Err: ErrClosed}
			}
			return Inbound{}, transportError("receive", err)
		}
		received := c.now()

		res, err := decodeStreamResult(f.Header)
		if err != nil {
			if IsFatal(err) {
				return Inbound{}, &Error{Op: "receive", Err: err}
			}
			log.Warn().Str("component", "channel").Err(err).Msg("skipping result")
			continue
		}
		res.Record.ReceivedAt = received
		res.Record.ResultReadyAt = c.now()
		return Inbound{Result: res}, nil
	}
}

func decodeStreamResult(raw []byte) (*Result, error) {
	h, err := frame.DecodeResult(raw)
	switch {
	case errors.Is(err, frame.ErrMissingStatus):
		return nil, ErrMissingStatus
	case errors.Is(err, frame.ErrMissingField):
		return nil, fmt.Errorf("%w: %w", ErrMissingField, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	res := &Result{Record: flow.ResultRecord{
		FrameID:  h.FrameID,
		EngineID: h.EngineID,
		Status:   flow.Status(h.Status),
	}}
	if !res.Record.Status.Success() {
		return res, nil
	}
	if h.Result == "" {
		log.Warn().Str("component", "channel").Int64("frame_id", h.FrameID).Msg("success result without guidance")
		return res, nil
	}
	body, err := frame.DecodeBody(h.Result)
	if err != nil {
		log.Warn().Str("component", "channel").Int64("frame_id", h.FrameID).Err(err).Msg("unreadable guidance")
		return res, nil
	}
	res.Guidance = Guidance{
		Text:  body.Speech,
		Image: body.Image,
		Raw:   []byte(h.Result),
	}
	if body.HoloX != nil && body.HoloY != nil {
		pos := &Position{X: *body.HoloX, Y: *body.HoloY}
		if body.HoloDepth != nil {
			pos.Depth = *body.HoloDepth
		}
		res.Guidance.Position = pos
	}
	return res, nil
}

// Ping performs one clock sync exchange on the control connection and returns
// the server's clock in Unix milliseconds.
func (c *StreamChannel) Ping(ctx context.Context, sent time.Time) (int64, error) {
	if c.isClosed() {
		return 0, &Error{Op: "ping", Err: ErrClosed}
	}
	header, err := frame.EncodeHeader(frame.ControlHeader{SyncTime: sent.UnixMilli()})
	if err != nil {
		return 0, &Error{Op: "ping", Err: err}
	}

	c.controlMu.Lock()
	defer c.controlMu.Unlock()
	_ = c.control.SetWriteDeadline(writeDeadline(ctx, c.cfg.Session.WriteTimeout))
	if err := frame.WriteFrame(c.control, frame.Frame{Header: header}, c.cfg.Limits); err != nil {
		return 0, transportError("ping", err)
	}
	_ = c.control.SetReadDeadline(writeDeadline(ctx, c.cfg.Session.ReadTimeout))
	f, err := frame.ReadFrame(c.control, c.cfg.Limits)
	if err != nil {
		return 0, transportError("ping", err)
	}
	reply, err := frame.DecodeControl(f.Header)
	if err != nil {
		return 0, opError("ping", ErrMalformed, err)
	}
	return reply.SyncTime, nil
}

func (c *StreamChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = errors.Join(c.control.Close(), c.video.Close(), c.result.Close())
	})
	return err
}

func (c *StreamChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// writeDeadline returns the earlier of ctx's deadline and now+timeout.
func writeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}
