package channel

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/edgestream/internal/flow"
	"github.com/danmuck/edgestream/internal/protocol/frame"
	"github.com/danmuck/edgestream/internal/protocol/message"
	"github.com/danmuck/edgestream/internal/protocol/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const wsBufferSize = 64 * 1024

type WebSocketConfig struct {
	URL     string
	Header  http.Header
	Session session.Config
	// MaxMessageBytes bounds one inbound record. Zero uses the byte-stream
	// frame limits.
	MaxMessageBytes int64
}

func defaultMaxMessageBytes() int64 {
	l := frame.DefaultLimits()
	return int64(l.MaxHeaderBytes) + int64(l.MaxPayloadBytes)
}

// WebSocketChannel exchanges one msgpack record per binary message and
// tracks the engine state version the server last accepted.
type WebSocketChannel struct {
	cfg  WebSocketConfig
	conn *websocket.Conn

	writeMu   sync.Mutex
	stateMu   sync.Mutex
	state     message.EngineState
	hasState  bool
	engines   map[string]struct{}
	warned    map[string]struct{}
	closeOnce sync.Once
	closed    chan struct{}
	now       func() time.Time
}

func DialWebSocket(ctx context.Context, cfg WebSocketConfig) (*WebSocketChannel, error) {
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.Session.HandshakeTimeout,
		ReadBufferSize:   wsBufferSize,
		WriteBufferSize:  wsBufferSize,
	}
	if cfg.Session.TLS.Enabled {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("channel: parse websocket url: %w", err)
		}
		port := u.Port()
		if port == "" {
			port = "443"
		}
		tlsCfg, err := cfg.Session.ClientTLSConfig(net.JoinHostPort(u.Hostname(), port))
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsCfg
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Session.ConnectTimeout)
	defer cancel()
	conn, _, err := dialer.DialContext(dialCtx, cfg.URL, cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("channel: dial %s: %w", cfg.URL, err)
	}
	log.Info().Str("component", "channel").Str("url", cfg.URL).Msg("websocket channel connected")
	return NewWebSocket(cfg, conn), nil
}

func NewWebSocket(cfg WebSocketConfig, conn *websocket.Conn) *WebSocketChannel {
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes()
	}
	conn.SetReadLimit(cfg.MaxMessageBytes)
	return &WebSocketChannel{
		cfg:    cfg,
		conn:   conn,
		warned: make(map[string]struct{}),
		closed: make(chan struct{}),
		now:    time.Now,
	}
}

// AnnouncesGrant reports true: the server's welcome carries the credit grant.
func (c *WebSocketChannel) AnnouncesGrant() bool { return true }

func (c *WebSocketChannel) Send(ctx context.Context, sub Submission) error {
	if c.isClosed() {
		return &Error{Op: "send", Err: ErrClosed}
	}
	c.warnUnknownEngine(sub.EngineName)
	payloadType := sub.PayloadType
	if payloadType == 0 {
		payloadType = message.PayloadImage
	}
	b, err := message.EncodeFromClient(message.FromClient{
		PayloadType: payloadType,
		EngineName:  sub.EngineName,
		Payload:     sub.Payload,
		State:       c.State(),
		FrameID:     sub.FrameID,
	})
	if err != nil {
		return &Error{Op: "send", Err: err}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(writeDeadline(ctx, c.cfg.Session.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return transportError("send", err)
	}
	return nil
}

// Receive reads the next record. Cancelling ctx interrupts the read, after
// which the connection is unusable.
func (c *WebSocketChannel) Receive(ctx context.Context) (Inbound, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		kind, buf, err := c.conn.ReadMessage()
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
		if kind != websocket.BinaryMessage {
			log.Warn().Str("component", "channel").Int("kind", kind).Msg("skipping non-binary message")
			continue
		}

		msg, err := message.DecodeToClient(buf)
		if err != nil {
			return Inbound{}, opError("receive", ErrMalformed, err)
		}
		if msg.Welcome != nil {
			return Inbound{Welcome: c.acceptWelcome(msg.Welcome)}, nil
		}
		res, err := c.acceptResult(msg.ResultWrapper)
		if err != nil {
			return Inbound{}, &Error{Op: "receive", Err: err}
		}
		res.Record.ReceivedAt = received
		res.Record.ResultReadyAt = c.now()
		return Inbound{Result: res}, nil
	}
}

func (c *WebSocketChannel) acceptWelcome(w *message.Welcome) *Welcome {
	engines := make(map[string]struct{}, len(w.EngineNames))
	for _, name := range w.EngineNames {
		engines[name] = struct{}{}
	}
	c.stateMu.Lock()
	c.engines = engines
	c.stateMu.Unlock()

	log.Info().
		Str("component", "channel").
		Int("credits", w.NumTokens).
		Strs("engines", w.EngineNames).
		Msg("welcome received")
	return &Welcome{Credits: w.NumTokens, Engines: append([]string(nil), w.EngineNames...)}
}

// acceptResult applies the wrapper's state update. Non-success results are
// always delivered and leave the accepted state alone. A success wrapper
// whose state is absent or not newer than the accepted one is superseded.
func (c *WebSocketChannel) acceptResult(w *message.ResultWrapper) (*Result, error) {
	if strings.TrimSpace(w.Status) == "" {
		return nil, ErrMissingStatus
	}
	engineID := ""
	if len(w.Results) > 0 {
		engineID = w.Results[0].EngineName
	}
	res := &Result{Record: flow.ResultRecord{
		FrameID:  w.FrameID,
		EngineID: engineID,
		Status:   flow.Status(w.Status),
	}}
	if !res.Record.Status.Success() {
		return res, nil
	}

	c.stateMu.Lock()
	accepted := w.State != nil && (!c.hasState || w.State.Version > c.state.Version)
	if accepted {
		c.state = message.EngineState{
			Version: w.State.Version,
			Fields:  append([]byte(nil), w.State.Fields...),
		}
		c.hasState = true
	}
	c.stateMu.Unlock()

	if !accepted {
		res.Superseded = true
		log.Debug().
			Str("component", "channel").
			Int64("frame_id", w.FrameID).
			Bool("has_state", w.State != nil).
			Msg("result superseded by newer engine state")
		return res, nil
	}
	res.Guidance = guidanceFromPayloads(w.Results)
	return res, nil
}

func guidanceFromPayloads(payloads []message.Payload) Guidance {
	g := Guidance{Payloads: payloads}
	var text []string
	for _, p := range payloads {
		switch p.PayloadType {
		case message.PayloadText:
			text = append(text, string(p.Payload))
		case message.PayloadImage:
			if g.Image == nil {
				g.Image = p.Payload
			}
		}
	}
	g.Text = strings.Join(text, "\n")
	return g
}

// State returns the most recently accepted engine state.
func (c *WebSocketChannel) State() message.EngineState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *WebSocketChannel) warnUnknownEngine(name string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.engines == nil {
		return
	}
	if _, ok := c.engines[name]; ok {
		return
	}
	if _, ok := c.warned[name]; ok {
		return
	}
	c.warned[name] = struct{}{}
	log.Warn().Str("component", "channel").Str("engine", name).Msg("sending to engine the server did not announce")
}

func (c *WebSocketChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}

func (c *WebSocketChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
