package fakeserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/edgestream/internal/auth"
	"github.com/danmuck/edgestream/internal/protocol/message"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type WebSocketOptions struct {
	Tokens  int
	Engines []string
	// SkipWelcome suppresses the initial welcome record.
	SkipWelcome bool
	// Respond maps each submission to replies. Nil answers with a text result
	// whose state version is one past the submitted state.
	Respond func(message.FromClient) []message.ToClient
	// Auth, when set, rejects upgrades without a valid bearer token.
	Auth auth.Validator
}

type WebSocketServer struct {
	t      testing.TB
	opts   WebSocketOptions
	srv    *httptest.Server
	frames chan message.FromClient

	mu    sync.Mutex
	conns []*websocket.Conn
	last  *websocket.Conn
}

func NewWebSocket(t testing.TB, opts WebSocketOptions) *WebSocketServer {
	t.Helper()
	if opts.Tokens == 0 {
		opts.Tokens = 2
	}
	s := &WebSocketServer{
		t:      t,
		opts:   opts,
		frames: make(chan message.FromClient, 256),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *WebSocketServer) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *WebSocketServer) Frames() <-chan message.FromClient { return s.frames }

func (s *WebSocketServer) handle(w http.ResponseWriter, r *http.Request) {
	if err := auth.Check(s.opts.Auth, r); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	upgrader := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.last = conn
	s.mu.Unlock()

	if !s.opts.SkipWelcome {
		if err := s.Push(message.ToClient{Welcome: &message.Welcome{NumTokens: s.opts.Tokens, EngineNames: s.opts.Engines}}); err != nil {
			return
		}
	}
	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			return
		}
		in, err := message.DecodeFromClient(buf)
		if err != nil {
			log.Warn().Str("component", "fakeserver").Err(err).Msg("bad from_client")
			return
		}
		select {
		case s.frames <- in:
		default:
		}

		replies := defaultReply(in)
		if s.opts.Respond != nil {
			replies = s.opts.Respond(in)
		}
		for _, reply := range replies {
			if err := s.Push(reply); err != nil {
				return
			}
		}
	}
}

func defaultReply(in message.FromClient) []message.ToClient {
	return []message.ToClient{{ResultWrapper: &message.ResultWrapper{
		Status: "success",
		State:  &message.EngineState{Version: in.State.Version + 1},
		Results: []message.Payload{{
			EngineName:  in.EngineName,
			PayloadType: message.PayloadText,
			Payload:     []byte("ok"),
		}},
		FrameID: in.FrameID,
	}}}
}

// Push writes one record to the most recent connection.
func (s *WebSocketServer) Push(m message.ToClient) error {
	b, err := message.EncodeToClient(m)
	if err != nil {
		return err
	}
	return s.PushRaw(b)
}

func (s *WebSocketServer) PushRaw(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return websocket.ErrCloseSent
	}
	return s.last.WriteMessage(websocket.BinaryMessage, b)
}

// DropSession closes every open connection.
func (s *WebSocketServer) DropSession() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.last = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *WebSocketServer) Close() {
	s.DropSession()
	s.srv.Close()
}
