// Package fakeserver runs scripted servers for both wire variants so client
// code can be exercised end to end over loopback.
package fakeserver

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/edgestream/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// FrameRequest is a submission observed on the video connection.
type FrameRequest struct {
	FrameID     int64
	HoloCapture bool
	Payload     []byte
	Session     int
}

// ResultReply is written to the result connection. A nil Status omits the
// field; Raw, when set, replaces the encoded header entirely.
type ResultReply struct {
	Status   *string
	FrameID  int64
	EngineID string
	Result   string
	Raw      []byte
}

func Success(frameID int64, engineID, result string) ResultReply {
	status := "success"
	return ResultReply{Status: &status, FrameID: frameID, EngineID: engineID, Result: result}
}

func Failure(frameID int64, engineID, status string) ResultReply {
	return ResultReply{Status: &status, FrameID: frameID, EngineID: engineID}
}

type StreamOptions struct {
	// Respond maps each submission to replies. Nil echoes a speech result.
	Respond func(FrameRequest) []ResultReply
	// ClockSkew is added to the server clock in sync replies.
	ClockSkew time.Duration
	TLS       *tls.Config
}

type StreamServer struct {
	t       testing.TB
	opts    StreamOptions
	control net.Listener
	video   net.Listener
	result  net.Listener

	frames chan FrameRequest

	mu       sync.Mutex
	sessions int
	current  []net.Conn
	all      []net.Conn
	resultW  net.Conn
	closed   bool
	wg       sync.WaitGroup
}

func NewStream(t testing.TB, opts StreamOptions) *StreamServer {
	t.Helper()
	s := &StreamServer{
		t:      t,
		opts:   opts,
		frames: make(chan FrameRequest, 256),
	}
	s.control = s.listen()
	s.video = s.listen()
	s.result = s.listen()
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *StreamServer) listen() net.Listener {
	s.t.Helper()
	var (
		ln  net.Listener
		err error
	)
	if s.opts.TLS != nil {
		ln, err = tls.Listen("tcp", "127.0.0.1:0", s.opts.TLS)
	} else {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		s.t.Fatalf("fakeserver listen: %v", err)
	}
	return ln
}

func (s *StreamServer) Host() string     { return "127.0.0.1" }
func (s *StreamServer) ControlPort() int { return port(s.control) }
func (s *StreamServer) VideoPort() int   { return port(s.video) }
func (s *StreamServer) ResultPort() int  { return port(s.result) }

// Frames delivers every submission the server reads.
func (s *StreamServer) Frames() <-chan FrameRequest { return s.frames }

func (s *StreamServer) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

func port(ln net.Listener) int {
	_, p, _ := net.SplitHostPort(ln.Addr().String())
	n, _ := strconv.Atoi(p)
	return n
}

func (s *StreamServer) acceptLoop() {
	defer s.wg.Done()
	for {
		control, err := s.control.Accept()
		if err != nil {
			return
		}
		video, err := s.video.Accept()
		if err != nil {
			_ = control.Close()
			return
		}
		result, err := s.result.Accept()
		if err != nil {
			_ = control.Close()
			_ = video.Close()
			return
		}

		s.mu.Lock()
		s.sessions++
		id := s.sessions
		s.current = []net.Conn{control, video, result}
		s.all = append(s.all, control, video, result)
		s.resultW = result
		s.mu.Unlock()

		s.wg.Add(2)
		go s.serveControl(control)
		go s.serveVideo(id, video)
	}
}

func (s *StreamServer) serveControl(conn net.Conn) {
	defer s.wg.Done()
	for {
		f, err := frame.ReadFrame(conn, frame.DefaultLimits())
		if err != nil {
			return
		}
		if _, err := frame.DecodeControl(f.Header); err != nil {
			log.Warn().Str("component", "fakeserver").Err(err).Msg("bad control message")
			return
		}
		now := time.Now().Add(s.opts.ClockSkew).UnixMilli()
		header, _ := frame.EncodeHeader(frame.ControlHeader{SyncTime: now})
		if err := frame.WriteFrame(conn, frame.Frame{Header: header}, frame.DefaultLimits()); err != nil {
			return
		}
	}
}

func (s *StreamServer) serveVideo(session int, conn net.Conn) {
	defer s.wg.Done()
	for {
		f, err := frame.ReadFrame(conn, frame.DefaultLimits())
		if err != nil {
			return
		}
		var h frame.VideoHeader
		if err := json.Unmarshal(f.Header, &h); err != nil {
			log.Warn().Str("component", "fakeserver").Err(err).Msg("bad video header")
			return
		}
		req := FrameRequest{FrameID: h.FrameID, HoloCapture: h.HoloCapture, Payload: f.Payload, Session: session}
		select {
		case s.frames <- req:
		default:
		}

		replies := []ResultReply{Success(h.FrameID, "echo", fmt.Sprintf(`{"speech":"frame %d"}`, h.FrameID))}
		if s.opts.Respond != nil {
			replies = s.opts.Respond(req)
		}
		for _, reply := range replies {
			if err := s.Reply(reply); err != nil {
				return
			}
		}
	}
}

// Reply writes one result to the current session's result connection.
func (s *StreamServer) Reply(reply ResultReply) error {
	header := reply.Raw
	if header == nil {
		fields := map[string]any{"frame_id": reply.FrameID, "engine_id": reply.EngineID}
		if reply.Status != nil {
			fields["status"] = *reply.Status
		}
		if reply.Result != "" {
			fields["result"] = reply.Result
		}
		b, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		header = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultW == nil {
		return errors.New("fakeserver: no active session")
	}
	return frame.WriteFrame(s.resultW, frame.Frame{Header: header}, frame.DefaultLimits())
}

// WriteRaw writes arbitrary bytes to the result connection.
func (s *StreamServer) WriteRaw(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultW == nil {
		return errors.New("fakeserver: no active session")
	}
	_, err := s.resultW.Write(b)
	return err
}

// DropSession closes the current session's connections.
func (s *StreamServer) DropSession() {
	s.mu.Lock()
	conns := s.current
	s.current = nil
	s.resultW = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *StreamServer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	all := s.all
	s.all = nil
	s.mu.Unlock()

	_ = s.control.Close()
	_ = s.video.Close()
	_ = s.result.Close()
	s.DropSession()
	for _, c := range all {
		_ = c.Close()
	}
	s.wg.Wait()
}
