package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/edgestream/internal/flow"
	"github.com/danmuck/edgestream/internal/protocol/message"
	"github.com/danmuck/edgestream/internal/protocol/session"
	"github.com/danmuck/edgestream/internal/testutil/fakeserver"
	"github.com/danmuck/edgestream/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func dialWebSocket(t *testing.T, srv *fakeserver.WebSocketServer) *WebSocketChannel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := DialWebSocket(ctx, WebSocketConfig{URL: srv.URL(), Session: session.DefaultConfig()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func wrapper(frameID int64, version *uint64, text string) message.ToClient {
	w := &message.ResultWrapper{
		Status:  "success",
		FrameID: frameID,
		Results: []message.Payload{{EngineName: "instruction", PayloadType: message.PayloadText, Payload: []byte(text)}},
	}
	if version != nil {
		w.State = &message.EngineState{Version: *version}
	}
	return message.ToClient{ResultWrapper: w}
}

func version(v uint64) *uint64 { return &v }

func TestWebSocketWelcomeThenResult(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.NewWebSocket(t, fakeserver.WebSocketOptions{Tokens: 3, Engines: []string{"instruction"}})
	ch := dialWebSocket(t, srv)

	in, err := receiveWithin(t, ch, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, in.Welcome)
	assert.Equal(t, 3, in.Welcome.Credits)
	assert.Equal(t, []string{"instruction"}, in.Welcome.Engines)

	require.NoError(t, ch.Send(context.Background(), Submission{FrameID: 1, EngineName: "instruction", Payload: []byte("img")}))
	in, err = receiveWithin(t, ch, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, in.Result)
	assert.False(t, in.Result.Superseded)
	assert.Equal(t, int64(1), in.Result.Record.FrameID)
	assert.Equal(t, "instruction", in.Result.Record.EngineID)
	assert.Equal(t, "ok", in.Result.Guidance.Text)
	assert.Equal(t, uint64(1), ch.State().Version)
}

func TestWebSocketStaleStateIsSuperseded(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.NewWebSocket(t, fakeserver.WebSocketOptions{
		Respond: func(in message.FromClient) []message.ToClient {
			switch in.FrameID {
			case 1:
				return []message.ToClient{wrapper(1, version(5), "fresh")}
			case 2:
				return []message.ToClient{wrapper(2, version(5), "same version")}
			case 3:
				return []message.ToClient{wrapper(3, version(3), "older")}
			default:
				return []message.ToClient{wrapper(in.FrameID, nil, "no state")}
			}
		},
	})
	ch := dialWebSocket(t, srv)
	_, err := receiveWithin(t, ch, 5*time.Second)
	require.NoError(t, err)

	for id := int64(1); id <= 4; id++ {
		require.NoError(t, ch.Send(context.Background(), Submission{FrameID: id}))
		in, err := receiveWithin(t, ch, 5*time.Second)
		require.NoError(t, err)
		require.NotNil(t, in.Result)
		assert.Equal(t, id, in.Result.Record.FrameID)
		if id == 1 {
			assert.False(t, in.Result.Superseded)
			assert.Equal(t, "fresh", in.Result.Guidance.Text)
			continue
		}
		assert.Truef(t, in.Result.Superseded, "frame %d should be superseded", id)
		assert.Truef(t, in.Result.Guidance.Empty(), "frame %d leaked guidance", id)
	}
	assert.Equal(t, uint64(5), ch.State().Version)
}

func TestWebSocketFailedResultIsNeverSuperseded(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.NewWebSocket(t, fakeserver.WebSocketOptions{
		Respond: func(in message.FromClient) []message.ToClient {
			if in.FrameID == 2 {
				return []message.ToClient{wrapper(2, version(7), "fresh")}
			}
			return []message.ToClient{{ResultWrapper: &message.ResultWrapper{Status: "engine_error", FrameID: in.FrameID}}}
		},
	})
	ch := dialWebSocket(t, srv)
	_, err := receiveWithin(t, ch, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ch.AnnouncesGrant())

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, ch.Send(context.Background(), Submission{FrameID: id}))
		in, err := receiveWithin(t, ch, 5*time.Second)
		require.NoError(t, err)
		require.NotNil(t, in.Result)
		if id == 2 {
			assert.Equal(t, flow.StatusSuccess, in.Result.Record.Status)
			continue
		}
		assert.Equal(t, flow.StatusEngineError, in.Result.Record.Status)
		assert.Falsef(t, in.Result.Superseded, "failed frame %d must be delivered", id)
		assert.Truef(t, in.Result.Guidance.Empty(), "failed frame %d carried guidance", id)
	}
	assert.Equal(t, uint64(7), ch.State().Version, "failed results must not touch the accepted state")
}

func TestWebSocketOversizedMessageIsMalformed(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.NewWebSocket(t, fakeserver.WebSocketOptions{SkipWelcome: true})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := DialWebSocket(ctx, WebSocketConfig{URL: srv.URL(), Session: session.DefaultConfig(), MaxMessageBytes: 1024})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	raw, err := message.EncodeToClient(wrapper(1, version(1), string(make([]byte, 4096))))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.PushRaw(raw) == nil }, 5*time.Second, 10*time.Millisecond)

	_, err = receiveWithin(t, ch, 5*time.Second)
	if !errors.Is(err, ErrMalformed) || !IsFatal(err) {
		t.Fatalf("expected fatal ErrMalformed, got %v", err)
	}
}

func TestWebSocketSendCarriesAcceptedState(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.NewWebSocket(t, fakeserver.WebSocketOptions{})
	ch := dialWebSocket(t, srv)
	_, err := receiveWithin(t, ch, 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, ch.Send(context.Background(), Submission{FrameID: 1}))
	first := <-srv.Frames()
	assert.Equal(t, uint64(0), first.State.Version)
	assert.Equal(t, message.PayloadImage, first.PayloadType)
	_, err = receiveWithin(t, ch, 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, ch.Send(context.Background(), Submission{FrameID: 2}))
	second := <-srv.Frames()
	assert.Equal(t, uint64(1), second.State.Version)
}

func TestWebSocketMissingStatusIsFatal(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.NewWebSocket(t, fakeserver.WebSocketOptions{
		Respond: func(in message.FromClient) []message.ToClient {
			return []message.ToClient{{ResultWrapper: &message.ResultWrapper{FrameID: in.FrameID}}}
		},
	})
	ch := dialWebSocket(t, srv)
	_, err := receiveWithin(t, ch, 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, ch.Send(context.Background(), Submission{FrameID: 1}))
	_, err = receiveWithin(t, ch, 5*time.Second)
	if !errors.Is(err, ErrMissingStatus) || !IsFatal(err) {
		t.Fatalf("expected fatal ErrMissingStatus, got %v", err)
	}
}

func TestWebSocketEmptyRecordIsMalformed(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.NewWebSocket(t, fakeserver.WebSocketOptions{SkipWelcome: true})
	ch := dialWebSocket(t, srv)

	raw, err := msgpack.Marshal(map[string]any{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.PushRaw(raw) == nil }, 5*time.Second, 10*time.Millisecond)

	_, err = receiveWithin(t, ch, 5*time.Second)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestWebSocketPeerClose(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.NewWebSocket(t, fakeserver.WebSocketOptions{})
	ch := dialWebSocket(t, srv)
	_, err := receiveWithin(t, ch, 5*time.Second)
	require.NoError(t, err)

	srv.DropSession()
	_, err = receiveWithin(t, ch, 5*time.Second)
	if !errors.Is(err, ErrPeerClosed) || !IsFatal(err) {
		t.Fatalf("expected fatal ErrPeerClosed, got %v", err)
	}
}
