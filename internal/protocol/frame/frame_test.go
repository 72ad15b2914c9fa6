package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/edgestream/internal/testutil/testlog"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	header, err := EncodeHeader(VideoHeader{FrameID: 42, HoloCapture: true})
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}
	in := Frame{Header: header, Payload: []byte{0xff, 0xd8, 0x00, 0x01}}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(out.Header) != `{"frame_id":42,"holo_capture":true}` {
		t.Fatalf("header mismatch: %s", out.Header)
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("payload mismatch: %x", out.Payload)
	}
	if buf.Len() != 0 {
		t.Fatalf("trailing bytes after frame: %d", buf.Len())
	}
}

func TestEncodeLayoutIsBigEndian(t *testing.T) {
	testlog.Start(t)
	got := Encode(Frame{Header: []byte(`{"frame_id":1}`), Payload: []byte("ab")})
	want := append([]byte{0, 0, 0, 14}, []byte(`{"frame_id":1}`)...)
	want = append(want, 0, 0, 0, 2, 'a', 'b')
	if !bytes.Equal(got, want) {
		t.Fatalf("layout mismatch:\n got=%x\nwant=%x", got, want)
	}
}

func TestReadFrameEmptyPayload(t *testing.T) {
	testlog.Start(t)
	raw := Encode(Frame{Header: []byte(`{"sync_time":7}`)})
	out, err := ReadFrame(bytes.NewReader(raw), DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if len(out.Payload) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(out.Payload))
	}
}

func TestReadFrameSequential(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		h, _ := EncodeHeader(VideoHeader{FrameID: int64(i + 1)})
		if err := WriteFrame(&buf, Frame{Header: h, Payload: bytes.Repeat([]byte{byte(i)}, i)}, DefaultLimits()); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		f, err := ReadFrame(&buf, DefaultLimits())
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if len(f.Payload) != i {
			t.Fatalf("frame %d payload len=%d", i, len(f.Payload))
		}
	}
	if _, err := ReadFrame(&buf, DefaultLimits()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after last frame, got %v", err)
	}
}

func TestReadFrameTruncatedAtEveryBoundary(t *testing.T) {
	testlog.Start(t)
	raw := Encode(Frame{Header: []byte(`{"frame_id":9}`), Payload: []byte("payload")})

	if _, err := ReadFrame(bytes.NewReader(nil), DefaultLimits()); !errors.Is(err, ErrClosed) {
		t.Fatalf("empty stream: expected ErrClosed, got %v", err)
	}
	for cut := 1; cut < len(raw); cut++ {
		_, err := ReadFrame(bytes.NewReader(raw[:cut]), DefaultLimits())
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("cut=%d: expected ErrTruncated, got %v", cut, err)
		}
		if errors.Is(err, ErrClosed) {
			t.Fatalf("cut=%d: truncation must not read as clean close", cut)
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			t.Fatalf("cut=%d: expected wrapped EOF cause, got %v", cut, err)
		}
	}
}

func TestReadFrameRejectsOversized(t *testing.T) {
	testlog.Start(t)
	limits := Limits{MaxHeaderBytes: 8, MaxPayloadBytes: 4}

	raw := Encode(Frame{Header: []byte(`{"frame_id":1000}`)})
	if _, err := ReadFrame(bytes.NewReader(raw), limits); !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("expected ErrHeaderTooLarge, got %v", err)
	}

	raw = Encode(Frame{Header: []byte(`{}`), Payload: []byte("12345")})
	if _, err := ReadFrame(bytes.NewReader(raw), limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}

	if err := WriteFrame(io.Discard, Frame{Header: []byte(`{}`), Payload: []byte("12345")}, limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("write: expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestReadFrameRejectsEmptyHeader(t *testing.T) {
	testlog.Start(t)
	raw := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	if _, err := ReadFrame(bytes.NewReader(raw), DefaultLimits()); !errors.Is(err, ErrEmptyHeader) {
		t.Fatalf("expected ErrEmptyHeader, got %v", err)
	}
}
