package message

import (
	"errors"
	"testing"

	"github.com/danmuck/edgestream/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
	"github.com/vmihailenco/msgpack/v5"
)

func TestFromClientRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := FromClient{
		PayloadType: PayloadImage,
		EngineName:  "instruction",
		Payload:     []byte{0xff, 0xd8},
		State:       EngineState{Version: 3, Fields: []byte("step=2")},
		FrameID:     17,
	}
	b, err := EncodeFromClient(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeFromClient(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-in +out):\n%s", diff)
	}
}

func TestToClientResultWrapper(t *testing.T) {
	testlog.Start(t)
	in := ToClient{ResultWrapper: &ResultWrapper{
		Status:  "success",
		State:   &EngineState{Version: 4},
		Results: []Payload{{EngineName: "instruction", PayloadType: PayloadText, Payload: []byte("turn left")}},
		FrameID: 9,
	}}
	b, err := EncodeToClient(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeToClient(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-in +out):\n%s", diff)
	}
}

func TestDecodeToClientRejectsEmpty(t *testing.T) {
	testlog.Start(t)
	b, err := msgpack.Marshal(map[string]any{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := DecodeToClient(b); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := DecodeToClient([]byte{0xc1}); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestParsePayloadType(t *testing.T) {
	testlog.Start(t)
	got, err := ParsePayloadType("text")
	if err != nil || got != PayloadText {
		t.Fatalf("parse text got=%v err=%v", got, err)
	}
	if _, err := ParsePayloadType("hologram"); err == nil {
		t.Fatalf("expected error for unknown payload type")
	}
}
