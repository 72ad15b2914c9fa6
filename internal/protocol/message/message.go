// Package message is the msgpack wire schema for the message-oriented
// transport: one record per websocket binary message.
package message

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrEmptyMessage = errors.New("message: neither welcome nor result")
	ErrAmbiguous    = errors.New("message: both welcome and result set")
	ErrDecode       = errors.New("message: decode failed")
)

type PayloadType uint8

const (
	PayloadImage PayloadType = iota + 1
	PayloadText
	PayloadAudio
	PayloadVideo
)

func (p PayloadType) String() string {
	switch p {
	case PayloadImage:
		return "image"
	case PayloadText:
		return "text"
	case PayloadAudio:
		return "audio"
	case PayloadVideo:
		return "video"
	default:
		return fmt.Sprintf("payload_type(%d)", uint8(p))
	}
}

func ParsePayloadType(s string) (PayloadType, error) {
	switch s {
	case "image", "":
		return PayloadImage, nil
	case "text":
		return PayloadText, nil
	case "audio":
		return PayloadAudio, nil
	case "video":
		return PayloadVideo, nil
	default:
		return 0, fmt.Errorf("message: unknown payload type %q", s)
	}
}

// EngineState is an opaque engine state blob with a monotonic version.
type EngineState struct {
	Version uint64 `msgpack:"version"`
	Fields  []byte `msgpack:"fields,omitempty"`
}

type FromClient struct {
	PayloadType PayloadType `msgpack:"payload_type"`
	EngineName  string      `msgpack:"engine_name"`
	Payload     []byte      `msgpack:"payload"`
	State       EngineState `msgpack:"state"`
	FrameID     int64       `msgpack:"frame_id"`
}

type Payload struct {
	EngineName  string      `msgpack:"engine_name"`
	PayloadType PayloadType `msgpack:"payload_type"`
	Payload     []byte      `msgpack:"payload"`
}

type Welcome struct {
	NumTokens   int      `msgpack:"num_tokens"`
	EngineNames []string `msgpack:"engine_names,omitempty"`
}

type ResultWrapper struct {
	Status  string       `msgpack:"status"`
	State   *EngineState `msgpack:"state,omitempty"`
	Results []Payload    `msgpack:"results,omitempty"`
	FrameID int64        `msgpack:"frame_id"`
}

// ToClient carries exactly one of Welcome or ResultWrapper.
type ToClient struct {
	Welcome       *Welcome       `msgpack:"welcome,omitempty"`
	ResultWrapper *ResultWrapper `msgpack:"result_wrapper,omitempty"`
}

func EncodeFromClient(m FromClient) ([]byte, error) {
	b, err := msgpack.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("message: encode from_client: %w", err)
	}
	return b, nil
}

func DecodeFromClient(b []byte) (FromClient, error) {
	var m FromClient
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return FromClient{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return m, nil
}

func EncodeToClient(m ToClient) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	b, err := msgpack.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("message: encode to_client: %w", err)
	}
	return b, nil
}

func DecodeToClient(b []byte) (ToClient, error) {
	var m ToClient
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return ToClient{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := m.Validate(); err != nil {
		return ToClient{}, err
	}
	return m, nil
}

func (m ToClient) Validate() error {
	switch {
	case m.Welcome == nil && m.ResultWrapper == nil:
		return ErrEmptyMessage
	case m.Welcome != nil && m.ResultWrapper != nil:
		return ErrAmbiguous
	default:
		return nil
	}
}
