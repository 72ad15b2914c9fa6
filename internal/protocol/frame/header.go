package frame

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrBadHeader     = errors.New("frame: unparseable header")
	ErrMissingStatus = errors.New("frame: result header has no status")
	ErrMissingField  = errors.New("frame: header missing field")
)

// VideoHeader accompanies each encoded frame on the video connection.
type VideoHeader struct {
	FrameID     int64 `json:"frame_id"`
	HoloCapture bool  `json:"holo_capture,omitempty"`
}

// ControlHeader is the clock sync request and reply on the control connection.
type ControlHeader struct {
	SyncTime int64 `json:"sync_time"`
}

// ResultHeader is sent by the server on the result connection. Result holds
// an engine-specific JSON document encoded as a string.
type ResultHeader struct {
	Status   string `json:"status"`
	FrameID  int64  `json:"frame_id"`
	EngineID string `json:"engine_id"`
	Result   string `json:"result,omitempty"`
}

// ResultBody is the decoded Result document.
type ResultBody struct {
	Speech    string   `json:"speech,omitempty"`
	Image     []byte   `json:"image,omitempty"`
	HoloX     *float64 `json:"holo_x,omitempty"`
	HoloY     *float64 `json:"holo_y,omitempty"`
	HoloDepth *float64 `json:"holo_depth,omitempty"`
}

func EncodeHeader(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("frame: encode header: %w", err)
	}
	return b, nil
}

func DecodeControl(raw []byte) (ControlHeader, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ControlHeader{}, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	v, ok := fields["sync_time"]
	if !ok {
		return ControlHeader{}, fmt.Errorf("%w: sync_time", ErrMissingField)
	}
	var h ControlHeader
	if err := json.Unmarshal(v, &h.SyncTime); err != nil {
		return ControlHeader{}, fmt.Errorf("%w: sync_time: %v", ErrBadHeader, err)
	}
	return h, nil
}

// DecodeResult parses a result header. A missing status is reported as
// ErrMissingStatus and a missing frame_id as ErrMissingField. engine_id is
// optional.
func DecodeResult(raw []byte) (ResultHeader, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ResultHeader{}, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if _, ok := fields["status"]; !ok {
		return ResultHeader{}, ErrMissingStatus
	}
	var h ResultHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return ResultHeader{}, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if h.Status == "" {
		return ResultHeader{}, ErrMissingStatus
	}
	if _, ok := fields["frame_id"]; !ok {
		return h, fmt.Errorf("%w: frame_id", ErrMissingField)
	}
	return h, nil
}

// DecodeBody parses the embedded result document. An empty document yields a
// zero body.
func DecodeBody(result string) (ResultBody, error) {
	var body ResultBody
	if result == "" {
		return body, nil
	}
	if err := json.Unmarshal([]byte(result), &body); err != nil {
		return ResultBody{}, fmt.Errorf("%w: result: %v", ErrBadHeader, err)
	}
	return body, nil
}
