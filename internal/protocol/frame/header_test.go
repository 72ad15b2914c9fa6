package frame

import (
	"errors"
	"testing"

	"github.com/danmuck/edgestream/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResultHeader(t *testing.T) {
	testlog.Start(t)
	raw := []byte(`{"status":"success","frame_id":12,"engine_id":"lego","result":"{\"speech\":\"next\"}"}`)
	h, err := DecodeResult(raw)
	require.NoError(t, err)
	assert.Equal(t, "success", h.Status)
	assert.Equal(t, int64(12), h.FrameID)
	assert.Equal(t, "lego", h.EngineID)

	body, err := DecodeBody(h.Result)
	require.NoError(t, err)
	assert.Equal(t, "next", body.Speech)
	assert.Nil(t, body.HoloX)
}

func TestDecodeResultMissingStatus(t *testing.T) {
	testlog.Start(t)
	_, err := DecodeResult([]byte(`{"frame_id":3,"engine_id":"lego"}`))
	if !errors.Is(err, ErrMissingStatus) {
		t.Fatalf("expected ErrMissingStatus, got %v", err)
	}
}

func TestDecodeResultMissingFrameID(t *testing.T) {
	testlog.Start(t)
	h, err := DecodeResult([]byte(`{"status":"engine_error","engine_id":"lego"}`))
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if h.Status != "engine_error" {
		t.Fatalf("partial header status=%q", h.Status)
	}
}

func TestDecodeResultGarbage(t *testing.T) {
	testlog.Start(t)
	if _, err := DecodeResult([]byte(`not json`)); !errors.Is(err, ErrBadHeader) {
		t.Fatalf("expected ErrBadHeader, got %v", err)
	}
}

func TestDecodeBodyImageAndPosition(t *testing.T) {
	testlog.Start(t)
	body, err := DecodeBody(`{"image":"AQID","holo_x":0.5,"holo_y":-1,"holo_depth":2}`)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, body.Image)
	require.NotNil(t, body.HoloDepth)
	assert.InDelta(t, 2.0, *body.HoloDepth, 1e-9)
}

func TestDecodeControl(t *testing.T) {
	testlog.Start(t)
	h, err := DecodeControl([]byte(`{"sync_time":1700000000123}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000123), h.SyncTime)

	_, err = DecodeControl([]byte(`{"other":1}`))
	assert.ErrorIs(t, err, ErrMissingField)
}
