package flow

import (
	"errors"
	"time"
)

var (
	ErrDuplicateFrame = errors.New("flow: frame already recorded")
	ErrInvalidCredits = errors.New("flow: initial credits must be positive")
)

// Status is the server-reported outcome of processing one frame.
type Status string

const (
	StatusSuccess            Status = "success"
	StatusUnspecifiedError   Status = "unspecified_error"
	StatusWrongInputFormat   Status = "wrong_input_format"
	StatusEngineError        Status = "engine_error"
	StatusNoEngineForInput   Status = "no_engine_for_input"
	StatusServerDroppedFrame Status = "server_dropped_frame"
)

func (s Status) Success() bool { return s == StatusSuccess }

func (s Status) Known() bool {
	switch s {
	case StatusSuccess, StatusUnspecifiedError, StatusWrongInputFormat,
		StatusEngineError, StatusNoEngineForInput, StatusServerDroppedFrame:
		return true
	default:
		return false
	}
}

// Matrix4 is a row-major 4x4 transform.
type Matrix4 [16]float32

type Pose struct {
	CameraToWorld Matrix4 `json:"camera_to_world"`
	Projection    Matrix4 `json:"projection"`
}

// SentRecord is what the client remembers about an admitted frame until its
// result (or a later one) resolves it.
type SentRecord struct {
	FrameID     int64
	GeneratedAt time.Time
	EncodedAt   time.Time
	Pose        *Pose
}

type ResultRecord struct {
	FrameID       int64
	EngineID      string
	Status        Status
	ReceivedAt    time.Time
	ResultReadyAt time.Time
}

type Config struct {
	InitialCredits int
	// Retain keeps sent records after resolution so late and duplicate
	// results can still be correlated. Diagnostic only.
	Retain bool
}

func (c Config) Validate() error {
	if c.InitialCredits <= 0 {
		return ErrInvalidCredits
	}
	return nil
}

type Snapshot struct {
	Credits   int64 `json:"credits"`
	Watermark int64 `json:"watermark"`
	LastSent  int64 `json:"last_sent"`
	Pending   int   `json:"pending"`
	Initial   int64 `json:"initial"`
	Retain    bool  `json:"retain"`
}
