package channel

import (
	"errors"
	"fmt"

	"github.com/danmuck/edgestream/internal/protocol/frame"
	"github.com/gorilla/websocket"
)

var (
	ErrPeerClosed    = errors.New("channel: peer closed connection")
	ErrMalformed     = errors.New("channel: malformed record")
	ErrMissingStatus = errors.New("channel: result has no status")
	ErrMissingField  = errors.New("channel: result missing field")
	ErrClosed        = errors.New("channel: closed")
)

// Error records the channel operation that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsFatal reports whether err must end the session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPeerClosed) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrMissingStatus) ||
		errors.Is(err, ErrClosed)
}

func opError(op string, kind, cause error) error {
	if cause == nil {
		return &Error{Op: op, Err: kind}
	}
	return &Error{Op: op, Err: fmt.Errorf("%w: %w", kind, cause)}
}

// transportError maps a read or write failure onto the channel taxonomy.
// Anything other than an oversized or empty record leaves the stream position
// unknown and is reported as the peer going away.
func transportError(op string, err error) error {
	if errors.Is(err, frame.ErrHeaderTooLarge) ||
		errors.Is(err, frame.ErrPayloadTooLarge) ||
		errors.Is(err, frame.ErrEmptyHeader) ||
		errors.Is(err, websocket.ErrReadLimit) {
		return opError(op, ErrMalformed, err)
	}
	return opError(op, ErrPeerClosed, err)
}
