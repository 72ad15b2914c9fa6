package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// LengthPrefixLen is the size of each big-endian length field.
const LengthPrefixLen = 4

var (
	ErrClosed          = errors.New("frame: stream closed")
	ErrTruncated       = errors.New("frame: stream truncated mid-frame")
	ErrHeaderTooLarge  = errors.New("frame: header too large")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrEmptyHeader     = errors.New("frame: empty header")
)

// Frame is one logical message: a UTF-8 JSON header and an optional binary
// payload, each preceded by its length.
type Frame struct {
	Header  []byte
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxHeaderBytes  uint32
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxHeaderBytes:  64 * 1024,
		MaxPayloadBytes: 16 * 1024 * 1024,
	}
}

// ReadFrame reads one frame. A clean EOF before the first byte returns
// ErrClosed; EOF anywhere later returns ErrTruncated.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	headerLen, err := readLength(r, true)
	if err != nil {
		return Frame{}, err
	}
	if headerLen == 0 {
		return Frame{}, ErrEmptyHeader
	}
	if headerLen > limits.MaxHeaderBytes {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrHeaderTooLarge, headerLen, limits.MaxHeaderBytes)
	}
	header := make([]byte, headerLen)
	if err := readFull(r, header); err != nil {
		return Frame{}, err
	}

	payloadLen, err := readLength(r, false)
	if err != nil {
		return Frame{}, err
	}
	if payloadLen > limits.MaxPayloadBytes {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, payloadLen, limits.MaxPayloadBytes)
	}
	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if err := readFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: header, Payload: payload}, nil
}

// WriteFrame encodes f as a single write so concurrent writers on distinct
// connections never interleave partial frames.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if len(f.Header) == 0 {
		return ErrEmptyHeader
	}
	if uint64(len(f.Header)) > uint64(limits.MaxHeaderBytes) {
		return ErrHeaderTooLarge
	}
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	_, err := w.Write(Encode(f))
	return err
}

func Encode(f Frame) []byte {
	buf := make([]byte, 0, 2*LengthPrefixLen+len(f.Header)+len(f.Payload))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Header)))
	buf = append(buf, f.Header...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Payload)))
	buf = append(buf, f.Payload...)
	return buf
}

func readLength(r io.Reader, first bool) (uint32, error) {
	var b [LengthPrefixLen]byte
	n, err := io.ReadFull(r, b[:])
	if err != nil {
		if first && n == 0 && errors.Is(err, io.EOF) {
			return 0, ErrClosed
		}
		return 0, truncated(err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return truncated(err)
	}
	return nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	return err
}
