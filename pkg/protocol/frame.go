package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultMaxFrameSize bounds a single frame payload
	DefaultMaxFrameSize = 1 << 20

	headerSize = 4
)

var (
	// ErrEmptyFrame is returned for a frame announcing a zero-length payload
	ErrEmptyFrame = errors.New("empty frame")

	// ErrFrameTooLarge is returned when the length prefix exceeds the limit
	ErrFrameTooLarge = errors.New("frame too large")
)

// ReadFrame reads one frame: a 4-byte big-endian length followed by that
// many payload bytes. io.EOF is returned only when the stream ends cleanly
// between frames; a stream ending inside a frame yields io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var lenBuf [headerSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if uint64(length) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFrameTooLarge, length, maxSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// WriteFrame writes payload as a single length-prefixed frame
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[:headerSize], uint32(len(payload)))
	copy(buf[headerSize:], payload)

	_, err := w.Write(buf)
	return err
}

// IsProtocolViolation reports whether err means the peer broke framing,
// as opposed to a clean disconnect or a network failure.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrEmptyFrame) ||
		errors.Is(err, ErrFrameTooLarge) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
