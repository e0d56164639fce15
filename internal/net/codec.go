package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// A frame is [H total length, little endian][payload]. The length counts
// its own two bytes.
const frameHeader = 2

// MaxPayload caps a single packet in either direction.
const MaxPayload = 4096

var ErrFrameLength = errors.New("invalid frame length")

// ReadFrame reads one frame from r and returns its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeader]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	n := int(binary.LittleEndian.Uint16(header[:])) - frameHeader
	if n <= 0 || n > MaxPayload {
		return nil, fmt.Errorf("frame of %d bytes: %w", n+frameHeader, ErrFrameLength)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", n, err)
	}
	return payload, nil
}

// AppendFrame appends data, framed, to dst.
func AppendFrame(dst, data []byte) ([]byte, error) {
	if len(data) == 0 || len(data) > MaxPayload {
		return dst, fmt.Errorf("payload of %d bytes: %w", len(data), ErrFrameLength)
	}
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(data)+frameHeader))
	return append(dst, data...), nil
}

// WriteFrame writes data as one frame in a single Write call.
func WriteFrame(w io.Writer, data []byte) error {
	buf, err := AppendFrame(make([]byte, 0, len(data)+frameHeader), data)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
