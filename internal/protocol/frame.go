package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame is one length-prefixed packet as it appears on the wire.
type Frame struct {
	ID      uint16
	Payload []byte
}

// ReadFrame reads a single framed packet from a reader.
// Frame format: [id:2 LE][payload_len:2 LE][payload bytes...]
// A truncated header or payload is a connection-fatal error.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, fmt.Errorf("failed to read packet header: %w", err)
	}

	id := binary.LittleEndian.Uint16(hdr[0:2])
	length := binary.LittleEndian.Uint16(hdr[2:4])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("failed to read packet payload (%d bytes): %w", length, err)
	}

	return Frame{ID: id, Payload: payload}, nil
}

// WriteFrame writes a framed packet to a writer.
func WriteFrame(w io.Writer, f Frame) error {
	if _, err := w.Write(f.Bytes()); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	return nil
}

// Bytes returns the full wire representation including the header.
func (f Frame) Bytes() []byte {
	out := make([]byte, HeaderSize+len(f.Payload))
	binary.LittleEndian.PutUint16(out[0:2], f.ID)
	binary.LittleEndian.PutUint16(out[2:4], uint16(len(f.Payload)))
	copy(out[HeaderSize:], f.Payload)
	return out
}
