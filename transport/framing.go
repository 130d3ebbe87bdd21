// Package transport implements the reliable broadcast collaborator
// spec.md §1 and §9 treat as external: length-delimited framed TCP
// connections between the IdP and each witness, plus a retrying sender
// that keeps resending until an ack arrives or the caller cancels.
// Grounded on the teacher's p2p/msg.go framing conventions and its
// MsgPipe in-memory transport, generalized from devp2p's RLPx message
// framing to this protocol's simpler tagged-union payloads.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame to guard against a misbehaving or
// corrupt peer driving unbounded memory allocation.
const MaxFrameSize = 64 << 20 // 64 MiB

// WriteFrame writes payload prefixed with its 4-byte big-endian length,
// per spec.md §6.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("transport: frame too large (%d bytes)", len(payload))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("transport: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("transport: frame too large (%d bytes)", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("transport: read frame body: %w", err)
	}
	return payload, nil
}
