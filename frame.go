package main

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameBytes guards against a corrupt or hostile length prefix asking for
// an unreasonable allocation.
const maxFrameBytes = 256 << 20 // 256MB

// writeFrame emits [4-byte big-endian length][body] as a single contiguous
// write where the underlying io.Writer supports it (spec §4.1).
func writeFrame(w io.Writer, body []byte) error {
	header := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	_, err := w.Write(append(header, body...))
	return err
}

// readFrame reads exactly one frame: a 4-byte big-endian length N followed
// by N bytes of body. Both reads loop until fully consumed or the stream
// ends, since partial reads are common on real sockets (spec §4.1).
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("frame: declared length %d exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("frame: short read: %w", err)
	}
	return body, nil
}

// writeEnvelope seals, encodes, and frames env onto w.
func writeEnvelope(w io.Writer, env Envelope) error {
	sealed, err := Seal(env)
	if err != nil {
		return err
	}
	body, err := EncodeEnvelope(sealed)
	if err != nil {
		return err
	}
	return writeFrame(w, body)
}

// readEnvelope reads one frame off r and decodes+verifies it as an Envelope.
func readEnvelope(r io.Reader) (Envelope, error) {
	body, err := readFrame(r)
	if err != nil {
		return Envelope{}, err
	}
	return DecodeEnvelope(body)
}
