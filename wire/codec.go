package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	cjson "github.com/clarketm/json"
)

// maxFrameLength bounds a single frame so a corrupt or hostile length prefix
// cannot make a node allocate unbounded memory before the read fails.
const maxFrameLength = 64 << 20 // 64 MiB

// WriteFrame writes one length-prefixed frame: an 8-byte little-endian
// length, as spec.md §6 requires, followed by v encoded with clarketm/json
// (a drop-in, field-order-preserving replacement for encoding/json already
// required by the teacher's go.mod — see controller/util/util.go for the
// teacher's own encoding/binary usage this framing follows).
func WriteFrame(w io.Writer, v interface{}) error {
	payload, err := cjson.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	var lengthPrefix [8]byte
	binary.LittleEndian.PutUint64(lengthPrefix[:], uint64(len(payload)))
	if _, err := w.Write(lengthPrefix[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and decodes it into v.
func ReadFrame(r io.Reader, v interface{}) error {
	var lengthPrefix [8]byte
	if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}
	length := binary.LittleEndian.Uint64(lengthPrefix[:])
	if length > maxFrameLength {
		return fmt.Errorf("frame length %d exceeds maximum %d", length, maxFrameLength)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := cjson.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

// WriteRequest frames a DaemonRequest.
func WriteRequest(w io.Writer, req DaemonRequest) error {
	return WriteFrame(w, req)
}

// ReadRequest reads one framed DaemonRequest.
func ReadRequest(r io.Reader) (DaemonRequest, error) {
	var req DaemonRequest
	err := ReadFrame(r, &req)
	return req, err
}

// WriteReply frames a DaemonReply.
func WriteReply(w io.Writer, reply DaemonReply) error {
	return WriteFrame(w, reply)
}

// ReadReply reads one framed DaemonReply.
func ReadReply(r io.Reader) (DaemonReply, error) {
	var reply DaemonReply
	err := ReadFrame(r, &reply)
	return reply, err
}
