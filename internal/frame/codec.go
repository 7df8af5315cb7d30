// Package frame implements the length-prefixed frame wire format used by
// every direct-channel transport (plain TCP, TCP-secure, WebRTC data
// channel). Two consecutive frames make up one logical message: a topic
// frame followed by a payload frame.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize is AITT_MESSAGE_MAX: the hard upper bound on a decoded
// frame length, enforced before any allocation to stop a hostile peer from
// inflating the length field to exhaust memory.
const MaxMessageSize = 4 << 20 // 4 MiB

// zeroLenSentinel is the length-field value that stands in for an
// intentional zero-byte payload. It must stay exactly 0xFFFFFFFF for wire
// compatibility: a real read of zero bytes from the socket means the peer
// is gone, so an empty frame needs a value no legitimate length can take.
const zeroLenSentinel = 0xFFFFFFFF

// ErrPeerGone is returned by Read when the underlying connection produced a
// short read, a length outside bounds, or (for secure frames) a
// decryption failure — all three are treated identically: the connection
// is unusable and must be torn down.
var ErrPeerGone = errors.New("frame: peer gone")

// ErrTooLarge is returned when a decoded length exceeds MaxMessageSize. It
// wraps ErrPeerGone, so errors.Is(err, ErrPeerGone) holds for it too.
var ErrTooLarge = fmt.Errorf("%w: length exceeds max message size (%d)", ErrPeerGone, MaxMessageSize)

// WriteFrame writes one length-prefixed plaintext frame.
func WriteFrame(w io.Writer, payload []byte) error {
	n := uint64(len(payload))
	if n == 0 {
		n = zeroLenSentinel
	}
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], n)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrPeerGone, err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrPeerGone, err)
	}
	return nil
}

// ReadFrame reads one length-prefixed plaintext frame, returning a non-nil
// zero-length slice for a frame sent as an intentional empty payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerGone, err)
	}
	n := binary.LittleEndian.Uint64(hdr[:])
	if n == zeroLenSentinel {
		return []byte{}, nil
	}
	if n > MaxMessageSize {
		return nil, ErrTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerGone, err)
	}
	return buf, nil
}

// WriteMessage writes the two-frame (topic, payload) message that makes up
// one logical publish on a direct channel.
func WriteMessage(w io.Writer, topic string, payload []byte) error {
	if err := WriteFrame(w, []byte(topic)); err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadMessage reads a (topic, payload) message pair.
func ReadMessage(r io.Reader) (topic string, payload []byte, err error) {
	t, err := ReadFrame(r)
	if err != nil {
		return "", nil, err
	}
	p, err := ReadFrame(r)
	if err != nil {
		return "", nil, err
	}
	return string(t), p, nil
}
