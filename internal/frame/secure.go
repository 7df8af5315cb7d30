package frame

import (
	"crypto/cipher"
	"io"
)

// WriteSecureFrame writes one length-prefixed frame whose length header and
// payload are both passed through enc before hitting the wire — the
// secure-mode wire layout from spec.md §4.A. The zero-length sentinel is
// still applied before encryption so a legitimate empty payload and a
// dropped connection remain distinguishable on the wire.
func WriteSecureFrame(w io.Writer, enc cipher.Stream, payload []byte) error {
	return WriteFrame(streamWriter{s: enc, w: w}, payload)
}

// ReadSecureFrame is the secure-mode counterpart of ReadFrame: the length
// header is decrypted first (so the real length is known before any
// payload bytes are consumed), then up to MaxMessageSize decrypted payload
// bytes are read. Any decryption or framing failure is reported as
// ErrPeerGone, matching plaintext short-read handling.
func ReadSecureFrame(r io.Reader, dec cipher.Stream) ([]byte, error) {
	return ReadFrame(streamReader{s: dec, r: r})
}

// WriteSecureMessage/ReadSecureMessage are the secure-mode equivalents of
// WriteMessage/ReadMessage.
func WriteSecureMessage(w io.Writer, enc cipher.Stream, topic string, payload []byte) error {
	if err := WriteSecureFrame(w, enc, []byte(topic)); err != nil {
		return err
	}
	return WriteSecureFrame(w, enc, payload)
}

func ReadSecureMessage(r io.Reader, dec cipher.Stream) (topic string, payload []byte, err error) {
	t, err := ReadSecureFrame(r, dec)
	if err != nil {
		return "", nil, err
	}
	p, err := ReadSecureFrame(r, dec)
	if err != nil {
		return "", nil, err
	}
	return string(t), p, nil
}
