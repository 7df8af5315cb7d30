package frame

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

// KeySize and IVSize are the fixed AES-128 key and IV lengths advertised
// over discovery (§4.A/§4.E of the spec): 16 bytes each.
const (
	KeySize = 16
	IVSize  = 16
)

// StreamPair holds the two independent AES-CTR keystreams a secure direct
// connection needs: one to encrypt everything this side writes, one to
// decrypt everything this side reads. Both derive from the same key/IV
// pair advertised in discovery, but each stream advances only over the
// bytes sent in its own direction — sharing a single cipher.Stream between
// read and write would desynchronize the keystream the instant both sides
// sent data concurrently.
type StreamPair struct {
	Enc cipher.Stream
	Dec cipher.Stream
}

// NewStreamPair builds fresh read/write keystreams from a 16-byte AES key
// and 16-byte IV. Every connection gets its own StreamPair — cipher state
// is never shared between connections even when two connections were
// advertised with the same key/IV (§9 "shared cipher context").
func NewStreamPair(key, iv []byte) (*StreamPair, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("frame: key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("frame: iv must be %d bytes, got %d", IVSize, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("frame: new cipher: %w", err)
	}
	// Two block instances so Enc and Dec never touch shared state through
	// the underlying cipher.Block.
	block2, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("frame: new cipher: %w", err)
	}
	return &StreamPair{
		Enc: cipher.NewCTR(block, iv),
		Dec: cipher.NewCTR(block2, iv),
	}, nil
}

// streamWriter XORs every byte written through w with the stream's
// keystream before forwarding it — the standard way to adapt a
// cipher.Stream into an io.Writer.
type streamWriter struct {
	s cipher.Stream
	w io.Writer
}

func (sw streamWriter) Write(p []byte) (int, error) {
	out := make([]byte, len(p))
	sw.s.XORKeyStream(out, p)
	return sw.w.Write(out)
}

type streamReader struct {
	s cipher.Stream
	r io.Reader
}

func (sr streamReader) Read(p []byte) (int, error) {
	n, err := sr.r.Read(p)
	if n > 0 {
		sr.s.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}
