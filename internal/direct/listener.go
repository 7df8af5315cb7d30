// Package direct implements the TCP (and TCP-secure) direct-channel
// transport: the accept-side endpoint bound on subscribe (§4.B) and the
// lazily-dialed outbound connection cache consulted on publish (§4.C).
package direct

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"net"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/aittgo/aitt/internal/frame"
)

var log = logging.Logger("aitt/direct")

// MessageFunc receives one decoded (topic, payload) message read off an
// accepted connection, along with the remote address it arrived from.
type MessageFunc func(topic string, payload []byte, from net.Addr)

// Endpoint is the accept side of a direct channel: one OS-assigned TCP
// port, optionally paired with a fresh AES-128 key/IV for secure mode.
// Every accepted connection gets its own reader goroutine — the idiomatic
// substitute for the original's single event-loop watch per socket.
type Endpoint struct {
	ln     net.Listener
	port   uint16
	secure bool
	key    []byte
	iv     []byte
	onMsg  MessageFunc

	mu       sync.Mutex
	accepted map[net.Conn]struct{}
	closed   bool
}

// Listen binds 0.0.0.0:0, generating a fresh key/IV when secure is true,
// and starts accepting connections in the background. onMsg is invoked
// once per decoded message from any accepted connection; it must not
// block — it is expected to hand off to the engine's dispatch channel.
func Listen(secure bool, onMsg MessageFunc) (*Endpoint, error) {
	ln, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("direct: listen: %w", err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)

	e := &Endpoint{
		ln:       ln,
		port:     port,
		secure:   secure,
		onMsg:    onMsg,
		accepted: make(map[net.Conn]struct{}),
	}
	if secure {
		e.key = make([]byte, frame.KeySize)
		e.iv = make([]byte, frame.IVSize)
		if _, err := rand.Read(e.key); err != nil {
			ln.Close()
			return nil, fmt.Errorf("direct: generate key: %w", err)
		}
		if _, err := rand.Read(e.iv); err != nil {
			ln.Close()
			return nil, fmt.Errorf("direct: generate iv: %w", err)
		}
	}

	go e.acceptLoop()
	return e, nil
}

// Port returns the OS-assigned listening port.
func (e *Endpoint) Port() uint16 { return e.port }

// Key and IV are nil for a plaintext endpoint.
func (e *Endpoint) Key() []byte { return e.key }
func (e *Endpoint) IV() []byte  { return e.iv }

func (e *Endpoint) acceptLoop() {
	for {
		conn, err := e.ln.Accept()
		if err != nil {
			return // listener closed; fatal per spec.md §7 — subscription is torn down by Close
		}
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			conn.Close()
			return
		}
		e.accepted[conn] = struct{}{}
		e.mu.Unlock()
		go e.readLoop(conn)
	}
}

func (e *Endpoint) readLoop(conn net.Conn) {
	defer e.forget(conn)
	defer conn.Close()

	var dec cipher.Stream
	if e.secure {
		pair, err := frame.NewStreamPair(e.key, e.iv)
		if err != nil {
			log.Warnw("secure endpoint: bad key/iv", "err", err)
			return
		}
		dec = pair.Dec
	}

	for {
		var (
			topic   string
			payload []byte
			err     error
		)
		if e.secure {
			topic, payload, err = frame.ReadSecureMessage(conn, dec)
		} else {
			topic, payload, err = frame.ReadMessage(conn)
		}
		if err != nil {
			return // peer gone; connection removed from accepted set by the deferred forget
		}
		e.onMsg(topic, payload, conn.RemoteAddr())
	}
}

func (e *Endpoint) forget(conn net.Conn) {
	e.mu.Lock()
	delete(e.accepted, conn)
	e.mu.Unlock()
}

// Close stops accepting new connections and closes every currently
// accepted connection, implementing the synchronous teardown
// Unsubscribe/Disconnect require (spec.md §5).
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conns := make([]net.Conn, 0, len(e.accepted))
	for c := range e.accepted {
		conns = append(conns, c)
	}
	e.accepted = make(map[net.Conn]struct{})
	e.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return e.ln.Close()
}
