package direct

import (
	"crypto/cipher"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/aittgo/aitt/internal/frame"
	"github.com/aittgo/aitt/internal/routing"
)

// Cache lazily dials and reuses outbound connections, storing each one in
// the routing.Route it was dialed for (§4.C). It holds no state of its own
// beyond the dial timeout and a mutex that serializes every Send, so a
// route's slot is dialed at most once at a time and its frames are never
// interleaved — the cached connections live inside the routing table so a
// single RemovePeer/ClearConn also tears down the connection.
type Cache struct {
	dialTimeout time.Duration

	mu sync.Mutex
}

// NewCache returns a Cache using dialTimeout for every outbound dial. A
// zero dialTimeout means no timeout.
func NewCache(dialTimeout time.Duration) *Cache {
	return &Cache{dialTimeout: dialTimeout}
}

// outConn is the routing.Conn implementation this package caches: a TCP
// connection plus, for secure routes, the write-direction keystream.
type outConn struct {
	conn net.Conn
	enc  cipher.Stream // nil for plaintext
}

func (o *outConn) Close() error { return o.conn.Close() }

func (o *outConn) writeMessage(topic string, payload []byte) error {
	if o.enc != nil {
		return frame.WriteSecureMessage(o.conn, o.enc, topic, payload)
	}
	return frame.WriteMessage(o.conn, topic, payload)
}

// Send writes one (topic, payload) message to route's cached connection,
// dialing a fresh one first if the slot is empty. On write failure the
// slot's connection is cleared (not the routing entry itself — discovery
// owns peer membership per spec.md §4.C) so the next publish redials.
func (c *Cache) Send(route *routing.Route, kind routing.Kind, host, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	oc, _ := route.Conn().(*outConn)
	if oc == nil {
		var err error
		oc, err = c.dial(kind, host, route.Endpoint())
		if err != nil {
			return err
		}
		route.SetConn(oc)
	}

	if err := oc.writeMessage(topic, payload); err != nil {
		route.ClearConn()
		return fmt.Errorf("direct: send to %s: %w", host, err)
	}
	return nil
}

func (c *Cache) dial(kind routing.Kind, host string, ep routing.Endpoint) (*outConn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(int(ep.Port)))
	conn, err := net.DialTimeout("tcp", addr, c.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("direct: dial %s: %w", addr, err)
	}

	oc := &outConn{conn: conn}
	if kind == routing.KindTCPSecure {
		pair, err := frame.NewStreamPair(ep.Key, ep.IV)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("direct: dial %s: %w", addr, err)
		}
		oc.enc = pair.Enc
	}
	return oc, nil
}
