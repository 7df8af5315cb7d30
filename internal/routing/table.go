// Package routing implements the process-wide routing table: the live,
// eventually-consistent mapping from a locally-seen subscription pattern to
// the peers and endpoints serving it, maintained by the discovery agent and
// consulted by the outbound connection cache on every direct publish.
//
// The original design nests three nested maps (topic -> peer -> port ->
// connection) each owning part of the connection's lifetime. This version
// uses a two-level map, pattern -> (peer, transport), whose single Route
// value owns both the endpoint descriptor and the lazily
// established connection, so there is exactly one place a connection can be
// created, replaced, or torn down.
package routing

import (
	"io"
	"sync"
)

// Kind identifies which transport an Endpoint describes. Like the public
// TransportKind bitmask it uses single-bit values (never an OR'd mask — a
// Route always describes exactly one transport), but the numeric values
// differ from TransportKind's; the engine converts between the two.
type Kind uint8

const (
	KindTCP       Kind = 1 << iota // plaintext direct channel
	KindTCPSecure                  // AES-128 direct channel
	KindWebRTC                     // data-channel direct channel
)

// Endpoint is the remote descriptor advertised over discovery for one
// (pattern, peer, transport) triple. Equality for the purpose of detecting
// "the peer advertised a new port" is EndpointKey() alone, matching
// spec.md §3 ("Equality is by port alone").
type Endpoint struct {
	Port        uint16 // TCP / TCP-secure
	SignalTopic string // WebRTC
	Key, IV     []byte // present only for secure transports
}

// EndpointKey returns the value used to detect whether an advertised
// endpoint changed. For TCP transports that is the port; for WebRTC it is
// the signaling topic — the two fields spec.md §3 and SPEC_FULL.md §3
// single out as "equality is by X alone" for their respective transports.
func (e Endpoint) EndpointKey(k Kind) any {
	if k == KindWebRTC {
		return e.SignalTopic
	}
	return e.Port
}

// Conn is the minimal surface the routing table needs from an outbound
// connection: just enough to tear it down when a slot is replaced or a
// peer departs. The direct/webrtcx packages supply the concrete type.
type Conn interface {
	io.Closer
}

// Route is one (pattern, peer, transport) entry: the advertised endpoint
// plus the lazily-established outbound connection, if any. The zero value
// is not usable; construct via Table.Upsert.
type Route struct {
	mu       sync.Mutex
	endpoint Endpoint
	conn     Conn
}

// Endpoint returns the currently advertised endpoint descriptor.
func (r *Route) Endpoint() Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoint
}

// Conn returns the cached connection, or nil if none has been established
// yet (or it was cleared after a send failure).
func (r *Route) Conn() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// SetConn populates the slot's connection. Call only after confirming via
// Conn() that the slot is empty — SetConn does not itself check for a
// race; the connection cache is expected to serialize dials per route.
func (r *Route) SetConn(c Conn) {
	r.mu.Lock()
	r.conn = c
	r.mu.Unlock()
}

// ClearConn drops the cached connection (closing it first if present).
// Called on send failure (§4.C "known gap" resolution: first failure
// clears the slot and relies on discovery to eventually replace it) and
// when a slot's connection must be replaced.
func (r *Route) ClearConn() {
	r.mu.Lock()
	c := r.conn
	r.conn = nil
	r.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

type peerKey struct {
	PeerID string
	Kind   Kind
}

// Table is the process-wide routing table described in spec.md §3/§4.D.
// All mutation happens under mu; publish traversal also takes mu (as a
// read-lock) for the duration of the fan-out, matching the original's
// "hold the routing-table lock, iterate topics" design — see engine
// package for the resulting lock-ordering discipline.
type Table struct {
	mu sync.RWMutex
	// routes is keyed by the *subscription pattern* a remote peer
	// advertised, not by the publish topic — the publisher's traversal is
	// asymmetric: it matches its outgoing topic against the patterns
	// peers advertised, which may themselves contain wildcards.
	routes map[string]map[peerKey]*Route
}

// New creates an empty routing table.
func New() *Table {
	return &Table{routes: make(map[string]map[peerKey]*Route)}
}

// Upsert applies one discovery-derived (pattern, peer, transport, endpoint)
// update, implementing the three cases from spec.md §4.D:
//   - new pattern or new peer: insert with no connection yet.
//   - existing peer whose endpoint key changed: drop the old connection
//     and replace the endpoint (clean slate for the next send).
//   - endpoint key unchanged: no-op (idempotent).
func (t *Table) Upsert(pattern, peerID string, kind Kind, ep Endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	peers, ok := t.routes[pattern]
	if !ok {
		peers = make(map[peerKey]*Route)
		t.routes[pattern] = peers
	}

	pk := peerKey{PeerID: peerID, Kind: kind}
	existing, ok := peers[pk]
	if !ok {
		peers[pk] = &Route{endpoint: ep}
		return
	}

	if existing.Endpoint().EndpointKey(kind) == ep.EndpointKey(kind) {
		return // idempotent: nothing changed
	}
	existing.ClearConn()
	existing.mu.Lock()
	existing.endpoint = ep
	existing.mu.Unlock()
}

// RemovePeer evicts every route entry for peerID across all patterns and
// transports, closing any open connections first. Called when the peer's
// broker last-will fires (§4.E "peer departed").
func (t *Table) RemovePeer(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for pattern, peers := range t.routes {
		for pk, route := range peers {
			if pk.PeerID != peerID {
				continue
			}
			route.ClearConn()
			delete(peers, pk)
		}
		if len(peers) == 0 {
			delete(t.routes, pattern)
		}
	}
}

// Match holds the read lock and invokes fn once for every (pattern, peer,
// transport, route) entry whose pattern MQTT-matches topic. fn runs with
// the table's read lock held, matching the original design's traversal
// scope; fn must not call back into Table.
func (t *Table) Match(topic string, matches func(pattern string) bool, fn func(peerID string, kind Kind, route *Route)) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for pattern, peers := range t.routes {
		if !matches(pattern) {
			continue
		}
		for pk, route := range peers {
			fn(pk.PeerID, pk.Kind, route)
		}
	}
}

// Size returns the total number of (pattern, peer, transport) routes, for
// diagnostics.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, peers := range t.routes {
		n += len(peers)
	}
	return n
}
