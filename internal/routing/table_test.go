package routing

import (
	"errors"
	"testing"

	"github.com/aittgo/aitt/internal/topicmatch"
)

type fakeConn struct {
	closed bool
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func matcher(topic string) func(string) bool {
	return func(pattern string) bool { return topicmatch.Match(pattern, topic) }
}

func TestUpsertNewPatternAndPeer(t *testing.T) {
	tbl := New()
	tbl.Upsert("sensor/+", "peerA", KindTCP, Endpoint{Port: 9000})

	if got := tbl.Size(); got != 1 {
		t.Fatalf("Size() = %d, want 1", got)
	}

	var seen []string
	tbl.Match("sensor/temp", matcher("sensor/temp"), func(peerID string, kind Kind, r *Route) {
		seen = append(seen, peerID)
		if r.Endpoint().Port != 9000 {
			t.Errorf("unexpected port %d", r.Endpoint().Port)
		}
	})
	if len(seen) != 1 || seen[0] != "peerA" {
		t.Fatalf("Match visited %v, want [peerA]", seen)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	tbl := New()
	tbl.Upsert("sensor/+", "peerA", KindTCP, Endpoint{Port: 9000})

	var route *Route
	tbl.Match("sensor/temp", matcher("sensor/temp"), func(_ string, _ Kind, r *Route) { route = r })
	conn := &fakeConn{}
	route.SetConn(conn)

	// Re-advertising the same endpoint must not disturb the cached connection.
	tbl.Upsert("sensor/+", "peerA", KindTCP, Endpoint{Port: 9000})
	if conn.closed {
		t.Fatal("idempotent upsert closed an untouched connection")
	}
	if route.Conn() != conn {
		t.Fatal("idempotent upsert dropped the cached connection")
	}
}

func TestUpsertEndpointChangeClearsConn(t *testing.T) {
	tbl := New()
	tbl.Upsert("sensor/+", "peerA", KindTCP, Endpoint{Port: 9000})

	var route *Route
	tbl.Match("sensor/temp", matcher("sensor/temp"), func(_ string, _ Kind, r *Route) { route = r })
	conn := &fakeConn{}
	route.SetConn(conn)

	tbl.Upsert("sensor/+", "peerA", KindTCP, Endpoint{Port: 9100})
	if !conn.closed {
		t.Fatal("endpoint change did not close the stale connection")
	}
	if route.Conn() != nil {
		t.Fatal("endpoint change left a stale connection cached")
	}
	if route.Endpoint().Port != 9100 {
		t.Fatalf("Endpoint().Port = %d, want 9100", route.Endpoint().Port)
	}
}

func TestRemovePeerClosesConnsAndPrunesEmptyPatterns(t *testing.T) {
	tbl := New()
	tbl.Upsert("sensor/+", "peerA", KindTCP, Endpoint{Port: 9000})
	tbl.Upsert("sensor/+", "peerB", KindTCP, Endpoint{Port: 9001})

	var routeA *Route
	tbl.Match("sensor/temp", matcher("sensor/temp"), func(peerID string, _ Kind, r *Route) {
		if peerID == "peerA" {
			routeA = r
		}
	})
	connA := &fakeConn{}
	routeA.SetConn(connA)

	tbl.RemovePeer("peerA")
	if !connA.closed {
		t.Fatal("RemovePeer did not close peerA's connection")
	}
	if got := tbl.Size(); got != 1 {
		t.Fatalf("Size() after RemovePeer = %d, want 1 (peerB remains)", got)
	}

	tbl.RemovePeer("peerB")
	if got := tbl.Size(); got != 0 {
		t.Fatalf("Size() after removing all peers = %d, want 0", got)
	}
}

func TestMatchWildcardPatterns(t *testing.T) {
	tbl := New()
	tbl.Upsert("a/#", "peerA", KindWebRTC, Endpoint{SignalTopic: "aitt/signal/peerA"})
	tbl.Upsert("b/+/c", "peerB", KindTCPSecure, Endpoint{Port: 7000})

	var matched []string
	tbl.Match("a/b/c/d", matcher("a/b/c/d"), func(peerID string, _ Kind, _ *Route) {
		matched = append(matched, peerID)
	})
	if len(matched) != 1 || matched[0] != "peerA" {
		t.Fatalf("Match(a/b/c/d) = %v, want [peerA]", matched)
	}

	matched = nil
	tbl.Match("b/x/c", matcher("b/x/c"), func(peerID string, _ Kind, _ *Route) {
		matched = append(matched, peerID)
	})
	if len(matched) != 1 || matched[0] != "peerB" {
		t.Fatalf("Match(b/x/c) = %v, want [peerB]", matched)
	}
}

func TestClearConnIsSafeWhenEmpty(t *testing.T) {
	r := &Route{}
	r.ClearConn() // must not panic on a nil conn
	if r.Conn() != nil {
		t.Fatal("expected nil conn")
	}
}

type errConn struct{ err error }

func (e *errConn) Close() error { return e.err }

func TestEndpointKeySelectsFieldByTransport(t *testing.T) {
	ep := Endpoint{Port: 42, SignalTopic: "topic/x"}
	if ep.EndpointKey(KindTCP) != uint16(42) {
		t.Errorf("TCP EndpointKey = %v, want 42", ep.EndpointKey(KindTCP))
	}
	if ep.EndpointKey(KindWebRTC) != "topic/x" {
		t.Errorf("WebRTC EndpointKey = %v, want topic/x", ep.EndpointKey(KindWebRTC))
	}
}

func TestRouteClearConnPropagatesCloseButDoesNotPanic(t *testing.T) {
	r := &Route{conn: &errConn{err: errors.New("boom")}}
	r.ClearConn()
	if r.Conn() != nil {
		t.Fatal("ClearConn left a connection behind")
	}
}
