package debugsrv

import (
	"testing"
)

type fakeSource struct {
	peerID string
	subs   int
	routes int
}

func (f fakeSource) PeerID() string        { return f.peerID }
func (f fakeSource) SubscriptionCount() int { return f.subs }
func (f fakeSource) RoutingTableSize() int  { return f.routes }

func TestNewMetricsRegistersDistinctCounters(t *testing.T) {
	m := NewMetrics()
	m.PublishesTotal.MQTT.Inc()
	m.PublishesTotal.TCP.Inc()
	m.PublishesTotal.TCP.Inc()

	if got := m.PublishesTotal.MQTT.Get(); got != 1 {
		t.Fatalf("mqtt counter = %d, want 1", got)
	}
	if got := m.PublishesTotal.TCP.Get(); got != 2 {
		t.Fatalf("tcp counter = %d, want 2", got)
	}
	if got := m.PublishesTotal.WebRTC.Get(); got != 0 {
		t.Fatalf("webrtc counter = %d, want 0 (untouched)", got)
	}
}

func TestServerPublishFeedsRingBuffer(t *testing.T) {
	src := fakeSource{peerID: "peer-1", subs: 2, routes: 5}
	s := NewServer("127.0.0.1:0", src, NewMetrics(), 4)

	for i := 0; i < 6; i++ {
		s.Publish("publish", map[string]any{"n": i})
	}

	snap := s.events.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("ring buffer len = %d, want 4 (capacity)", len(snap))
	}
	// oldest surviving entry should be n=2 since capacity 4 overwrote 0,1
	if snap[0].Detail["n"] != 2 {
		t.Fatalf("oldest surviving event = %v, want n=2", snap[0].Detail)
	}
}
