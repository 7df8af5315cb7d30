package engine

import (
	"testing"

	"github.com/aittgo/aitt/internal/routing"
)

func TestToRoutingKind(t *testing.T) {
	cases := []struct {
		in   TransportKind
		want routing.Kind
	}{
		{TCP, routing.KindTCP},
		{TCPSecure, routing.KindTCPSecure},
		{WebRTC, routing.KindWebRTC},
	}
	for _, c := range cases {
		if got := toRoutingKind(c.in); got != c.want {
			t.Errorf("toRoutingKind(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestTransportKindMaskIsBitwiseDistinct(t *testing.T) {
	all := []TransportKind{MQTT, TCP, TCPSecure, WebRTC}
	for i, a := range all {
		for j, b := range all {
			if i == j {
				continue
			}
			if a&b != 0 {
				t.Fatalf("transport kinds %v and %v overlap", a, b)
			}
		}
	}
	var mask TransportKind
	for _, k := range all {
		mask |= k
	}
	if mask&TCP == 0 || mask&WebRTC == 0 {
		t.Fatal("OR'd mask lost a bit")
	}
}

func TestOnWebRTCMessageDispatchesOnlyToMatchingPatterns(t *testing.T) {
	e := &Engine{
		rtcHandlers: make(map[string]MessageHandler),
		dispatch:    make(chan func(), 8),
		stop:        make(chan struct{}),
	}

	var gotSensor, gotOther []string
	e.rtcHandlers["sensor/#"] = func(topic string, payload []byte, fromPeer string) {
		gotSensor = append(gotSensor, topic)
	}
	e.rtcHandlers["other/+"] = func(topic string, payload []byte, fromPeer string) {
		gotOther = append(gotOther, topic)
	}

	e.onWebRTCMessage("sensor/temp", []byte("23"))
	e.onWebRTCMessage("other/x", []byte("y"))
	e.onWebRTCMessage("unrelated/topic", []byte("z"))

	// drain the dispatch channel synchronously since no dispatch loop is
	// running in this test.
	for i := 0; i < 2; i++ {
		(<-e.dispatch)()
	}
	select {
	case fn := <-e.dispatch:
		fn()
		t.Fatal("unexpected extra dispatched callback")
	default:
	}

	if len(gotSensor) != 1 || gotSensor[0] != "sensor/temp" {
		t.Fatalf("sensor handler got %v", gotSensor)
	}
	if len(gotOther) != 1 || gotOther[0] != "other/x" {
		t.Fatalf("other handler got %v", gotOther)
	}
}

func TestPublishDirectSkipsTransportsNotInMask(t *testing.T) {
	table := routing.New()
	table.Upsert("sensor/#", "peer-1", routing.KindTCP, routing.Endpoint{Port: 4000})
	table.Upsert("sensor/#", "peer-1", routing.KindWebRTC, routing.Endpoint{SignalTopic: "sig"})

	e := &Engine{table: table, addrs: newPeerAddrMap()}

	// No cache/rtc configured; Send would panic if reached, so this only
	// passes if the TCPSecure-only mask filters out both registered kinds.
	e.publishDirect("sensor/temp", []byte("23"), TCPSecure)
}
