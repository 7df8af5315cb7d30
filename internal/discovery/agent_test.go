package discovery

import (
	"testing"

	"github.com/aittgo/aitt/internal/routing"
)

func TestFieldsRoundTrip(t *testing.T) {
	tcp := fieldsFor(routing.KindTCP, routing.Endpoint{Port: 9000})
	ep, ok := parseTCPFields(tcp)
	if !ok || ep.Port != 9000 {
		t.Fatalf("TCP round trip failed: %+v", ep)
	}

	secure := fieldsFor(routing.KindTCPSecure, routing.Endpoint{Port: 9100, Key: []byte{1, 2, 3}, IV: []byte{4, 5, 6}})
	ep, ok = parseSecureTCPFields(secure)
	if !ok || ep.Port != 9100 || len(ep.Key) != 3 || len(ep.IV) != 3 {
		t.Fatalf("TCP-secure round trip failed: %+v", ep)
	}

	rtc := fieldsFor(routing.KindWebRTC, routing.Endpoint{SignalTopic: "aitt/signal/peerA/video", Key: []byte{9}, IV: []byte{8}})
	ep, ok = parseWebRTCFields(rtc)
	if !ok || ep.SignalTopic != "aitt/signal/peerA/video" {
		t.Fatalf("WebRTC round trip failed: %+v", ep)
	}
}

func TestAgentDispatchInvokesUpdateForEachTransport(t *testing.T) {
	var updates []string
	a := &Agent{
		prefix: "/aitt/discovery",
		peerID: "self",
		onUpdate: func(peerID, host string, kind routing.Kind, ep routing.Endpoint, pattern string) {
			updates = append(updates, peerID+"/"+pattern)
		},
		local: make(map[string]map[routing.Kind]routing.Endpoint),
	}

	adv := Advertisement{
		Status: "connected",
		TCP: &TransportBlob{
			Host:   "10.0.0.5",
			Topics: map[string][]string{"sensor/temp": {"9000"}},
		},
		WebRTC: &TransportBlob{
			Host:   "10.0.0.5",
			Topics: map[string][]string{"video/#": {"sig/peerA/video", "aa", "bb"}},
		},
	}
	a.dispatch("peerA", adv)

	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %v", updates)
	}
}

func TestAgentHandleMessageDeparture(t *testing.T) {
	var departed string
	a := &Agent{
		prefix:   "/aitt/discovery",
		peerID:   "self",
		onDepart: func(peerID string) { departed = peerID },
		local:    make(map[string]map[routing.Kind]routing.Endpoint),
	}
	a.handleMessage("/aitt/discovery/peerA", nil, nil)
	if departed != "peerA" {
		t.Fatalf("expected departure for peerA, got %q", departed)
	}
}

func TestAgentHandleMessageIgnoresOwnEcho(t *testing.T) {
	called := false
	a := &Agent{
		prefix:   "/aitt/discovery",
		peerID:   "self",
		onDepart: func(string) { called = true },
		onUpdate: func(string, string, routing.Kind, routing.Endpoint, string) { called = true },
		local:    make(map[string]map[routing.Kind]routing.Endpoint),
	}
	a.handleMessage("/aitt/discovery/self", []byte("anything"), nil)
	if called {
		t.Fatal("agent reacted to its own retained advertisement")
	}
}

func TestBuildAdvertisementLocked(t *testing.T) {
	a := &Agent{
		myIP:  "192.168.1.1",
		local: make(map[string]map[routing.Kind]routing.Endpoint),
	}
	a.local["sensor/+"] = map[routing.Kind]routing.Endpoint{
		routing.KindTCP: {Port: 9000},
	}
	adv := a.buildAdvertisementLocked()
	if adv.TCP == nil || adv.TCP.Host != "192.168.1.1" {
		t.Fatalf("expected TCP blob with host set, got %+v", adv.TCP)
	}
	if fields := adv.TCP.Topics["sensor/+"]; len(fields) != 1 || fields[0] != "9000" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}
