package discovery

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	adv := Advertisement{
		Status: "connected",
		TCP: &TransportBlob{
			Host: "192.168.0.5",
			Topics: map[string][]string{
				"sensor/+": {"9000"},
			},
		},
		TCPSecure: &TransportBlob{
			Host: "192.168.0.5",
			Topics: map[string][]string{
				"secret/#": {"9100", "aabbcc", "112233"},
			},
		},
	}

	got, err := Decode(Encode(adv))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(got, adv) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, adv)
	}
}

func TestEncodeDecodeNoTransports(t *testing.T) {
	adv := Advertisement{Status: "connected"}
	got, err := Decode(Encode(adv))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.TCP != nil || got.TCPSecure != nil || got.WebRTC != nil {
		t.Fatalf("expected no transport blobs, got %+v", got)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	full := Encode(Advertisement{
		Status: "connected",
		TCP:    &TransportBlob{Host: "h", Topics: map[string][]string{"a/b": {"1"}}},
	})
	if _, err := Decode(full[:len(full)-2]); err == nil {
		t.Fatal("expected an error decoding a truncated payload")
	}
}

func TestWebRTCAndTCPShareTupleShape(t *testing.T) {
	adv := Advertisement{
		Status: "connected",
		WebRTC: &TransportBlob{
			Host:   "192.168.0.5",
			Topics: map[string][]string{"video/#": {"/aitt/discovery/peerA/webrtc-signal/video", "aabbcc", "112233"}},
		},
	}
	got, err := Decode(Encode(adv))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	fields := got.WebRTC.Topics["video/#"]
	if len(fields) != 3 {
		t.Fatalf("expected a 3-field tuple like secure TCP, got %d fields", len(fields))
	}
}
