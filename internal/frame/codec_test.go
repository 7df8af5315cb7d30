package frame

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0xAB}, 1600),
		[]byte("topic/with/slashes"),
	}
	for _, b := range cases {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, b); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(got, b) {
			t.Errorf("round trip mismatch: got %v want %v", got, b)
		}
	}
}

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, "sensor/temp", []byte("23.5")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	topic, payload, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if topic != "sensor/temp" || string(payload) != "23.5" {
		t.Errorf("got (%q, %q)", topic, payload)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	hdr := make([]byte, 8)
	for i := range hdr {
		hdr[i] = 0xFE // large but not the sentinel
	}
	buf.Write(hdr)
	if _, err := ReadFrame(&buf); err != ErrTooLarge {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestReadFrameShortRead(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{1, 2, 3}) // fewer than 8 bytes for the length header
	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected an error for a short read")
	}
}

func TestSecureFrameRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, KeySize)
	iv := bytes.Repeat([]byte{0x02}, IVSize)

	sender, err := NewStreamPair(key, iv)
	if err != nil {
		t.Fatalf("NewStreamPair: %v", err)
	}
	receiver, err := NewStreamPair(key, iv)
	if err != nil {
		t.Fatalf("NewStreamPair: %v", err)
	}

	var wire bytes.Buffer
	payloads := [][]byte{[]byte("ping"), {}, bytes.Repeat([]byte{0x42}, 4096)}
	for _, p := range payloads {
		if err := WriteSecureFrame(&wire, sender.Enc, p); err != nil {
			t.Fatalf("WriteSecureFrame: %v", err)
		}
	}
	for _, want := range payloads {
		got, err := ReadSecureFrame(&wire, receiver.Dec)
		if err != nil {
			t.Fatalf("ReadSecureFrame: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("secure round trip mismatch: got %v want %v", got, want)
		}
	}
}

func TestSecureEquivalence(t *testing.T) {
	key := bytes.Repeat([]byte{0x03}, KeySize)
	iv := bytes.Repeat([]byte{0x04}, IVSize)

	plain := []byte("identical payload across transports")

	var plainWire bytes.Buffer
	if err := WriteFrame(&plainWire, plain); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	gotPlain, err := ReadFrame(&plainWire)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	pair, err := NewStreamPair(key, iv)
	if err != nil {
		t.Fatalf("NewStreamPair: %v", err)
	}
	var secureWire bytes.Buffer
	if err := WriteSecureFrame(&secureWire, pair.Enc, plain); err != nil {
		t.Fatalf("WriteSecureFrame: %v", err)
	}
	pair2, _ := NewStreamPair(key, iv)
	gotSecure, err := ReadSecureFrame(&secureWire, pair2.Dec)
	if err != nil {
		t.Fatalf("ReadSecureFrame: %v", err)
	}

	if !bytes.Equal(gotPlain, gotSecure) {
		t.Errorf("plaintext and secure frames decoded to different payloads")
	}
}
