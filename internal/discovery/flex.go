package discovery

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// TransportBlob is one transport kind's slice of the discovery map: the
// peer's host plus, per advertised pattern, the tuple of string fields
// describing how to reach it — `[port]` for plaintext TCP, `[port, key,
// iv]` for TCP-secure, `[signal_topic, key, iv]` for WebRTC. TCP and
// WebRTC deliberately share this same variable-length-tuple shape (see
// SPEC_FULL.md §4.E) so a decoder needs only branch on tuple length.
type TransportBlob struct {
	Host   string
	Topics map[string][]string
}

// Advertisement is the full payload published (retained) to a peer's own
// discovery topic.
type Advertisement struct {
	Status    string
	TCP       *TransportBlob
	TCPSecure *TransportBlob
	WebRTC    *TransportBlob
}

// Encode and Decode implement a minimal, self-contained binary map/vector
// writer in the spirit of the original's flexbuffer payload (status string
// plus per-transport host + topic->tuple maps). This module does not
// interoperate with the original C++ AITT wire format, so byte-for-byte
// flexbuffer compatibility buys nothing; a small hand-rolled TLV encoding
// of the same logical shape is used instead of the official flexbuffers
// Go package — see DESIGN.md for why.
const (
	flagTCP       byte = 1 << 0
	flagTCPSecure byte = 1 << 1
	flagWebRTC    byte = 1 << 2
)

func Encode(adv Advertisement) []byte {
	var buf bytes.Buffer
	writeString(&buf, adv.Status)

	var flags byte
	if adv.TCP != nil {
		flags |= flagTCP
	}
	if adv.TCPSecure != nil {
		flags |= flagTCPSecure
	}
	if adv.WebRTC != nil {
		flags |= flagWebRTC
	}
	buf.WriteByte(flags)

	if adv.TCP != nil {
		writeBlob(&buf, adv.TCP)
	}
	if adv.TCPSecure != nil {
		writeBlob(&buf, adv.TCPSecure)
	}
	if adv.WebRTC != nil {
		writeBlob(&buf, adv.WebRTC)
	}
	return buf.Bytes()
}

func Decode(data []byte) (Advertisement, error) {
	r := bytes.NewReader(data)
	status, err := readString(r)
	if err != nil {
		return Advertisement{}, fmt.Errorf("discovery: decode status: %w", err)
	}
	flags, err := r.ReadByte()
	if err != nil {
		return Advertisement{}, fmt.Errorf("discovery: decode flags: %w", err)
	}

	adv := Advertisement{Status: status}
	if flags&flagTCP != 0 {
		blob, err := readBlob(r)
		if err != nil {
			return Advertisement{}, fmt.Errorf("discovery: decode tcp blob: %w", err)
		}
		adv.TCP = blob
	}
	if flags&flagTCPSecure != 0 {
		blob, err := readBlob(r)
		if err != nil {
			return Advertisement{}, fmt.Errorf("discovery: decode tcp-secure blob: %w", err)
		}
		adv.TCPSecure = blob
	}
	if flags&flagWebRTC != 0 {
		blob, err := readBlob(r)
		if err != nil {
			return Advertisement{}, fmt.Errorf("discovery: decode webrtc blob: %w", err)
		}
		adv.WebRTC = blob
	}
	return adv, nil
}

func writeBlob(buf *bytes.Buffer, b *TransportBlob) {
	writeString(buf, b.Host)
	writeUint32(buf, uint32(len(b.Topics)))
	for topic, fields := range b.Topics {
		writeString(buf, topic)
		writeUint32(buf, uint32(len(fields)))
		for _, f := range fields {
			writeString(buf, f)
		}
	}
}

func readBlob(r *bytes.Reader) (*TransportBlob, error) {
	host, err := readString(r)
	if err != nil {
		return nil, err
	}
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	topics := make(map[string][]string, n)
	for i := uint32(0); i < n; i++ {
		topic, err := readString(r)
		if err != nil {
			return nil, err
		}
		fieldCount, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		fields := make([]string, fieldCount)
		for j := range fields {
			f, err := readString(r)
			if err != nil {
				return nil, err
			}
			fields[j] = f
		}
		topics[topic] = fields
	}
	return &TransportBlob{Host: host, Topics: topics}, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
