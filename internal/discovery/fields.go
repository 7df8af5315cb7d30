package discovery

import (
	"encoding/hex"
	"strconv"

	"github.com/aittgo/aitt/internal/routing"
)

// fieldsFor builds the per-topic tuple advertised for one (kind, endpoint)
// pair: `[port]` for plaintext TCP, `[port, key_hex, iv_hex]` for
// TCP-secure, `[signal_topic, key_hex, iv_hex]` for WebRTC.
func fieldsFor(kind routing.Kind, ep routing.Endpoint) []string {
	switch kind {
	case routing.KindTCP:
		return []string{strconv.Itoa(int(ep.Port))}
	case routing.KindTCPSecure:
		return []string{strconv.Itoa(int(ep.Port)), hex.EncodeToString(ep.Key), hex.EncodeToString(ep.IV)}
	default: // WebRTC
		return []string{ep.SignalTopic, hex.EncodeToString(ep.Key), hex.EncodeToString(ep.IV)}
	}
}

func parseTCPFields(fields []string) (routing.Endpoint, bool) {
	if len(fields) != 1 {
		return routing.Endpoint{}, false
	}
	port, err := strconv.Atoi(fields[0])
	if err != nil || port < 0 || port > 0xFFFF {
		return routing.Endpoint{}, false
	}
	return routing.Endpoint{Port: uint16(port)}, true
}

func parseSecureTCPFields(fields []string) (routing.Endpoint, bool) {
	if len(fields) != 3 {
		return routing.Endpoint{}, false
	}
	port, err := strconv.Atoi(fields[0])
	if err != nil || port < 0 || port > 0xFFFF {
		return routing.Endpoint{}, false
	}
	key, err := hex.DecodeString(fields[1])
	if err != nil {
		return routing.Endpoint{}, false
	}
	iv, err := hex.DecodeString(fields[2])
	if err != nil {
		return routing.Endpoint{}, false
	}
	return routing.Endpoint{Port: uint16(port), Key: key, IV: iv}, true
}

func parseWebRTCFields(fields []string) (routing.Endpoint, bool) {
	if len(fields) != 3 {
		return routing.Endpoint{}, false
	}
	key, err := hex.DecodeString(fields[1])
	if err != nil {
		return routing.Endpoint{}, false
	}
	iv, err := hex.DecodeString(fields[2])
	if err != nil {
		return routing.Endpoint{}, false
	}
	return routing.Endpoint{SignalTopic: fields[0], Key: key, IV: iv}, true
}
