package util

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common timeout durations used across the engine's components.
const (
	DefaultDialTimeout   = 3 * time.Second
	DefaultBrokerTimeout = 5 * time.Second
	ShortTimeout         = 2 * time.Second
)

// ValidateClientID validates and normalizes a client (peer) identifier.
// Returns the trimmed id and an error if it is empty or contains characters
// that would be unsafe inside an MQTT topic segment.
func ValidateClientID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("client id is empty")
	}
	if strings.ContainsAny(id, "/+#") {
		return "", errors.New("client id must not contain '/', '+' or '#'")
	}
	return id, nil
}

// NewPeerID generates a fresh random identity id for a config created via
// config.Ensure, so two instances never collide on their discovery topic.
func NewPeerID() string {
	return "peer-" + uuid.NewString()
}

// WriteJSONFile writes a JSON object to a file, creating parent directories if needed.
func WriteJSONFile(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
