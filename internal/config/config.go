// Package config loads, validates, and hot-reloads the engine's JSON
// configuration file, following the teacher's Default/Load/Save/Ensure
// convention.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aittgo/aitt/internal/util"
)

type Config struct {
	Identity  Identity  `json:"identity"`
	Broker    Broker    `json:"broker"`
	Direct    Direct    `json:"direct"`
	Discovery Discovery `json:"discovery"`
	Reply     Reply     `json:"reply"`
	Debug     Debug     `json:"debug"`
}

type Identity struct {
	ID      string `json:"id"`
	KeyFile string `json:"key_file"`
}

type Broker struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	CleanSession bool   `json:"clean_session"`
}

type Direct struct {
	MyIP string `json:"my_ip"`
}

type Discovery struct {
	Prefix string `json:"prefix"`
}

type Reply struct {
	DefaultTimeoutMS int `json:"default_timeout_ms"`
}

type Debug struct {
	Addr string `json:"addr"` // empty disables the diagnostics server
}

func Default() Config {
	return Config{
		Identity: Identity{
			ID:      "",
			KeyFile: "data/identity.key",
		},
		Broker: Broker{
			Host:         "127.0.0.1",
			Port:         1883,
			CleanSession: true,
		},
		Direct: Direct{
			MyIP: "127.0.0.1",
		},
		Discovery: Discovery{
			Prefix: "/aitt/discovery",
		},
		Reply: Reply{
			DefaultTimeoutMS: 3000,
		},
		Debug: Debug{
			Addr: "",
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.ID) == "" {
		return errors.New("identity.id is required")
	}

	if strings.TrimSpace(c.Broker.Host) == "" {
		return errors.New("broker.host is required")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		return errors.New("broker.port must be 1..65535")
	}

	if strings.TrimSpace(c.Direct.MyIP) == "" {
		return errors.New("direct.my_ip is required")
	}

	if strings.TrimSpace(c.Discovery.Prefix) == "" {
		return errors.New("discovery.prefix is required")
	}
	if strings.HasSuffix(c.Discovery.Prefix, "/") {
		return errors.New("discovery.prefix must not end with '/'")
	}

	if c.Reply.DefaultTimeoutMS < 0 {
		return errors.New("reply.default_timeout_ms must be >= 0 (0 means no timeout)")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config
// file (with a generated identity id) and returns it. Returns (cfg,
// createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	cfg.Identity.ID = util.NewPeerID()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
