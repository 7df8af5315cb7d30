package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultFailsValidateWithoutIdentity(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Default() to fail Validate() until an identity id is set")
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := Default()
	cfg.Identity.ID = "peer-1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Identity.ID = "peer-1"
	cfg.Broker.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an out-of-range broker port")
	}
}

func TestValidateRejectsTrailingSlashPrefix(t *testing.T) {
	cfg := Default()
	cfg.Identity.ID = "peer-1"
	cfg.Discovery.Prefix = "/aitt/discovery/"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a discovery prefix ending in '/'")
	}
}

func TestEnsureCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aitt.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Fatal("expected Ensure to report a newly created file")
	}
	if cfg.Identity.ID == "" {
		t.Fatal("Ensure did not populate a generated identity id")
	}

	again, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if created {
		t.Fatal("expected the second Ensure call to load the existing file")
	}
	if again.Identity.ID != cfg.Identity.ID {
		t.Fatalf("second Ensure loaded a different identity id: %q vs %q", again.Identity.ID, cfg.Identity.ID)
	}
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aitt.json")
	cfg := Default() // missing identity.id
	if err := Save(path, cfg); err == nil {
		t.Fatal("expected Save to reject an invalid config")
	}
}
