package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NetworkPrefix != "driftpay" {
		t.Fatalf("network_prefix = %s, want driftpay", cfg.NetworkPrefix)
	}
	if cfg.AttemptTimeout != 15*time.Second {
		t.Fatalf("attempt_timeout = %s, want 15s", cfg.AttemptTimeout)
	}
	if cfg.PeerURL != "" || cfg.PostgresDSN != "" {
		t.Fatalf("optional endpoints should default empty, got %+v", cfg)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "driftpay.yaml")
	body := `
data_dir: /var/lib/driftpay
network_prefix: drifttest
node_api_url: http://node.internal:8332
peer_url: ws://10.0.0.2:7465/relay
peer_listen_addr: :7465
attempt_timeout: 3s
connectivity_interval: 2s
log_level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NetworkPrefix != "drifttest" {
		t.Fatalf("network_prefix = %s, want drifttest", cfg.NetworkPrefix)
	}
	if cfg.PeerURL != "ws://10.0.0.2:7465/relay" {
		t.Fatalf("peer_url = %s", cfg.PeerURL)
	}
	if cfg.AttemptTimeout != 3*time.Second {
		t.Fatalf("attempt_timeout = %s, want 3s", cfg.AttemptTimeout)
	}
	if cfg.ConnectivityInterval != 2*time.Second {
		t.Fatalf("connectivity_interval = %s, want 2s", cfg.ConnectivityInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DRIFTPAY_NETWORK_PREFIX", "driftenv")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NetworkPrefix != "driftenv" {
		t.Fatalf("network_prefix = %s, want driftenv", cfg.NetworkPrefix)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		DataDir:              "./data",
		NetworkPrefix:        "driftpay",
		NodeAPIURL:           "http://127.0.0.1:8332",
		AttemptTimeout:       time.Second,
		ConnectivityInterval: time.Second,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	broken := base
	broken.NetworkPrefix = ""
	if err := broken.Validate(); err == nil {
		t.Fatal("empty network_prefix accepted")
	}

	broken = base
	broken.DataDir = ""
	if err := broken.Validate(); err == nil {
		t.Fatal("config with neither store accepted")
	}

	broken = base
	broken.AttemptTimeout = 0
	if err := broken.Validate(); err == nil {
		t.Fatal("zero attempt_timeout accepted")
	}
}
