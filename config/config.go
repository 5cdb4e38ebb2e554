// Package config loads daemon settings from an optional config file and
// DRIFTPAY_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the daemon needs to start.
type Config struct {
	// DataDir is where the on-device ledger lives.
	DataDir string `mapstructure:"data_dir"`
	// NetworkPrefix is the address prefix this node encodes and accepts.
	NetworkPrefix string `mapstructure:"network_prefix"`
	// NodeAPIURL is the base URL of the network node used for broadcasting.
	NodeAPIURL string `mapstructure:"node_api_url"`
	// PeerURL is the counterpart's relay endpoint. Empty disables the local
	// peer channel.
	PeerURL string `mapstructure:"peer_url"`
	// PeerListenAddr is where this node accepts relayed payloads. Empty
	// disables listening.
	PeerListenAddr string `mapstructure:"peer_listen_addr"`
	// AttemptTimeout bounds each transport attempt.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	// PostgresDSN switches the ledger to a server-side store when set;
	// otherwise records live in DataDir.
	PostgresDSN string `mapstructure:"postgres_dsn"`
	// ConnectivityInterval is how often the node API is probed for the
	// online signal.
	ConnectivityInterval time.Duration `mapstructure:"connectivity_interval"`
	LogLevel             string        `mapstructure:"log_level"`
}

// Load reads the config file at path, when non-empty, and overlays
// environment variables. Missing file with an explicit path is an error;
// everything else falls back to defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DRIFTPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", "./data")
	v.SetDefault("network_prefix", "driftpay")
	v.SetDefault("node_api_url", "http://127.0.0.1:8332")
	v.SetDefault("peer_url", "")
	v.SetDefault("peer_listen_addr", "")
	v.SetDefault("attempt_timeout", 15*time.Second)
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("connectivity_interval", 10*time.Second)
	v.SetDefault("log_level", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields no default can save.
func (c Config) Validate() error {
	if c.NetworkPrefix == "" {
		return errors.New("config: network_prefix must not be empty")
	}
	if c.NodeAPIURL == "" {
		return errors.New("config: node_api_url must not be empty")
	}
	if c.DataDir == "" && c.PostgresDSN == "" {
		return errors.New("config: either data_dir or postgres_dsn must be set")
	}
	if c.AttemptTimeout <= 0 {
		return errors.New("config: attempt_timeout must be positive")
	}
	if c.ConnectivityInterval <= 0 {
		return errors.New("config: connectivity_interval must be positive")
	}
	return nil
}
