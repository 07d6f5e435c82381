// Package config aggregates every subsystem's Config into the single
// YAML-driven configuration a lanrage daemon loads at startup.
package config

import (
	"fmt"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/coff33ninja/lanrage/internal/api"
	"github.com/coff33ninja/lanrage/internal/broadcast"
	"github.com/coff33ninja/lanrage/internal/localapi"
	"github.com/coff33ninja/lanrage/internal/nat"
	"github.com/coff33ninja/lanrage/internal/orchestrator"
	"github.com/coff33ninja/lanrage/internal/wireguard"
)

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default directory for persisted daemon state
// (keys, the broadcast port whitelist).
const DefaultDataDir = "/var/lib/lanrage"

// DefaultBaseSubnet is the default overlay base subnet, per §6.3.
const DefaultBaseSubnet = "10.66.0.0/16"

// Config is the top-level configuration for the lanrage daemon. It
// aggregates every subsystem's own Config type rather than flattening
// their fields.
type Config struct {
	// LogLevel is the log level: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`

	// DataDir is the directory for persisted daemon state. The keys
	// directory and the broadcast whitelist file both live under it
	// unless overridden.
	DataDir string `yaml:"data_dir"`

	// BaseSubnet is the overlay's base IPv4 subnet, parsed by
	// BaseSubnetPrefix. Default: 10.66.0.0/16.
	BaseSubnet string `yaml:"base_subnet"`

	API          api.Config          `yaml:"api"`
	WireGuard    wireguard.Config    `yaml:"wireguard"`
	NAT          nat.Config          `yaml:"nat"`
	Broadcast    broadcast.Config    `yaml:"broadcast"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	LocalAPI     localapi.Config     `yaml:"local_api"`
}

// ApplyDefaults sets default values for zero-valued fields, recursing
// into every subsystem Config.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Broadcast.WhitelistPath == "" {
		c.Broadcast.WhitelistPath = c.DataDir + "/custom_broadcast_ports.json"
	}
	if c.BaseSubnet == "" {
		c.BaseSubnet = DefaultBaseSubnet
	}
	c.API.ApplyDefaults()
	c.WireGuard.ApplyDefaults()
	c.NAT.ApplyDefaults()
	c.Broadcast.ApplyDefaults()
	c.Orchestrator.ApplyDefaults()
	c.LocalAPI.ApplyDefaults()
}

// Validate checks that required fields are set and values are
// acceptable, recursing into every subsystem Config.
func (c *Config) Validate() error {
	if _, err := c.BaseSubnetPrefix(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.WireGuard.Validate(); err != nil {
		return err
	}
	if err := c.NAT.Validate(); err != nil {
		return err
	}
	if err := c.Broadcast.Validate(); err != nil {
		return err
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}
	if err := c.LocalAPI.Validate(); err != nil {
		return err
	}
	return nil
}

// BaseSubnetPrefix parses BaseSubnet into a netip.Prefix suitable for
// ipam.New.
func (c *Config) BaseSubnetPrefix() (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(c.BaseSubnet)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("base_subnet %q: %w", c.BaseSubnet, err)
	}
	return prefix, nil
}

// KeysDir is the directory holding the host's persisted WireGuard
// keypair, per §6.2.
func (c *Config) KeysDir() string {
	return c.DataDir + "/keys"
}

// ParseConfig reads a YAML configuration file, applies defaults, and
// validates the result.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}
