// Package broadcast captures LAN broadcast/multicast traffic on
// game-specific UDP ports, deduplicates it by content hash, forwards it
// over tunnels to registered peers, and re-injects it on remote hosts so
// local games see it as if it arrived over a real LAN.
package broadcast

import (
	"errors"
	"time"
)

// DefaultDedupWindow is the time window within which two packets with
// identical (payload, source_ip, dest_port) are treated as the same
// packet.
const DefaultDedupWindow = 5 * time.Second

// DefaultForwardBufferSize is the size of the bounded per-peer forward
// channel. A slow consumer drops packets rather than blocking the
// dispatch path.
const DefaultForwardBufferSize = 64

// DefaultCleanupInterval is how often the dedup set is swept for expired
// entries.
const DefaultCleanupInterval = 1 * time.Second

// MulticastGroup is one multicast group the forwarder joins on behalf of
// a game profile, e.g. mDNS or SSDP discovery.
type MulticastGroup struct {
	Group string `yaml:"group"` // e.g. "224.0.0.251"
	Port  int    `yaml:"port"`  // e.g. 5353
}

// MDNSGroup is the default mDNS discovery group.
var MDNSGroup = MulticastGroup{Group: "224.0.0.251", Port: 5353}

// SSDPGroup is the default SSDP discovery group.
var SSDPGroup = MulticastGroup{Group: "239.255.255.250", Port: 1900}

// Config holds the configuration for the broadcast forwarder.
type Config struct {
	// Interface is the name of the local LAN interface broadcasts are
	// captured from and injected onto. Empty means "all interfaces" for
	// capture, and the default route interface for injection.
	Interface string `yaml:"interface"`

	// DedupWindow is the time window within which identical packets are
	// treated as duplicates. Default: 5s.
	DedupWindow time.Duration `yaml:"dedup_window"`

	// CleanupInterval is how often expired dedup entries are pruned.
	// Default: 1s.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// ForwardBufferSize is the bounded channel size per registered peer
	// forwarder. Default: 64.
	ForwardBufferSize int `yaml:"forward_buffer_size"`

	// WhitelistPath is the JSON file holding the persistent user port
	// whitelist. Default (set by the top-level config package, not by
	// ApplyDefaults below): "<data dir>/custom_broadcast_ports.json".
	WhitelistPath string `yaml:"whitelist_path"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.DedupWindow == 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.ForwardBufferSize == 0 {
		c.ForwardBufferSize = DefaultForwardBufferSize
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.DedupWindow <= 0 {
		return errors.New("broadcast: config: DedupWindow must be positive")
	}
	if c.CleanupInterval <= 0 {
		return errors.New("broadcast: config: CleanupInterval must be positive")
	}
	if c.ForwardBufferSize <= 0 {
		return errors.New("broadcast: config: ForwardBufferSize must be positive")
	}
	return nil
}
