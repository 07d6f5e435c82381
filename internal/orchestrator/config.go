// Package orchestrator drives, per peer, a single-writer finite state
// machine from "peer announced" to "tunnel established and healthy" and
// maintains that health: it picks direct vs. relay strategy, configures
// the WireGuard peer, monitors latency, and reconnects or switches
// relays on degradation.
package orchestrator

import (
	"errors"
	"time"
)

// DefaultHealthyThresholdMs is the latency, in milliseconds, at or below
// which a peer is considered Connected.
const DefaultHealthyThresholdMs = 200

// DefaultDegradedThresholdMs is the latency above which a peer moves to
// Degraded (but below FailedProbeThresholdMs).
const DefaultDegradedThresholdMs = 200

// DefaultFailedProbeThresholdMs is the latency above which a probe counts
// as a failure for reconnect-budget purposes.
const DefaultFailedProbeThresholdMs = 2000

// DefaultMaxReconnectAttempts is the number of reconnect attempts allowed
// per transition out of Connected before a peer is marked Failed.
const DefaultMaxReconnectAttempts = 3

// DefaultCleanupGrace is how long a Failed peer is held before its
// WireGuard entry and virtual IP are released, absent an explicit
// reconnect.
const DefaultCleanupGrace = 60 * time.Second

// DefaultMonitorInterval is the period between per-peer health checks.
const DefaultMonitorInterval = 30 * time.Second

// DefaultRelayProbeTimeout bounds the ICMP latency probe issued against
// each candidate relay during selection.
const DefaultRelayProbeTimeout = 1 * time.Second

// DefaultConsecutiveFailuresForReconnect is the number of consecutive
// failed/missing latency samples that triggers a reconnect attempt.
const DefaultConsecutiveFailuresForReconnect = 3

// DefaultPersistentKeepalive is the WireGuard persistent-keepalive
// interval, in seconds, used for every peer behind NAT.
const DefaultPersistentKeepalive = 25

// DefaultRelaySwitchImprovement is the fractional latency improvement a
// candidate relay must offer over the current one before a switch is
// performed (20% per spec).
const DefaultRelaySwitchImprovement = 0.20

// Config holds the configuration for the connection orchestrator.
type Config struct {
	HealthyThresholdMs       int
	DegradedThresholdMs      int
	FailedProbeThresholdMs   int
	MaxReconnectAttempts     int
	CleanupGrace             time.Duration
	MonitorInterval          time.Duration
	RelayProbeTimeout        time.Duration
	ConsecutiveFailThreshold int
	PersistentKeepalive      int
	RelaySwitchImprovement   float64
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.HealthyThresholdMs == 0 {
		c.HealthyThresholdMs = DefaultHealthyThresholdMs
	}
	if c.DegradedThresholdMs == 0 {
		c.DegradedThresholdMs = DefaultDegradedThresholdMs
	}
	if c.FailedProbeThresholdMs == 0 {
		c.FailedProbeThresholdMs = DefaultFailedProbeThresholdMs
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.CleanupGrace == 0 {
		c.CleanupGrace = DefaultCleanupGrace
	}
	if c.MonitorInterval == 0 {
		c.MonitorInterval = DefaultMonitorInterval
	}
	if c.RelayProbeTimeout == 0 {
		c.RelayProbeTimeout = DefaultRelayProbeTimeout
	}
	if c.ConsecutiveFailThreshold == 0 {
		c.ConsecutiveFailThreshold = DefaultConsecutiveFailuresForReconnect
	}
	if c.PersistentKeepalive == 0 {
		c.PersistentKeepalive = DefaultPersistentKeepalive
	}
	if c.RelaySwitchImprovement == 0 {
		c.RelaySwitchImprovement = DefaultRelaySwitchImprovement
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.MaxReconnectAttempts < 0 {
		return errors.New("orchestrator: config: MaxReconnectAttempts must not be negative")
	}
	if c.CleanupGrace <= 0 {
		return errors.New("orchestrator: config: CleanupGrace must be positive")
	}
	if c.MonitorInterval <= 0 {
		return errors.New("orchestrator: config: MonitorInterval must be positive")
	}
	if c.RelayProbeTimeout <= 0 {
		return errors.New("orchestrator: config: RelayProbeTimeout must be positive")
	}
	if c.RelaySwitchImprovement <= 0 || c.RelaySwitchImprovement >= 1 {
		return errors.New("orchestrator: config: RelaySwitchImprovement must be between 0 and 1")
	}
	return nil
}
