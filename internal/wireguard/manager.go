package wireguard

import (
	"context"
	"fmt"
	"log/slog"
)

// Manager manages the WireGuard interface and peer configuration.
type Manager struct {
	ctrl   WGController
	cfg    Config
	logger *slog.Logger
	peers  *PeerIndex
}

// NewManager creates a new Manager. Config defaults are applied automatically.
func NewManager(ctrl WGController, cfg Config, logger *slog.Logger) *Manager {
	cfg.ApplyDefaults()
	return &Manager{
		ctrl:   ctrl,
		cfg:    cfg,
		logger: logger,
		peers:  NewPeerIndex(),
	}
}

// Setup creates and configures the WireGuard interface using the host's
// persisted identity keypair and its IPAM-allocated virtual IP.
func (m *Manager) Setup(ctx context.Context, privateKey []byte, virtualIP string) error {
	if err := m.ctrl.CreateInterface(m.cfg.InterfaceName, privateKey, m.cfg.ListenPort); err != nil {
		return fmt.Errorf("wireguard: setup: %w", err)
	}

	if err := m.ctrl.ConfigureAddress(m.cfg.InterfaceName, virtualIP+"/32"); err != nil {
		return fmt.Errorf("wireguard: setup: %w", err)
	}

	if m.cfg.MTU > 0 {
		if err := m.ctrl.SetMTU(m.cfg.InterfaceName, m.cfg.MTU); err != nil {
			return fmt.Errorf("wireguard: setup: %w", err)
		}
	}

	if err := m.ctrl.SetInterfaceUp(m.cfg.InterfaceName); err != nil {
		return fmt.Errorf("wireguard: setup: %w", err)
	}

	m.logger.Info("wireguard interface configured",
		"component", "wireguard",
		"interface", m.cfg.InterfaceName,
		"listen_port", m.cfg.ListenPort,
		"virtual_ip", virtualIP,
	)

	return nil
}

// Teardown removes all peers and destroys the WireGuard interface.
// Idempotent: deleting an already-absent interface is a success.
func (m *Manager) Teardown() error {
	for peerID, pubKeyB64 := range m.peers.Snapshot() {
		if err := m.RemovePeerByID(peerID); err != nil {
			m.logger.Warn("teardown: remove peer failed",
				"component", "wireguard",
				"peer_id", peerID,
				"public_key", pubKeyB64,
				"error", err,
			)
		}
	}

	if err := m.ctrl.DeleteInterface(m.cfg.InterfaceName); err != nil {
		return fmt.Errorf("wireguard: teardown: %w", err)
	}
	return nil
}

// AddPeer upserts a peer onto the WireGuard interface and records it in
// the peer index under peerID.
func (m *Manager) AddPeer(peerID string, cfg PeerConfig) error {
	if err := m.ctrl.AddPeer(m.cfg.InterfaceName, cfg); err != nil {
		return fmt.Errorf("wireguard: add peer: %w", err)
	}

	m.peers.Add(peerID, encodePublicKey(cfg.PublicKey))

	m.logger.Debug("peer added",
		"component", "wireguard",
		"peer_id", peerID,
	)

	return nil
}

// RemovePeer removes a peer from the WireGuard interface by public key.
func (m *Manager) RemovePeer(publicKey []byte) error {
	if err := m.ctrl.RemovePeer(m.cfg.InterfaceName, publicKey); err != nil {
		return fmt.Errorf("wireguard: remove peer: %w", err)
	}
	return nil
}

// RemovePeerByID removes a peer by its peer ID, looking up the public key
// in the index.
func (m *Manager) RemovePeerByID(peerID string) error {
	pubKeyB64, ok := m.peers.Lookup(peerID)
	if !ok {
		return fmt.Errorf("wireguard: unknown peer ID: %s", peerID)
	}

	pubKeyBytes, err := decodePublicKeyOrEmpty(pubKeyB64)
	if err != nil {
		return fmt.Errorf("wireguard: decode public key: %w", err)
	}

	if err := m.ctrl.RemovePeer(m.cfg.InterfaceName, pubKeyBytes); err != nil {
		return fmt.Errorf("wireguard: remove peer: %w", err)
	}

	m.peers.Remove(peerID)

	m.logger.Debug("peer removed",
		"component", "wireguard",
		"peer_id", peerID,
	)

	return nil
}

// UpdatePeer applies a new PeerConfig for an already-known peer.
// update_endpoint semantics (relay switching) are realized by calling this
// with the same public key and a new Endpoint: the underlying controller's
// AddPeer is an in-place upsert, not a remove+add, so the WireGuard
// session survives the change.
func (m *Manager) UpdatePeer(peerID string, cfg PeerConfig) error {
	if err := m.ctrl.AddPeer(m.cfg.InterfaceName, cfg); err != nil {
		return fmt.Errorf("wireguard: update peer: %w", err)
	}

	m.peers.Update(peerID, encodePublicKey(cfg.PublicKey))

	m.logger.Debug("peer updated",
		"component", "wireguard",
		"peer_id", peerID,
	)

	return nil
}

// MeasureLatency delegates to the controller's ICMP-based latency probe.
func (m *Manager) MeasureLatency(ctx context.Context, virtualIP string, samples int) (*float64, error) {
	prober, ok := m.ctrl.(LatencyProber)
	if !ok {
		return nil, fmt.Errorf("wireguard: measure latency: controller does not support latency probing")
	}
	return prober.MeasureLatency(ctx, virtualIP, samples)
}

// PublicKey returns the host's WireGuard public key, if the controller
// supports reporting it.
func (m *Manager) PublicKey() ([]byte, error) {
	keyer, ok := m.ctrl.(PublicKeyer)
	if !ok {
		return nil, fmt.Errorf("wireguard: public key: controller does not expose a public key")
	}
	return keyer.PublicKey()
}

// PeerIndex returns the peer index.
func (m *Manager) PeerIndex() *PeerIndex {
	return m.peers
}
