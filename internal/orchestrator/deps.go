package orchestrator

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/coff33ninja/lanrage/internal/api"
	"github.com/coff33ninja/lanrage/internal/broadcast"
	"github.com/coff33ninja/lanrage/internal/wireguard"
)

// WireGuardPeers is the subset of *wireguard.Manager the orchestrator
// needs: upserting and tearing down peer tunnels, and measuring their
// live latency.
type WireGuardPeers interface {
	AddPeer(peerID string, cfg wireguard.PeerConfig) error
	UpdatePeer(peerID string, cfg wireguard.PeerConfig) error
	RemovePeerByID(peerID string) error
	MeasureLatency(ctx context.Context, virtualIP string, samples int) (*float64, error)
}

// IPAllocator is the subset of *ipam.Pool the orchestrator needs.
type IPAllocator interface {
	Allocate(peerID string) (netip.Addr, error)
	Release(peerID string)
}

// HolePuncher performs UDP hole punching against a single peer before a
// direct WireGuard peer entry is added, per §4.3/§5.
type HolePuncher interface {
	Punch(ctx context.Context, peerIP net.IP, peerPort int) error
}

// RelayPinger measures round-trip latency to a candidate relay's public
// IP, used to rank relays during selection and during degraded-state
// relay switching.
type RelayPinger interface {
	Ping(ctx context.Context, host string, timeout time.Duration) (float64, error)
}

// BroadcastRegistrar lets the orchestrator plug a peer's tunnel into the
// LAN broadcast/multicast forwarder once it's up, and unplug it on
// teardown.
type BroadcastRegistrar interface {
	RegisterPeer(peerID string) <-chan broadcast.Packet
	UnregisterPeer(peerID string)
}

// ControlPlane is the subset of the control-plane client the orchestrator
// needs to republish a peer's endpoint after a relay switch and to
// discover candidate relays.
type ControlPlane interface {
	UpdatePeer(ctx context.Context, partyID string, req api.UpdatePeerRequest) error
	ListRelays(ctx context.Context) ([]api.RelayEntry, error)
}
