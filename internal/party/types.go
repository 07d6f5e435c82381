// Package party is the top-level façade described by §4.6: it owns
// exactly one active party, wires IPAM, WireGuardController, NATProber,
// BroadcastForwarder and ConnectionOrchestrator together, and exposes
// create/join/leave plus the control-plane's per-peer lifecycle hooks.
package party

import (
	"time"

	"github.com/coff33ninja/lanrage/internal/api"
	"github.com/coff33ninja/lanrage/internal/orchestrator"
)

// Info is the static metadata for the currently active party.
type Info struct {
	PartyID   string
	Name      string
	HostID    string
	CreatedAt time.Time
}

// Status is the aggregate view returned by Status(): party metadata plus
// every known peer's orchestrator snapshot, per §4.6.
type Status struct {
	Party Info
	Peers []orchestrator.Snapshot
}

// peerRecord holds a peer's control-plane descriptor; it carries no
// connection snapshot.
type peerRecord struct {
	descriptor api.PeerDescriptor
}
