package api

import "time"

// NATType mirrors the core's nat.NATType as a wire-safe string so the
// control plane never needs to import internal/nat.
type NATType string

const (
	NATUnknown            NATType = "unknown"
	NATOpen               NATType = "open"
	NATFullCone           NATType = "full_cone"
	NATRestrictedCone     NATType = "restricted_cone"
	NATPortRestrictedCone NATType = "port_restricted_cone"
	NATSymmetric          NATType = "symmetric"
)

// PeerIdentity is a peer's stable identity within a party.
type PeerIdentity struct {
	PeerID      string `json:"peer_id"`
	DisplayName string `json:"display_name"`
	PublicKey   string `json:"wireguard_public_key"` // base64, 32 bytes decoded
}

// PeerNATInfo is what a peer publishes about its own reachability.
type PeerNATInfo struct {
	NATType    NATType `json:"nat_type"`
	PublicIP   string  `json:"public_ip"`
	PublicPort int     `json:"public_port"`
}

// PeerDescriptor is the full view of a peer as known to the control plane.
type PeerDescriptor struct {
	Identity PeerIdentity `json:"identity"`
	NATInfo  PeerNATInfo  `json:"nat_info"`
}

// RegisterPartyRequest registers a new party with its host.
type RegisterPartyRequest struct {
	PartyID string       `json:"party_id"`
	Name    string       `json:"name"`
	Host    PeerIdentity `json:"host"`
	HostNAT PeerNATInfo  `json:"host_nat"`
}

// JoinPartyRequest registers a peer joining an existing party.
type JoinPartyRequest struct {
	Peer    PeerIdentity `json:"peer"`
	PeerNAT PeerNATInfo  `json:"peer_nat"`
}

// PartyInfo describes a party and its current peer roster.
type PartyInfo struct {
	PartyID string           `json:"party_id"`
	Name    string           `json:"name"`
	HostID  string           `json:"host_id"`
	Peers   []PeerDescriptor `json:"peers"`
}

// UpdatePeerRequest republishes a peer's identity/NAT info, e.g. after a
// key rotation or a NAT remapping.
type UpdatePeerRequest struct {
	Peer    PeerIdentity `json:"peer"`
	PeerNAT PeerNATInfo  `json:"peer_nat"`
}

// RelayEntry is one relay server the orchestrator can fall back to.
type RelayEntry struct {
	PublicIP string `json:"public_ip"`
	Port     int    `json:"port"`
	Region   string `json:"region,omitempty"`
}

// PartyEventType enumerates the push events subscribe() can deliver.
type PartyEventType string

const (
	EventPeerJoined  PartyEventType = "peer_joined"
	EventPeerLeft    PartyEventType = "peer_left"
	EventPeerUpdated PartyEventType = "peer_updated"
)

// PartyEvent is one push notification from subscribe().
type PartyEvent struct {
	Type PartyEventType `json:"type"`
	Peer PeerDescriptor `json:"peer"`
	// PeerID is set on peer_left, where the full descriptor is no longer
	// available.
	PeerID string `json:"peer_id,omitempty"`
}

// heartbeatRequest and heartbeatResponse carry only the liveness signal;
// the control plane needs nothing else to reset a peer's expunge timer.
type heartbeatRequest struct {
	PeerID string `json:"peer_id"`
}

type heartbeatResponse struct {
	ServerTime time.Time `json:"server_time"`
}

type listRelaysResponse struct {
	Relays []RelayEntry `json:"relays"`
}
