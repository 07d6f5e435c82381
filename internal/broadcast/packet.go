package broadcast

import (
	"net"
	"time"
)

// Scope distinguishes how a packet should be re-injected on the remote
// host: as a LAN broadcast or as a multicast datagram to its original
// group.
type Scope int

const (
	// ScopeBroadcast targets the interface's directed broadcast address.
	ScopeBroadcast Scope = iota
	// ScopeMulticast targets the packet's original multicast group.
	ScopeMulticast
)

// Packet is one captured (or about-to-be-injected) UDP broadcast or
// multicast datagram, per §3's BroadcastPacket.
type Packet struct {
	Payload        []byte
	SourceIP       net.IP
	SourcePort     int
	DestPort       int
	Scope          Scope
	MulticastGroup string // set when Scope == ScopeMulticast
	ReceivedAt     time.Time
}

// dedupKey returns the packet's identity for deduplication purposes.
func (p Packet) dedupKey() DedupKey {
	return computeDedupKey(p.Payload, p.SourceIP, p.DestPort)
}
