// Package ipam allocates per-peer /32 virtual IPs within a growable pool
// of /24 sub-subnets carved out of a configured base subnet.
package ipam

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"sort"
	"sync"
)

// subnetBits is the size of each materialized sub-subnet.
const subnetBits = 24

// ErrPoolExhausted is returned by Allocate when the base subnet has no
// further /24 to materialize and no free address remains in any
// materialized /24.
var ErrPoolExhausted = fmt.Errorf("ipam: pool exhausted")

// Pool allocates and tracks per-peer virtual IPs.
//
// Invariants held across Allocate/Release/Reserve:
//   - every returned address lies within base
//   - no two peers hold the same address at the same time
//   - Allocate is deterministic given the same base, reservation, and call
//     order starting from a fresh Pool
type Pool struct {
	mu sync.Mutex

	base    netip.Prefix
	subnets []netip.Prefix // materialized /24s, in allocation order
	cursor  netip.Addr     // next candidate address in subnets[len-1]

	peerToIP map[string]netip.Addr
	ipToPeer map[netip.Addr]string
	reserved map[netip.Addr]struct{}

	// freed holds released addresses available for reuse, kept sorted
	// ascending so the lowest-addressed hole is always handed out first
	// (deterministic) and so a hole left behind the scan cursor is never
	// leaked for the lifetime of its materialized /24.
	freed []netip.Addr
}

// New creates a Pool over base, a /24 or wider IPv4 prefix. The network
// and broadcast address of every materialized /24 are reserved
// automatically.
func New(base netip.Prefix) (*Pool, error) {
	base = base.Masked()
	if !base.IsValid() || !base.Addr().Is4() {
		return nil, fmt.Errorf("ipam: base subnet must be a valid IPv4 prefix")
	}
	if base.Bits() > subnetBits {
		return nil, fmt.Errorf("ipam: base subnet /%d is smaller than a /%d sub-subnet", base.Bits(), subnetBits)
	}

	return &Pool{
		base:     base,
		peerToIP: make(map[string]netip.Addr),
		ipToPeer: make(map[netip.Addr]string),
		reserved: make(map[netip.Addr]struct{}),
	}, nil
}

// Allocate returns peerID's virtual IP, allocating one if it doesn't
// already have one. Calling Allocate again for the same peerID with no
// intervening Release returns the same address.
func (p *Pool) Allocate(peerID string) (netip.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ip, ok := p.peerToIP[peerID]; ok {
		return ip, nil
	}

	if ip, ok := p.popFreedLocked(); ok {
		p.peerToIP[peerID] = ip
		p.ipToPeer[ip] = peerID
		return ip, nil
	}

	for {
		if len(p.subnets) == 0 {
			if err := p.materializeNextSubnetLocked(); err != nil {
				return netip.Addr{}, err
			}
		}

		if ip, ok := p.scanCurrentSubnetLocked(); ok {
			p.peerToIP[peerID] = ip
			p.ipToPeer[ip] = peerID
			return ip, nil
		}

		if err := p.materializeNextSubnetLocked(); err != nil {
			return netip.Addr{}, err
		}
	}
}

// scanCurrentSubnetLocked scans the last materialized /24 from the
// current cursor forward for a free, unreserved host address.
func (p *Pool) scanCurrentSubnetLocked() (netip.Addr, bool) {
	subnet := p.subnets[len(p.subnets)-1]
	last := lastHost(subnet)

	for addr := p.cursor; ; addr = addr.Next() {
		if !subnet.Contains(addr) {
			return netip.Addr{}, false
		}
		_, isReserved := p.reserved[addr]
		_, isAllocated := p.ipToPeer[addr]
		if !isReserved && !isAllocated {
			p.cursor = addr.Next()
			return addr, true
		}
		if addr == last {
			return netip.Addr{}, false
		}
	}
}

// popFreedLocked removes and returns the lowest-addressed entry in the
// free list, if any.
func (p *Pool) popFreedLocked() (netip.Addr, bool) {
	if len(p.freed) == 0 {
		return netip.Addr{}, false
	}
	ip := p.freed[0]
	p.freed = p.freed[1:]
	return ip, true
}

// insertFreedLocked adds ip to the free list, keeping it sorted ascending
// by address.
func (p *Pool) insertFreedLocked(ip netip.Addr) {
	v := addrToUint32(ip)
	i := sort.Search(len(p.freed), func(i int) bool { return addrToUint32(p.freed[i]) >= v })
	p.freed = append(p.freed, netip.Addr{})
	copy(p.freed[i+1:], p.freed[i:])
	p.freed[i] = ip
}

// materializeNextSubnetLocked carves out the next /24 within base, in
// order, reserving its network and broadcast addresses. Returns
// ErrPoolExhausted once base has no further /24.
func (p *Pool) materializeNextSubnetLocked() error {
	var next netip.Prefix
	if len(p.subnets) == 0 {
		next = netip.PrefixFrom(p.base.Addr(), subnetBits)
	} else {
		step := uint32(1) << (32 - subnetBits)
		prevStart := addrToUint32(p.subnets[len(p.subnets)-1].Addr())
		nextStart := prevStart + step
		if nextStart < prevStart {
			return ErrPoolExhausted
		}
		next = netip.PrefixFrom(uint32ToAddr(nextStart), subnetBits)
	}

	if !p.base.Contains(next.Addr()) || !networkContainsSubnet(p.base, next) {
		return ErrPoolExhausted
	}

	p.subnets = append(p.subnets, next)
	p.cursor = next.Addr()
	p.reserved[next.Addr()] = struct{}{}
	p.reserved[lastHost(next)] = struct{}{}
	return nil
}

// Release removes peerID's allocation, if any. Idempotent.
func (p *Pool) Release(peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ip, ok := p.peerToIP[peerID]
	if !ok {
		return
	}
	delete(p.peerToIP, peerID)
	delete(p.ipToPeer, ip)
	p.insertFreedLocked(ip)
}

// Reserve permanently removes ip from the allocatable pool, e.g. for the
// host's own virtual IP. Returns an error if ip is outside base.
func (p *Pool) Reserve(ip netip.Addr) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.base.Contains(ip) {
		return fmt.Errorf("ipam: reserve %s: outside base subnet %s", ip, p.base)
	}
	p.reserved[ip] = struct{}{}
	return nil
}

// Lookup returns the virtual IP allocated to peerID, if any.
func (p *Pool) Lookup(peerID string) (netip.Addr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ip, ok := p.peerToIP[peerID]
	return ip, ok
}

// LookupPeer returns the peer holding ip, if any.
func (p *Pool) LookupPeer(ip netip.Addr) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	peerID, ok := p.ipToPeer[ip]
	return peerID, ok
}

func lastHost(p netip.Prefix) netip.Addr {
	start := addrToUint32(p.Masked().Addr())
	size := uint32(1) << (32 - p.Bits())
	return uint32ToAddr(start + size - 1)
}

func networkContainsSubnet(network, subnet netip.Prefix) bool {
	start := addrToUint32(subnet.Addr())
	end := addrToUint32(lastHost(subnet))
	netStart := addrToUint32(network.Masked().Addr())
	netEnd := addrToUint32(lastHost(network))
	return start >= netStart && end <= netEnd
}

func addrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func uint32ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
