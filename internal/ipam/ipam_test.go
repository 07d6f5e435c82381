package ipam

import (
	"net/netip"
	"testing"
)

func mustPool(t *testing.T, base string) *Pool {
	t.Helper()
	p, err := New(netip.MustParsePrefix(base))
	if err != nil {
		t.Fatalf("New(%s): %v", base, err)
	}
	return p
}

func TestAllocate_IdempotentForSamePeer(t *testing.T) {
	p := mustPool(t, "10.66.0.0/16")

	ip1, err := p.Allocate("peer-a")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	ip2, err := p.Allocate("peer-a")
	if err != nil {
		t.Fatalf("Allocate (second): %v", err)
	}
	if ip1 != ip2 {
		t.Errorf("Allocate not idempotent: %s != %s", ip1, ip2)
	}
}

func TestAllocate_DistinctPeersGetDistinctIPs(t *testing.T) {
	p := mustPool(t, "10.66.0.0/16")

	seen := make(map[netip.Addr]string)
	for i := 0; i < 500; i++ {
		peerID := string(rune('a' + i%26))
		peerID = peerID + string(rune(i))
		ip, err := p.Allocate(peerID)
		if err != nil {
			t.Fatalf("Allocate(%s): %v", peerID, err)
		}
		if owner, ok := seen[ip]; ok {
			t.Fatalf("IP %s allocated to both %q and %q", ip, owner, peerID)
		}
		seen[ip] = peerID
	}
}

func TestAllocate_SkipsReservedAddresses(t *testing.T) {
	p := mustPool(t, "10.66.0.0/24")

	hostIP := netip.MustParseAddr("10.66.0.1")
	if err := p.Reserve(hostIP); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	ip, err := p.Allocate("peer-a")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ip == hostIP {
		t.Errorf("Allocate returned reserved address %s", ip)
	}
}

func TestAllocate_NetworkAndBroadcastAlwaysReserved(t *testing.T) {
	p := mustPool(t, "10.66.0.0/24")

	network := netip.MustParseAddr("10.66.0.0")
	broadcast := netip.MustParseAddr("10.66.0.255")

	for i := 0; i < 253; i++ {
		ip, err := p.Allocate(string(rune('a' + i)))
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
		if ip == network || ip == broadcast {
			t.Fatalf("Allocate returned network/broadcast address %s", ip)
		}
	}
}

func TestAllocate_ExpandsAcrossSubnetsThenExhausts(t *testing.T) {
	p := mustPool(t, "10.66.0.0/23") // two /24s = 2*254 allocatable hosts

	var last netip.Addr
	for i := 0; i < 508; i++ {
		ip, err := p.Allocate(string(rune(i)) + "x")
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
		last = ip
	}
	_ = last

	if _, err := p.Allocate("one-too-many"); err != ErrPoolExhausted {
		t.Errorf("Allocate after exhaustion = %v, want ErrPoolExhausted", err)
	}
}

func TestRelease_ThenAllocate_SamePeerYieldsSameIP(t *testing.T) {
	p := mustPool(t, "10.66.0.0/24")

	ip1, err := p.Allocate("peer-a")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	p.Release("peer-a")
	ip2, err := p.Allocate("peer-a")
	if err != nil {
		t.Fatalf("Allocate (after release): %v", err)
	}
	if ip1 != ip2 {
		t.Errorf("re-allocation after release gave different IP: %s != %s", ip1, ip2)
	}
}

func TestRelease_IsIdempotent(t *testing.T) {
	p := mustPool(t, "10.66.0.0/24")
	p.Release("never-allocated") // must not panic
	if _, err := p.Allocate("peer-a"); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	p.Release("peer-a")
	p.Release("peer-a") // second release is a no-op
}

func TestLookup_AndLookupPeer(t *testing.T) {
	p := mustPool(t, "10.66.0.0/24")

	ip, err := p.Allocate("peer-a")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	gotIP, ok := p.Lookup("peer-a")
	if !ok || gotIP != ip {
		t.Errorf("Lookup(peer-a) = %s, %v, want %s, true", gotIP, ok, ip)
	}

	gotPeer, ok := p.LookupPeer(ip)
	if !ok || gotPeer != "peer-a" {
		t.Errorf("LookupPeer(%s) = %q, %v, want peer-a, true", ip, gotPeer, ok)
	}

	if _, ok := p.Lookup("unknown"); ok {
		t.Error("Lookup(unknown) = true, want false")
	}
}

func TestReserve_RejectsOutOfRange(t *testing.T) {
	p := mustPool(t, "10.66.0.0/24")
	if err := p.Reserve(netip.MustParseAddr("192.168.1.1")); err == nil {
		t.Error("Reserve out-of-range address should fail")
	}
}

// FuzzAllocate checks injectivity: across any sequence of allocate/release
// calls derived from fuzz input, no IP is ever held by two peers at once.
func FuzzAllocate(f *testing.F) {
	f.Add([]byte{0, 1, 0, 2, 1, 0})

	f.Fuzz(func(t *testing.T, ops []byte) {
		p := mustPool(t, "10.66.0.0/22")
		owners := make(map[netip.Addr]string)

		for _, b := range ops {
			peerID := string(rune('a' + int(b%26)))
			if b%2 == 0 {
				ip, err := p.Allocate(peerID)
				if err != nil {
					continue
				}
				if owner, ok := owners[ip]; ok && owner != peerID {
					t.Fatalf("IP %s double-allocated to %q and %q", ip, owner, peerID)
				}
				owners[ip] = peerID
			} else {
				if ip, ok := p.Lookup(peerID); ok {
					delete(owners, ip)
				}
				p.Release(peerID)
			}
		}
	})
}
