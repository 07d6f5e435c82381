package broadcast

import (
	"crypto/sha256"
	"encoding/binary"
	"net"
	"sync"
	"time"
)

// DedupKey identifies a packet for the purposes of loop avoidance and
// duplicate suppression: the hash of payload || source_ip || dest_port.
// Source port is intentionally excluded so NAT rebinding on the sender
// does not defeat dedup.
type DedupKey [sha256.Size]byte

// computeDedupKey hashes payload||sourceIP||destPort per §3's
// BroadcastPacket identity rule.
func computeDedupKey(payload []byte, sourceIP net.IP, destPort int) DedupKey {
	h := sha256.New()
	h.Write(payload)
	if ip4 := sourceIP.To4(); ip4 != nil {
		h.Write(ip4)
	} else {
		h.Write(sourceIP.To16())
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], uint16(destPort))
	h.Write(portBuf[:])
	var out DedupKey
	copy(out[:], h.Sum(nil))
	return out
}

// dedupSet tracks recently seen packet keys with a bounded time window.
// Entries older than the window are pruned by a periodic sweep; an entry
// at exactly window seconds old is treated as expired (strict <, not <=).
type dedupSet struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[DedupKey]time.Time

	total     uint64
	forwarded uint64
	deduped   uint64
}

func newDedupSet(window time.Duration) *dedupSet {
	return &dedupSet{
		window:  window,
		entries: make(map[DedupKey]time.Time),
	}
}

// checkAndInsert reports whether key is a duplicate as of now, i.e. was
// first seen less than the window ago. A duplicate does not refresh the
// first-seen time, so the window is measured from the original sighting;
// a new or expired key is recorded with now as its first-seen time.
func (d *dedupSet) checkAndInsert(key DedupKey, now time.Time) (duplicate bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.total++

	firstSeen, ok := d.entries[key]
	if ok && now.Sub(firstSeen) < d.window {
		d.deduped++
		return true
	}

	d.entries[key] = now
	d.forwarded++
	return false
}

// stamp records key as seen without counting it against total/forwarded
// statistics. Used by the injector to pre-seed the dedup set before
// sending, so the immediate local capture of an injected packet is
// dropped as a duplicate.
func (d *dedupSet) stamp(key DedupKey, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = now
}

// sweep removes entries whose age is at least window, relative to now.
func (d *dedupSet) sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, firstSeen := range d.entries {
		if now.Sub(firstSeen) >= d.window {
			delete(d.entries, key)
		}
	}
}

// Stats is a snapshot of dedup counters.
type Stats struct {
	Total     uint64
	Forwarded uint64
	Deduped   uint64
}

// DeduplicationRate returns the fraction of total packets that were
// dropped as duplicates, or 0 if no packets have been observed.
func (s Stats) DeduplicationRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Deduped) / float64(s.Total)
}

func (d *dedupSet) stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Total: d.total, Forwarded: d.forwarded, Deduped: d.deduped}
}
