package orchestrator

import (
	"context"
	"net/netip"
	"sync"
	"time"
)

// Snapshot is the observable state of one peer's connection, per spec
// §4.5: {peer_id, virtual_ip, endpoint, strategy, last_latency_ms, state,
// since}. It is what PartyRuntime surfaces to the external API.
type Snapshot struct {
	PeerID        string
	VirtualIP     netip.Addr
	Endpoint      string
	ConnType      ConnType
	State         State
	LastLatencyMs *float64
	Since         time.Time
}

// peerState is the mutable runtime state for one peer's connection. It is
// owned by exactly one writer at a time: the connect procedure during
// setup, then that peer's monitor goroutine for the remainder of its
// life. Readers (status queries, broadcast registration) take a
// consistent snapshot under mu.
type peerState struct {
	mu sync.RWMutex

	peerID      string
	publicKey   []byte
	virtualIP   netip.Addr
	endpoint    string
	connType    ConnType
	state       State
	latencyMs   *float64
	since       time.Time
	strategy    Strategy

	consecutiveDegraded int
	consecutiveMissing  int
	reconnectAttempts   int

	monitorCancel context.CancelFunc
	cleanupTimer  *time.Timer
}

func newPeerState(peerID string, publicKey []byte) *peerState {
	return &peerState{
		peerID:    peerID,
		publicKey: publicKey,
		connType:  ConnPending,
		state:     StateConnecting,
		since:     time.Now(),
	}
}

func (p *peerState) snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		PeerID:        p.peerID,
		VirtualIP:     p.virtualIP,
		Endpoint:      p.endpoint,
		ConnType:      p.connType,
		State:         p.state,
		LastLatencyMs: p.latencyMs,
		Since:         p.since,
	}
}

// setConnected transitions into Connected, recording latency and
// resetting the degraded/missing counters — but NOT the reconnect budget,
// which the monitor tick resets separately after a healthy probe (see
// resetReconnectBudget).
func (p *peerState) setConnected(latencyMs *float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateConnected {
		p.since = time.Now()
	}
	p.state = StateConnected
	p.latencyMs = latencyMs
	p.consecutiveDegraded = 0
	p.consecutiveMissing = 0
}

func (p *peerState) resetReconnectBudget() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconnectAttempts = 0
}

func (p *peerState) setDegraded(latencyMs *float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateDegraded {
		p.since = time.Now()
	}
	p.state = StateDegraded
	p.latencyMs = latencyMs
}

func (p *peerState) setFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateFailed
	p.connType = ConnFailed
	p.since = time.Now()
}

func (p *peerState) setEndpoint(strategy Strategy, connType ConnType, endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategy = strategy
	p.connType = connType
	p.endpoint = endpoint
}

func (p *peerState) setVirtualIP(ip netip.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.virtualIP = ip
}

func (p *peerState) getVirtualIP() netip.Addr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.virtualIP
}

func (p *peerState) getStrategy() Strategy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.strategy
}

func (p *peerState) getState() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// incConsecutiveDegraded bumps the degraded-probe counter and returns the
// new value.
func (p *peerState) incConsecutiveDegraded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveDegraded++
	return p.consecutiveDegraded
}

func (p *peerState) resetConsecutiveDegraded() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveDegraded = 0
}

// incConsecutiveMissing bumps the missing/failed-probe counter and
// returns the new value.
func (p *peerState) incConsecutiveMissing() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveMissing++
	return p.consecutiveMissing
}

func (p *peerState) resetConsecutiveMissing() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveMissing = 0
}

// incReconnectAttempts bumps the reconnect-attempt counter and returns
// the new value, for comparison against cfg.MaxReconnectAttempts.
func (p *peerState) incReconnectAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconnectAttempts++
	return p.reconnectAttempts
}
