package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/coff33ninja/lanrage/internal/api"
	"github.com/coff33ninja/lanrage/internal/broadcast"
	"github.com/coff33ninja/lanrage/internal/lanerr"
	"github.com/coff33ninja/lanrage/internal/nat"
	"github.com/coff33ninja/lanrage/internal/wireguard"
)

// PeerInfo is what the orchestrator needs to know about a peer before it
// can drive a Connect procedure: its stable identity and its published NAT
// reachability.
type PeerInfo struct {
	Identity api.PeerIdentity
	NATInfo  api.PeerNATInfo
}

// Deps bundles every external dependency the orchestrator drives.
// WireGuard, IPAM, RelayPing and ControlAPI are required. Puncher and
// Broadcast may be nil: without a Puncher no hole punch is attempted and
// every peer is relayed; without a Broadcast no peer is registered with
// the broadcast forwarder.
type Deps struct {
	WireGuard  WireGuardPeers
	IPAM       IPAllocator
	Puncher    HolePuncher
	RelayPing  RelayPinger
	Broadcast  BroadcastRegistrar
	ControlAPI ControlPlane
}

// Orchestrator drives, per peer, the single-writer connection state
// machine described in §4.5: Connect establishes a tunnel (direct or
// relayed), a monitor goroutine maintains it, Disconnect tears it down.
type Orchestrator struct {
	deps    Deps
	cfg     Config
	partyID string
	logger  *slog.Logger

	localNAT func() nat.NATType

	mu    sync.RWMutex
	peers map[string]*peerState
}

// New creates an Orchestrator for the given party. localNAT reports the
// host's own last-known NAT classification, consulted once per Connect
// call.
func New(cfg Config, deps Deps, partyID string, localNAT func() nat.NATType, logger *slog.Logger) *Orchestrator {
	cfg.ApplyDefaults()
	return &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		partyID:  partyID,
		logger:   logger,
		localNAT: localNAT,
		peers:    make(map[string]*peerState),
	}
}

// SetPartyID updates the party id used when republishing a peer's
// endpoint to the control plane after a relay switch. PartyRuntime calls
// this once, immediately after create_party/join_party learns the id and
// before any peer Connect, since the id is not always known at
// construction time (create_party generates it).
func (o *Orchestrator) SetPartyID(partyID string) {
	o.mu.Lock()
	o.partyID = partyID
	o.mu.Unlock()
}

func (o *Orchestrator) getPartyID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.partyID
}

// Connect runs the 8-step connect procedure from §4.5 for peer, then
// spawns its monitor goroutine. Calling Connect again for a peer already
// known is a no-op; use Disconnect first to force re-establishment.
func (o *Orchestrator) Connect(ctx context.Context, peer PeerInfo) error {
	o.mu.Lock()
	if _, exists := o.peers[peer.Identity.PeerID]; exists {
		o.mu.Unlock()
		return nil
	}
	pubKey, err := wireguard.DecodePublicKey(peer.Identity.PublicKey)
	if err != nil {
		o.mu.Unlock()
		return lanerr.Wrap(lanerr.ConfigurationInvalid, "orchestrator: connect: decode peer public key", err)
	}
	st := newPeerState(peer.Identity.PeerID, pubKey)
	o.peers[peer.Identity.PeerID] = st
	o.mu.Unlock()

	if err := o.establish(ctx, st, peer); err != nil {
		o.mu.Lock()
		delete(o.peers, peer.Identity.PeerID)
		o.mu.Unlock()
		return err
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	st.mu.Lock()
	st.monitorCancel = cancel
	st.mu.Unlock()
	go o.monitor(monitorCtx, st, peer)

	if o.deps.Broadcast != nil {
		ch := o.deps.Broadcast.RegisterPeer(peer.Identity.PeerID)
		go o.forwardBroadcasts(monitorCtx, st.getVirtualIP(), ch)
	}

	return nil
}

// forwardBroadcasts drains the broadcast forwarder's per-peer channel and
// relays each packet over the overlay tunnel to the peer's virtual IP,
// where the peer's own BroadcastForwarder re-injects it onto its LAN.
// Per §4.4, registration/delivery is the forwarder's concern; this loop
// is the tunnel-side consumer that turns a forwarded Packet into an
// encapsulated UDP datagram addressed to the peer's overlay IP.
func (o *Orchestrator) forwardBroadcasts(ctx context.Context, virtualIP netip.Addr, ch <-chan broadcast.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-ch:
			if !ok {
				return
			}
			dst := &net.UDPAddr{IP: net.IP(virtualIP.AsSlice()), Port: pkt.DestPort}
			conn, err := net.DialUDP("udp", nil, dst)
			if err != nil {
				continue
			}
			_, _ = conn.Write(pkt.Payload)
			conn.Close()
		}
	}
}

// establish runs steps 2-7 of the connect procedure: strategy selection,
// IPAM allocation, WireGuard peer add, initial health probe.
func (o *Orchestrator) establish(ctx context.Context, st *peerState, peer PeerInfo) error {
	strategy, endpoint, connType, err := o.selectStrategy(ctx, peer, "")
	if err != nil {
		return err
	}

	virtualIP, err := o.deps.IPAM.Allocate(peer.Identity.PeerID)
	if err != nil {
		return lanerr.Wrap(lanerr.PoolExhausted, "orchestrator: connect: allocate virtual ip", err)
	}
	st.setVirtualIP(virtualIP)

	pubKey, _ := wireguard.DecodePublicKey(peer.Identity.PublicKey)
	wgCfg := wireguard.PeerConfig{
		PublicKey:           pubKey,
		Endpoint:            endpoint,
		AllowedIPs:          []string{virtualIP.String() + "/32"},
		PersistentKeepalive: o.cfg.PersistentKeepalive,
	}
	if err := o.deps.WireGuard.AddPeer(peer.Identity.PeerID, wgCfg); err != nil {
		o.deps.IPAM.Release(peer.Identity.PeerID)
		return lanerr.Wrap(lanerr.PlatformUnavailable, "orchestrator: connect: add wireguard peer", err)
	}

	st.setEndpoint(strategy, connType, endpoint)

	latencyMs, probeErr := o.deps.WireGuard.MeasureLatency(ctx, virtualIP.String(), 3)
	if probeErr == nil && latencyMs != nil {
		st.setConnected(latencyMs)
	} else {
		// Step 7: still move to Connected; the monitor verifies on the
		// next tick.
		st.setConnected(nil)
	}

	o.logger.Info("peer connected",
		"component", "orchestrator",
		"peer_id", peer.Identity.PeerID,
		"strategy", strategy,
		"connection_type", connType,
		"endpoint", endpoint,
	)

	return nil
}

// selectStrategy implements steps 2-4: direct-capability decision, a
// punch attempt when eligible, falling through to relay selection.
// excludeRelayIP, if non-empty, is skipped when ranking relay candidates,
// unless it is the only relay listed.
func (o *Orchestrator) selectStrategy(ctx context.Context, peer PeerInfo, excludeRelayIP string) (Strategy, string, ConnType, error) {
	localType := o.localNAT()
	peerType := nat.NATType(peer.NATInfo.NATType)

	if localType.DirectCapable() && peerType.DirectCapable() {
		peerIP := net.ParseIP(peer.NATInfo.PublicIP)
		if peerIP != nil && o.deps.Puncher != nil {
			if err := o.deps.Puncher.Punch(ctx, peerIP, peer.NATInfo.PublicPort); err == nil {
				endpoint := fmt.Sprintf("%s:%d", peer.NATInfo.PublicIP, peer.NATInfo.PublicPort)
				return StrategyDirect, endpoint, ConnDirect, nil
			}
			o.logger.Debug("hole punch failed, falling back to relay",
				"component", "orchestrator",
				"peer_id", peer.Identity.PeerID,
			)
		}
	}

	relays, err := o.deps.ControlAPI.ListRelays(ctx)
	if err != nil || len(relays) == 0 {
		return "", "", "", lanerr.Wrap(lanerr.RelayUnreachable, "orchestrator: connect: list relays", err)
	}

	candidates := relays
	if excludeRelayIP != "" && len(relays) > 1 {
		candidates = nil
		for _, r := range relays {
			if r.PublicIP != excludeRelayIP {
				candidates = append(candidates, r)
			}
		}
		if len(candidates) == 0 {
			candidates = relays
		}
	}

	best, _, err := selectRelay(ctx, o.deps.RelayPing, candidates, o.cfg.RelayProbeTimeout)
	if err != nil {
		// All probes failed: fall back to the first listed relay per §4.5
		// step 4.
		best = candidates[0]
	}
	endpoint := fmt.Sprintf("%s:%d", best.PublicIP, best.Port)
	return StrategyRelay, endpoint, ConnRelayed, nil
}

// monitor runs the per-peer health-check loop from §4.5's "Monitor task"
// section until ctx is canceled.
func (o *Orchestrator) monitor(ctx context.Context, st *peerState, peer PeerInfo) {
	ticker := time.NewTicker(o.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx, st, peer)
		}
	}
}

// tick performs a single monitor-task iteration.
func (o *Orchestrator) tick(ctx context.Context, st *peerState, peer PeerInfo) {
	virtualIP := st.getVirtualIP()
	latencyMs, err := o.deps.WireGuard.MeasureLatency(ctx, virtualIP.String(), 1)

	failed := err != nil || latencyMs == nil || *latencyMs > float64(o.cfg.FailedProbeThresholdMs)
	if failed {
		st.resetConsecutiveDegraded()
		count := st.incConsecutiveMissing()
		if count >= o.cfg.ConsecutiveFailThreshold {
			st.resetConsecutiveMissing()
			o.attemptReconnect(ctx, st, peer)
		}
		return
	}
	st.resetConsecutiveMissing()

	if *latencyMs > float64(o.cfg.DegradedThresholdMs) {
		st.setDegraded(latencyMs)
		if st.getStrategy() == StrategyRelay {
			o.maybeSwitchRelay(ctx, st, peer, *latencyMs)
		}
		return
	}

	st.setConnected(latencyMs)
	st.resetReconnectBudget()
}

// attemptReconnect re-runs strategy selection (§4.5 monitor task,
// consecutive-failure branch). Exhausting the reconnect budget moves the
// peer to Failed and arms the cleanup-grace timer.
func (o *Orchestrator) attemptReconnect(ctx context.Context, st *peerState, peer PeerInfo) {
	attempts := st.incReconnectAttempts()
	if attempts > o.cfg.MaxReconnectAttempts {
		o.markFailed(st, peer.Identity.PeerID)
		return
	}

	o.logger.Info("reconnect attempt",
		"component", "orchestrator",
		"peer_id", peer.Identity.PeerID,
		"attempt", attempts,
	)

	strategy, endpoint, connType, err := o.selectStrategy(ctx, peer, "")
	if err != nil {
		o.logger.Warn("reconnect strategy selection failed",
			"component", "orchestrator",
			"peer_id", peer.Identity.PeerID,
			"error", err,
		)
		return
	}

	pubKey, _ := wireguard.DecodePublicKey(peer.Identity.PublicKey)
	wgCfg := wireguard.PeerConfig{
		PublicKey:           pubKey,
		Endpoint:            endpoint,
		AllowedIPs:          []string{st.getVirtualIP().String() + "/32"},
		PersistentKeepalive: o.cfg.PersistentKeepalive,
	}
	if err := o.deps.WireGuard.UpdatePeer(peer.Identity.PeerID, wgCfg); err != nil {
		o.logger.Warn("reconnect wireguard update failed",
			"component", "orchestrator",
			"peer_id", peer.Identity.PeerID,
			"error", err,
		)
		return
	}

	st.setEndpoint(strategy, connType, endpoint)
	// The reconnect budget is consumed by the attempt itself, not reset
	// here: it only resets once a later monitor tick observes a genuinely
	// healthy probe (see tick's Connected branch). A reconnect that
	// re-establishes the WireGuard entry but whose underlying path is
	// still bad will keep failing subsequent probes and eventually
	// exhaust the budget.
}

// maybeSwitchRelay implements the degraded-state relay-switch branch: it
// does not count against the reconnect budget.
func (o *Orchestrator) maybeSwitchRelay(ctx context.Context, st *peerState, peer PeerInfo, currentLatencyMs float64) {
	probeCtx, cancel := context.WithTimeout(ctx, o.cfg.RelayProbeTimeout*4)
	defer cancel()

	relays, err := o.deps.ControlAPI.ListRelays(probeCtx)
	if err != nil || len(relays) == 0 {
		return
	}

	currentEndpoint := st.snapshot().Endpoint
	best, latencyMs, err := selectRelay(probeCtx, o.deps.RelayPing, relays, o.cfg.RelayProbeTimeout)
	if err != nil {
		return
	}
	newEndpoint := fmt.Sprintf("%s:%d", best.PublicIP, best.Port)
	if newEndpoint == currentEndpoint {
		return
	}
	if !relayImprovement(currentLatencyMs, latencyMs, o.cfg.RelaySwitchImprovement) {
		return
	}

	pubKey, _ := wireguard.DecodePublicKey(peer.Identity.PublicKey)
	wgCfg := wireguard.PeerConfig{
		PublicKey:           pubKey,
		Endpoint:            newEndpoint,
		AllowedIPs:          []string{st.getVirtualIP().String() + "/32"},
		PersistentKeepalive: o.cfg.PersistentKeepalive,
	}
	if err := o.deps.WireGuard.UpdatePeer(peer.Identity.PeerID, wgCfg); err != nil {
		o.logger.Warn("relay switch failed",
			"component", "orchestrator",
			"peer_id", peer.Identity.PeerID,
			"error", err,
		)
		return
	}

	st.setEndpoint(StrategyRelay, ConnRelayed, newEndpoint)

	if o.deps.ControlAPI != nil {
		_ = o.deps.ControlAPI.UpdatePeer(probeCtx, o.getPartyID(), api.UpdatePeerRequest{
			Peer:    peer.Identity,
			PeerNAT: peer.NATInfo,
		})
	}

	o.logger.Info("relay switched",
		"component", "orchestrator",
		"peer_id", peer.Identity.PeerID,
		"new_endpoint", newEndpoint,
		"latency_ms", latencyMs,
	)
}

// markFailed transitions the peer to Failed and arms the cleanup-grace
// timer from §4.5's "Automatic cleanup" rule.
func (o *Orchestrator) markFailed(st *peerState, peerID string) {
	st.setFailed()
	o.logger.Warn("peer failed, arming cleanup grace",
		"component", "orchestrator",
		"peer_id", peerID,
		"grace", o.cfg.CleanupGrace,
	)

	st.mu.Lock()
	if st.cleanupTimer != nil {
		st.cleanupTimer.Stop()
	}
	st.cleanupTimer = time.AfterFunc(o.cfg.CleanupGrace, func() {
		st.mu.RLock()
		stillFailed := st.state == StateFailed
		st.mu.RUnlock()
		if stillFailed {
			o.logger.Info("cleanup grace expired, disconnecting peer",
				"component", "orchestrator",
				"peer_id", peerID,
			)
			o.Disconnect(peerID)
		}
	})
	st.mu.Unlock()
}

// Disconnect cancels the monitor task, removes the WireGuard peer,
// releases the virtual IP, and forgets the peer's state. Idempotent.
func (o *Orchestrator) Disconnect(peerID string) error {
	o.mu.Lock()
	st, ok := o.peers[peerID]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	delete(o.peers, peerID)
	o.mu.Unlock()

	st.mu.Lock()
	if st.monitorCancel != nil {
		st.monitorCancel()
	}
	if st.cleanupTimer != nil {
		st.cleanupTimer.Stop()
	}
	st.mu.Unlock()

	if o.deps.Broadcast != nil {
		o.deps.Broadcast.UnregisterPeer(peerID)
	}

	if err := o.deps.WireGuard.RemovePeerByID(peerID); err != nil {
		o.logger.Warn("disconnect: remove wireguard peer failed",
			"component", "orchestrator",
			"peer_id", peerID,
			"error", err,
		)
	}
	o.deps.IPAM.Release(peerID)

	o.logger.Info("peer disconnected",
		"component", "orchestrator",
		"peer_id", peerID,
	)

	return nil
}

// Snapshot returns the current observable state of peerID, if known.
func (o *Orchestrator) Snapshot(peerID string) (Snapshot, bool) {
	o.mu.RLock()
	st, ok := o.peers[peerID]
	o.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return st.snapshot(), true
}

// Snapshots returns the observable state of every currently known peer.
func (o *Orchestrator) Snapshots() []Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Snapshot, 0, len(o.peers))
	for _, st := range o.peers {
		out = append(out, st.snapshot())
	}
	return out
}

// VirtualIPOf returns the allocated virtual IP for peerID, if connected.
func (o *Orchestrator) VirtualIPOf(peerID string) (netip.Addr, bool) {
	o.mu.RLock()
	st, ok := o.peers[peerID]
	o.mu.RUnlock()
	if !ok {
		return netip.Addr{}, false
	}
	ip := st.getVirtualIP()
	return ip, ip.IsValid()
}

// Shutdown disconnects every known peer, for use during party teardown.
func (o *Orchestrator) Shutdown() {
	o.mu.RLock()
	ids := make([]string, 0, len(o.peers))
	for id := range o.peers {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	for _, id := range ids {
		_ = o.Disconnect(id)
	}
}
