package party

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/coff33ninja/lanrage/internal/api"
	"github.com/coff33ninja/lanrage/internal/broadcast"
	"github.com/coff33ninja/lanrage/internal/identity"
	"github.com/coff33ninja/lanrage/internal/ipam"
	"github.com/coff33ninja/lanrage/internal/lanerr"
	"github.com/coff33ninja/lanrage/internal/nat"
	"github.com/coff33ninja/lanrage/internal/orchestrator"
	"github.com/coff33ninja/lanrage/internal/wireguard"
)

// ErrNoActiveParty is returned by operations that require an active
// party when none exists.
var ErrNoActiveParty = errors.New("party: no active party")

// ErrPartyAlreadyActive is returned by create_party/join_party when a
// party is already active; exactly one party can be active at a time
// per §4.6.
var ErrPartyAlreadyActive = errors.New("party: a party is already active")

// Deps bundles every component Runtime wires together.
type Deps struct {
	ControlPlane *api.ControlPlane
	WireGuard    *wireguard.Manager
	IPAM         *ipam.Pool
	Prober       *nat.Prober
	Forwarder    *broadcast.Forwarder
	Orchestrator *orchestrator.Orchestrator
	Identity     *identity.Identity
}

// Runtime is the C6 façade: exactly one active party, peers map kept in
// lockstep with the orchestrator's own peer records per §4.6's
// no-drift invariant.
type Runtime struct {
	deps   Deps
	logger *slog.Logger

	mu          sync.Mutex
	party       *Info
	peers       map[string]api.PeerDescriptor
	displayName string
	cancelSub   context.CancelFunc
}

// New creates a Runtime with no active party.
func New(deps Deps, logger *slog.Logger) *Runtime {
	return &Runtime{
		deps:   deps,
		logger: logger,
		peers:  make(map[string]api.PeerDescriptor),
	}
}

// hostIdentity returns this host's PeerIdentity for registration/join
// requests.
func (r *Runtime) hostIdentity(displayName string) api.PeerIdentity {
	pubKey, _ := r.deps.WireGuard.PublicKey()
	return api.PeerIdentity{
		PeerID:      r.deps.Identity.PeerID,
		DisplayName: displayName,
		PublicKey:   base64.StdEncoding.EncodeToString(pubKey),
	}
}

// hostNATInfo returns the host's last-known NAT classification, or
// Unknown if the prober has not completed a cycle yet.
func (r *Runtime) hostNATInfo() api.PeerNATInfo {
	if r.deps.Prober == nil {
		return api.PeerNATInfo{NATType: api.NATUnknown}
	}
	result := r.deps.Prober.LastResult()
	if result == nil {
		return api.PeerNATInfo{NATType: api.NATUnknown}
	}
	return api.PeerNATInfo{
		NATType:    api.NATType(result.NATType),
		PublicIP:   result.PublicIP.String(),
		PublicPort: result.PublicPort,
	}
}

// CreateParty generates a fresh party id, registers it with the control
// plane under this host's identity, and sets this instance as host.
func (r *Runtime) CreateParty(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	if r.party != nil {
		r.mu.Unlock()
		return "", ErrPartyAlreadyActive
	}
	r.mu.Unlock()

	partyID := uuid.NewString()
	host := r.hostIdentity(name)
	req := api.RegisterPartyRequest{
		PartyID: partyID,
		Name:    name,
		Host:    host,
		HostNAT: r.hostNATInfo(),
	}
	if err := r.deps.ControlPlane.RegisterParty(ctx, req); err != nil {
		return "", lanerr.Wrap(lanerr.ConfigurationInvalid, "party: create party: register", err)
	}

	r.mu.Lock()
	r.party = &Info{PartyID: partyID, Name: name, HostID: host.PeerID}
	r.displayName = name
	r.mu.Unlock()

	r.deps.Orchestrator.SetPartyID(partyID)
	r.startEventLoop(partyID)

	r.logger.Info("party created",
		"component", "party",
		"party_id", partyID,
	)

	return partyID, nil
}

// JoinParty registers this host with the control plane for an existing
// party, pulls the current roster, and connects to every peer already
// present.
func (r *Runtime) JoinParty(ctx context.Context, partyID, displayName string) error {
	r.mu.Lock()
	if r.party != nil {
		r.mu.Unlock()
		return ErrPartyAlreadyActive
	}
	r.mu.Unlock()

	host := r.hostIdentity(displayName)
	info, err := r.deps.ControlPlane.JoinParty(ctx, partyID, api.JoinPartyRequest{
		Peer:    host,
		PeerNAT: r.hostNATInfo(),
	})
	if err != nil {
		if errors.Is(err, api.ErrPartyNotFound) {
			return lanerr.Wrap(lanerr.PartyNotFound, "party: join party", err)
		}
		return lanerr.Wrap(lanerr.ConfigurationInvalid, "party: join party", err)
	}

	r.mu.Lock()
	r.party = &Info{PartyID: info.PartyID, Name: info.Name, HostID: info.HostID}
	r.displayName = displayName
	r.mu.Unlock()

	r.deps.Orchestrator.SetPartyID(info.PartyID)

	for _, peer := range info.Peers {
		if peer.Identity.PeerID == host.PeerID {
			continue
		}
		if err := r.OnPeerJoined(ctx, peer); err != nil {
			r.logger.Warn("join party: connect to existing peer failed",
				"component", "party",
				"peer_id", peer.Identity.PeerID,
				"error", err,
			)
		}
	}

	r.startEventLoop(partyID)

	r.logger.Info("party joined",
		"component", "party",
		"party_id", partyID,
		"peer_count", len(info.Peers),
	)

	return nil
}

// startEventLoop subscribes to the control plane's push event stream and
// dispatches peer_joined/peer_left/peer_updated to the matching hook.
// A Subscribe failure is logged and no event loop is started; no
// get_party polling takes its place, so peer events for the party are
// not received.
func (r *Runtime) startEventLoop(partyID string) {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancelSub = cancel
	r.mu.Unlock()

	sub, err := r.deps.ControlPlane.Subscribe(ctx, partyID, r.logger)
	if err != nil {
		r.logger.Warn("subscribe failed, peer events will not be received",
			"component", "party",
			"party_id", partyID,
			"error", err,
		)
		return
	}

	go func() {
		for evt := range sub.Events {
			r.dispatchEvent(ctx, evt)
		}
	}()
}

func (r *Runtime) dispatchEvent(ctx context.Context, evt api.PartyEvent) {
	switch evt.Type {
	case api.EventPeerJoined:
		if err := r.OnPeerJoined(ctx, evt.Peer); err != nil {
			r.logger.Warn("peer_joined handling failed",
				"component", "party",
				"peer_id", evt.Peer.Identity.PeerID,
				"error", err,
			)
		}
	case api.EventPeerLeft:
		if err := r.OnPeerLeft(evt.PeerID); err != nil {
			r.logger.Warn("peer_left handling failed",
				"component", "party",
				"peer_id", evt.PeerID,
				"error", err,
			)
		}
	case api.EventPeerUpdated:
		if err := r.OnPeerUpdated(ctx, evt.Peer); err != nil {
			r.logger.Warn("peer_updated handling failed",
				"component", "party",
				"peer_id", evt.Peer.Identity.PeerID,
				"error", err,
			)
		}
	}
}

// OnPeerJoined records peer and drives ConnectionOrchestrator.Connect,
// keeping the peers map and orchestrator records in the same critical
// section so they never drift per §4.6's invariant.
func (r *Runtime) OnPeerJoined(ctx context.Context, peer api.PeerDescriptor) error {
	r.mu.Lock()
	if r.party == nil {
		r.mu.Unlock()
		return ErrNoActiveParty
	}
	r.peers[peer.Identity.PeerID] = peer
	r.mu.Unlock()

	err := r.deps.Orchestrator.Connect(ctx, orchestrator.PeerInfo{
		Identity: peer.Identity,
		NATInfo:  peer.NATInfo,
	})
	if err != nil {
		r.mu.Lock()
		delete(r.peers, peer.Identity.PeerID)
		r.mu.Unlock()
		return err
	}
	return nil
}

// OnPeerLeft disconnects peerID and forgets it. Idempotent.
func (r *Runtime) OnPeerLeft(peerID string) error {
	r.mu.Lock()
	delete(r.peers, peerID)
	r.mu.Unlock()
	return r.deps.Orchestrator.Disconnect(peerID)
}

// OnPeerUpdated re-evaluates a peer whose identity or NAT info changed,
// e.g. after a key rotation or NAT remapping: disconnect and reconnect
// so the orchestrator re-runs strategy selection against the new info.
func (r *Runtime) OnPeerUpdated(ctx context.Context, peer api.PeerDescriptor) error {
	r.mu.Lock()
	if r.party == nil {
		r.mu.Unlock()
		return ErrNoActiveParty
	}
	r.peers[peer.Identity.PeerID] = peer
	r.mu.Unlock()

	if err := r.deps.Orchestrator.Disconnect(peer.Identity.PeerID); err != nil {
		return err
	}
	return r.deps.Orchestrator.Connect(ctx, orchestrator.PeerInfo{
		Identity: peer.Identity,
		NATInfo:  peer.NATInfo,
	})
}

// LeaveParty disconnects every peer, deregisters from the control plane,
// and clears the active party. Idempotent.
func (r *Runtime) LeaveParty(ctx context.Context) error {
	r.mu.Lock()
	if r.party == nil {
		r.mu.Unlock()
		return nil
	}
	partyID := r.party.PartyID
	peerID := r.deps.Identity.PeerID
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	if r.cancelSub != nil {
		r.cancelSub()
		r.cancelSub = nil
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.deps.Orchestrator.Disconnect(id); err != nil {
			r.logger.Warn("leave party: disconnect failed",
				"component", "party",
				"peer_id", id,
				"error", err,
			)
		}
	}

	if err := r.deps.ControlPlane.LeaveParty(ctx, partyID, peerID); err != nil {
		r.logger.Warn("leave party: deregister failed",
			"component", "party",
			"party_id", partyID,
			"error", err,
		)
	}

	r.mu.Lock()
	r.party = nil
	r.peers = make(map[string]api.PeerDescriptor)
	r.mu.Unlock()

	r.logger.Info("party left",
		"component", "party",
		"party_id", partyID,
	)

	return nil
}

// Status aggregates party metadata and every known peer's orchestrator
// snapshot, per §4.6's status() operation.
func (r *Runtime) Status() (Status, error) {
	r.mu.Lock()
	if r.party == nil {
		r.mu.Unlock()
		return Status{}, ErrNoActiveParty
	}
	info := *r.party
	r.mu.Unlock()

	return Status{
		Party: info,
		Peers: r.deps.Orchestrator.Snapshots(),
	}, nil
}
