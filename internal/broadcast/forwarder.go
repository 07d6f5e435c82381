package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

const maxDatagramSize = 65535

// whitelistOwner is the synthetic owner tag carried by every port loaded
// from the persistent user whitelist, so it survives game-profile churn.
const whitelistOwner = "user-whitelist"

// listener owns one bound UDP socket and the multicast groups joined on
// it, if any.
type listener struct {
	port   int
	conn   *net.UDPConn
	pconn  *ipv4.PacketConn // non-nil when multicast groups are joined
	groups []string
	cancel context.CancelFunc
	done   chan struct{}
}

// Forwarder captures LAN broadcast/multicast UDP traffic, deduplicates it,
// and fans it out to registered per-peer forward channels. Re-injection on
// the remote host is performed by the same Forwarder instance running
// there, via Inject.
type Forwarder struct {
	cfg    Config
	iface  *net.Interface
	logger *slog.Logger

	dedup *dedupSet
	refs  *portRefs

	listenersMu sync.Mutex
	listeners   map[int]*listener

	forwardMu sync.RWMutex
	forward   map[string]chan Packet

	wg sync.WaitGroup
}

// New creates a Forwarder bound to cfg.Interface (or the zero interface,
// meaning "any", if empty). Config defaults are applied automatically.
func New(cfg Config, logger *slog.Logger) (*Forwarder, error) {
	cfg.ApplyDefaults()

	var iface *net.Interface
	if cfg.Interface != "" {
		var err error
		iface, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("broadcast: resolve interface %q: %w", cfg.Interface, err)
		}
	}

	return &Forwarder{
		cfg:       cfg,
		iface:     iface,
		logger:    logger,
		dedup:     newDedupSet(cfg.DedupWindow),
		refs:      newPortRefs(),
		listeners: make(map[int]*listener),
		forward:   make(map[string]chan Packet),
	}, nil
}

// Stats returns the current dedup counters.
func (f *Forwarder) Stats() Stats { return f.dedup.stats() }

// RunCleanup runs the periodic dedup-set sweep until ctx is cancelled.
func (f *Forwarder) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.dedup.sweep(time.Now())
		}
	}
}

// RegisterPeer installs a bounded forward channel for peerID and returns
// it so the caller (the connection orchestrator) can drain it and write
// each packet to that peer's tunnel. Registration is race-free with the
// forwarding path: readers of the forward map take a snapshot under
// forwardMu.RLock.
func (f *Forwarder) RegisterPeer(peerID string) <-chan Packet {
	f.forwardMu.Lock()
	defer f.forwardMu.Unlock()
	ch := make(chan Packet, f.cfg.ForwardBufferSize)
	f.forward[peerID] = ch
	return ch
}

// UnregisterPeer removes and closes peerID's forward channel. Idempotent.
func (f *Forwarder) UnregisterPeer(peerID string) {
	f.forwardMu.Lock()
	ch, ok := f.forward[peerID]
	delete(f.forward, peerID)
	f.forwardMu.Unlock()
	if ok {
		close(ch)
	}
}

// dispatch fans a non-duplicate packet out to every registered peer's
// forward channel. A slow consumer causes a dropped packet for that peer
// only — dispatch never blocks.
func (f *Forwarder) dispatch(pkt Packet) {
	f.forwardMu.RLock()
	defer f.forwardMu.RUnlock()
	for peerID, ch := range f.forward {
		select {
		case ch <- pkt:
		default:
			f.logger.Warn("broadcast: dropped packet for slow peer",
				"component", "broadcast",
				"peer_id", peerID,
				"dest_port", pkt.DestPort,
			)
		}
	}
}

// AddPort ensures port is being listened on, binding a new UDP socket if
// this is the first owner asking for it. A bind failure is logged, the
// owner's reference is dropped again, and AddPort still returns nil, so
// the caller is not told the port is unmonitored. protocol is accepted for interface symmetry with the
// monitored-port set's (port, protocol) shape but only "udp" is
// supported.
func (f *Forwarder) AddPort(port int, protocol, owner string) error {
	if protocol != "" && protocol != "udp" {
		return fmt.Errorf("broadcast: unsupported protocol %q", protocol)
	}

	first := f.refs.addRef(port, owner)
	if !first {
		return nil
	}

	if err := f.startListener(port); err != nil {
		f.refs.release(port, owner)
		f.logger.Warn("broadcast: listener bind failed, skipping",
			"component", "broadcast",
			"port", port,
			"error", err,
		)
		return nil
	}
	return nil
}

// JoinMulticast adds group as a multicast membership on port's listener.
// The listener must already be bound via AddPort.
func (f *Forwarder) JoinMulticast(port int, group string) error {
	f.listenersMu.Lock()
	l, ok := f.listeners[port]
	f.listenersMu.Unlock()
	if !ok {
		return fmt.Errorf("broadcast: join multicast: no listener on port %d", port)
	}

	groupIP := net.ParseIP(group)
	if groupIP == nil {
		return fmt.Errorf("broadcast: join multicast: invalid group %q", group)
	}

	if l.pconn == nil {
		l.pconn = ipv4.NewPacketConn(l.conn)
	}
	if err := l.pconn.JoinGroup(f.iface, &net.UDPAddr{IP: groupIP}); err != nil {
		return fmt.Errorf("broadcast: join multicast %s on :%d: %w", group, port, err)
	}
	l.groups = append(l.groups, group)
	f.logger.Info("broadcast: joined multicast group",
		"component", "broadcast",
		"port", port,
		"group", group,
	)
	return nil
}

// ReleasePort drops owner's reference to port. The listener is torn down
// only once every owner has released it.
func (f *Forwarder) ReleasePort(port int, owner string) {
	if f.refs.release(port, owner) {
		f.stopListener(port)
	}
}

// ReleaseOwner drops every port reference held by owner, tearing down any
// listener whose last reference was just released.
func (f *Forwarder) ReleaseOwner(owner string) {
	for _, port := range f.refs.releaseOwner(owner) {
		f.stopListener(port)
	}
}

func (f *Forwarder) startListener(port int) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return err
	}
	if err := setReuseAndBroadcast(conn); err != nil {
		f.logger.Debug("broadcast: socket option failed",
			"component", "broadcast", "port", port, "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &listener{port: port, conn: conn, cancel: cancel, done: make(chan struct{})}

	f.listenersMu.Lock()
	f.listeners[port] = l
	f.listenersMu.Unlock()

	f.wg.Add(1)
	go f.captureLoop(ctx, l)

	f.logger.Info("broadcast: listener started", "component", "broadcast", "port", port)
	return nil
}

func (f *Forwarder) stopListener(port int) {
	f.listenersMu.Lock()
	l, ok := f.listeners[port]
	delete(f.listeners, port)
	f.listenersMu.Unlock()
	if !ok {
		return
	}
	l.cancel()
	l.conn.Close()
	<-l.done
	f.logger.Info("broadcast: listener stopped", "component", "broadcast", "port", port)
}

// captureLoop reads datagrams from l until ctx is cancelled or the socket
// is closed, deduplicating and dispatching each non-duplicate packet.
func (f *Forwarder) captureLoop(ctx context.Context, l *listener) {
	defer f.wg.Done()
	defer close(l.done)

	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		pkt := Packet{
			Payload:    payload,
			SourceIP:   src.IP,
			SourcePort: src.Port,
			DestPort:   l.port,
			ReceivedAt: time.Now(),
		}

		if f.dedup.checkAndInsert(pkt.dedupKey(), pkt.ReceivedAt) {
			continue
		}
		f.dispatch(pkt)
	}
}

// Inject synthesizes and sends pkt on the host's LAN interface so the
// local game sees it as if it arrived from the LAN: for ScopeBroadcast
// the destination is the interface's directed broadcast address; for
// ScopeMulticast the original group is used. The dedup hash is stamped
// into the dedup set before sending so the immediate local capture on
// this same host is dropped as a duplicate (loop avoidance). Send
// failures are logged and never propagate to the caller; no count of
// them is kept.
func (f *Forwarder) Inject(pkt Packet) {
	f.dedup.stamp(pkt.dedupKey(), time.Now())

	dest := f.injectDestination(pkt)
	if dest == nil {
		f.logger.Warn("broadcast: inject: no destination resolvable",
			"component", "broadcast", "dest_port", pkt.DestPort)
		return
	}

	conn, err := net.DialUDP("udp4", nil, dest)
	if err != nil {
		f.logger.Warn("broadcast: inject send failed",
			"component", "broadcast", "dest", dest.String(), "error", err)
		return
	}
	defer conn.Close()

	if _, err := conn.Write(pkt.Payload); err != nil {
		f.logger.Warn("broadcast: inject send failed",
			"component", "broadcast", "dest", dest.String(), "error", err)
	}
}

func (f *Forwarder) injectDestination(pkt Packet) *net.UDPAddr {
	if pkt.Scope == ScopeMulticast && pkt.MulticastGroup != "" {
		return &net.UDPAddr{IP: net.ParseIP(pkt.MulticastGroup), Port: pkt.DestPort}
	}
	bcast := directedBroadcast(f.iface)
	if bcast == nil {
		bcast = net.IPv4bcast
	}
	return &net.UDPAddr{IP: bcast, Port: pkt.DestPort}
}

// directedBroadcast computes iface's directed broadcast address from its
// first IPv4 address, or nil if iface is nil or has none.
func directedBroadcast(iface *net.Interface) net.IP {
	if iface == nil {
		return nil
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		bcast := make(net.IP, 4)
		for i := range ip4 {
			bcast[i] = ip4[i] | ^ipNet.Mask[i]
		}
		return bcast
	}
	return nil
}

// Close tears down every active listener. Idempotent.
func (f *Forwarder) Close() error {
	f.listenersMu.Lock()
	ports := make([]int, 0, len(f.listeners))
	for port := range f.listeners {
		ports = append(ports, port)
	}
	f.listenersMu.Unlock()

	for _, port := range ports {
		f.stopListener(port)
	}
	f.wg.Wait()

	f.forwardMu.Lock()
	for peerID, ch := range f.forward {
		close(ch)
		delete(f.forward, peerID)
	}
	f.forwardMu.Unlock()

	return nil
}

// ActivePorts returns the ports currently being listened on.
func (f *Forwarder) ActivePorts() []int {
	return f.refs.activePorts()
}
