package nat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/coff33ninja/lanrage/internal/lanerr"
)

// punchProbe and punchAck are the literal ASCII payloads exchanged during
// UDP hole-punching.
var (
	punchProbe = []byte("LANRAGE_PUNCH")
	punchAck   = []byte("LANRAGE_PUNCH_ACK")
)

const (
	punchCount    = 5
	punchSpacing  = 100 * time.Millisecond
	punchDeadline = 2 * time.Second
)

// ProbeResult holds the outcome of a NAT classification cycle.
type ProbeResult struct {
	PublicIP   net.IP
	PublicPort int
	NATType    NATType
}

// Endpoint returns the "ip:port" form of the discovered public endpoint.
func (r ProbeResult) Endpoint() string {
	return fmt.Sprintf("%s:%d", r.PublicIP, r.PublicPort)
}

// Prober discovers the host's public endpoint and NAT behavior via STUN,
// and assists the orchestrator with UDP hole-punching on the WireGuard
// socket. It never attempts to distinguish RestrictedCone from
// PortRestrictedCone, and only detects Symmetric when a second STUN server
// answers — both require multi-server probing beyond what a single
// exchange can determine.
type Prober struct {
	client    STUNClient
	cfg       Config
	localPort int
	logger    *slog.Logger

	mu   sync.RWMutex
	last *ProbeResult
}

// NewProber creates a Prober bound to localPort, the port WireGuard listens
// on.
func NewProber(client STUNClient, cfg Config, localPort int, logger *slog.Logger) *Prober {
	return &Prober{
		client:    client,
		cfg:       cfg,
		localPort: localPort,
		logger:    logger,
	}
}

// Probe performs one or two STUN Binding exchanges and classifies the NAT
// type per the documented single-exchange algorithm:
//
//	pi == li              -> Open
//	pi != li && pp == lp  -> FullCone
//	otherwise             -> PortRestrictedCone (conservative default)
//
// A second server is consulted only to confirm Symmetric: if its mapped
// endpoint differs from the first server's, both the port-equality and
// IP-equality checks failed and the host is behind a symmetric NAT.
func (p *Prober) Probe(ctx context.Context) (*ProbeResult, error) {
	var first MappedAddress
	found := false
	triedIdx := -1

	for i, server := range p.cfg.STUNServers {
		addr, err := p.bindWithTimeout(ctx, server)
		if err != nil {
			p.logger.Warn("stun binding failed", "component", "nat", "server", server, "error", err)
			continue
		}
		first = addr
		found = true
		triedIdx = i
		p.logger.Debug("stun binding succeeded", "component", "nat", "server", server, "endpoint", addr.String())
		break
	}

	if !found {
		return nil, lanerr.Wrap(lanerr.NATProbeFailed, "no STUN server responded", errors.New("nat: probe: all servers failed"))
	}

	localIP := localBindIP()

	if localIP != nil && first.IP.Equal(localIP) {
		result := &ProbeResult{PublicIP: first.IP, PublicPort: first.Port, NATType: NATOpen}
		p.record(result, p.cfg.STUNServers[triedIdx])
		return result, nil
	}

	natType := NATPortRestrictedCone
	if first.Port == p.localPort {
		natType = NATFullCone
	}

	for _, server := range p.cfg.STUNServers[triedIdx+1:] {
		second, err := p.bindWithTimeout(ctx, server)
		if err != nil {
			p.logger.Warn("stun binding failed", "component", "nat", "server", server, "error", err)
			continue
		}
		if !first.IP.Equal(second.IP) || first.Port != second.Port {
			natType = NATSymmetric
		}
		break
	}

	result := &ProbeResult{PublicIP: first.IP, PublicPort: first.Port, NATType: natType}
	p.record(result, p.cfg.STUNServers[triedIdx])
	return result, nil
}

func (p *Prober) bindWithTimeout(ctx context.Context, server string) (MappedAddress, error) {
	subCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	return p.client.Bind(subCtx, server, p.localPort)
}

func (p *Prober) record(result *ProbeResult, server string) {
	p.mu.Lock()
	p.last = result
	p.mu.Unlock()

	p.logger.Info("nat type classified",
		"component", "nat",
		"endpoint", result.Endpoint(),
		"nat_type", string(result.NATType),
		"stun_server", server,
	)
}

// LastResult returns the most recently classified result, or nil if Probe
// has never succeeded.
func (p *Prober) LastResult() *ProbeResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Run performs an initial probe, invokes onResult, then refreshes on
// cfg.RefreshInterval until ctx is cancelled. A failed refresh is logged
// and does not end the loop; the previous result (and NAT type) continues
// to be used until a refresh succeeds.
func (p *Prober) Run(ctx context.Context, onResult func(*ProbeResult)) error {
	result, err := p.Probe(ctx)
	if err != nil {
		return err
	}
	onResult(result)

	ticker := time.NewTicker(p.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := p.Probe(ctx)
			if err != nil {
				p.logger.Warn("nat refresh failed", "component", "nat", "error", err)
				continue
			}
			onResult(result)
		}
	}
}

// localBindIP returns the local IP address that would be used to reach the
// public internet, for comparison against a STUN mapped address. It does
// not open a socket to the STUN server itself, since the caller already
// binds there; it performs its own throwaway UDP "connect" to discover
// the outbound interface address.
func localBindIP() net.IP {
	conn, err := net.Dial("udp4", "203.0.113.1:80")
	if err != nil {
		return nil
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP
	}
	return nil
}

// Punch performs UDP hole-punching with a peer at (ip, port) using conn,
// the same socket WireGuard listens on. It sends 5 probes spaced 100ms
// apart, then waits up to 2 seconds for an acknowledgment or a
// peer-initiated probe to answer. The socket's read deadline is cleared
// before Punch returns, regardless of outcome, so WireGuard can reuse it
// immediately.
func Punch(ctx context.Context, conn *net.UDPConn, peerAddr *net.UDPAddr, logger *slog.Logger) error {
	defer conn.SetReadDeadline(time.Time{})

	for i := 0; i < punchCount; i++ {
		if ctx.Err() != nil {
			return lanerr.Wrap(lanerr.HolePunchFailed, "context cancelled during punch", ctx.Err())
		}
		if _, err := conn.WriteToUDP(punchProbe, peerAddr); err != nil {
			return lanerr.Wrap(lanerr.HolePunchFailed, "write probe failed", err)
		}
		if i < punchCount-1 {
			time.Sleep(punchSpacing)
		}
	}

	deadline := time.Now().Add(punchDeadline)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return lanerr.Wrap(lanerr.HolePunchFailed, "set read deadline failed", err)
	}

	buf := make([]byte, 64)
	for time.Now().Before(deadline) {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		payload := buf[:n]
		switch {
		case bytes.Equal(payload, punchAck):
			logger.Debug("hole punch acked", "component", "nat", "peer", peerAddr.String())
			return nil
		case bytes.Equal(payload, punchProbe):
			if _, err := conn.WriteToUDP(punchAck, from); err != nil {
				return lanerr.Wrap(lanerr.HolePunchFailed, "write ack failed", err)
			}
			logger.Debug("hole punch answered peer-initiated probe", "component", "nat", "peer", from.String())
			return nil
		}
	}

	return lanerr.Wrap(lanerr.HolePunchFailed, "no ack received within deadline", fmt.Errorf("nat: punch: timed out waiting for %s", peerAddr))
}
