package nat

import (
	"context"
	"fmt"
	"log/slog"
	"net"
)

// Puncher performs UDP hole-punching on the same local port WireGuard
// listens on. Per §5's shared-resource rule, the socket used for punching
// is bound and released for the duration of a single punch attempt —
// the prober releases it before the WireGuard controller configures a
// peer for which the resulting NAT mapping is needed.
type Puncher struct {
	localPort int
	logger    *slog.Logger
}

// NewPuncher creates a Puncher bound to localPort.
func NewPuncher(localPort int, logger *slog.Logger) *Puncher {
	return &Puncher{localPort: localPort, logger: logger}
}

// Punch binds a UDP socket on the configured local port, exchanges probes
// with peerIP:peerPort per the §4.3 hole-punch protocol, and releases the
// socket before returning regardless of outcome.
func (p *Puncher) Punch(ctx context.Context, peerIP net.IP, peerPort int) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: p.localPort})
	if err != nil {
		return fmt.Errorf("nat: punch: bind local port %d: %w", p.localPort, err)
	}
	defer conn.Close()

	peerAddr := &net.UDPAddr{IP: peerIP, Port: peerPort}
	return Punch(ctx, conn, peerAddr, p.logger)
}
