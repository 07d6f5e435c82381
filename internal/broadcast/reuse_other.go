//go:build !linux

package broadcast

import "net"

// setReuseAndBroadcast is a no-op placeholder on platforms without the
// Linux SO_REUSEADDR/SO_BROADCAST wiring; net.ListenUDP's default socket
// options already allow sending broadcast datagrams on most platforms.
func setReuseAndBroadcast(conn *net.UDPConn) error {
	return nil
}
