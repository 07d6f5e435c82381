//go:build linux

package broadcast

import (
	"net"

	"golang.org/x/sys/unix"
)

// setReuseAndBroadcast sets SO_REUSEADDR and SO_BROADCAST on conn so a
// listener can rebind a port a game itself may also be using, and so the
// socket may send to the broadcast address during injection.
func setReuseAndBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	err = raw.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			opErr = e
			return
		}
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
