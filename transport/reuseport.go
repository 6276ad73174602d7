//go:build linux

package transport

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortControl is a net.ListenConfig.Control callback that sets
// SO_REUSEPORT on the socket before bind. Several participants on one
// host all need to bind the same SPDP multicast port (spec.md §4.5);
// without SO_REUSEPORT only the first one would succeed.
func reusePortControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// ListenMulticastUDP binds addr with SO_REUSEPORT set so multiple
// local participants can share the same multicast listen port.
func ListenMulticastUDP(network, addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reusePortControl}
	pc, err := lc.ListenPacket(context.Background(), network, addr)
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
