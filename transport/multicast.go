package transport

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// JoinMulticast opens conn (already bound to the multicast port on
// 0.0.0.0) for the given IPv4 multicast group on every multicast-
// capable interface. Failure to join is never fatal: the caller
// degrades to unicast-only operation and records Joined=false on the
// listener, without logging anything (spec.md §6:
// "implementations must attempt to join but tolerate multicast-join
// failure").
func JoinMulticast(conn *net.UDPConn, group string) (*ipv4.PacketConn, error) {
	groupIP := net.ParseIP(group)
	if groupIP == nil {
		return nil, fmt.Errorf("transport: invalid multicast group %q", group)
	}

	pconn := ipv4.NewPacketConn(conn)
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("transport: listing interfaces: %w", err)
	}

	joined := 0
	var lastErr error
	for _, iface := range ifaces {
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if err := pconn.JoinGroup(&iface, &net.UDPAddr{IP: groupIP}); err != nil {
			lastErr = err
			continue
		}
		joined++
	}

	if joined == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("transport: no multicast-capable interface found")
		}
		return nil, fmt.Errorf("transport: joining multicast group %s: %w", group, lastErr)
	}

	_ = pconn.SetMulticastLoopback(true)
	return pconn, nil
}
