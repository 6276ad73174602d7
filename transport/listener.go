package transport

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// SPDPMulticastListener is the fan-in point for participant discovery
// traffic: a SO_REUSEPORT-bound UDP socket plus the joined multicast
// group, shared by every local participant on the same domain.
type SPDPMulticastListener struct {
	Conn   *net.UDPConn
	Group  *ipv4.PacketConn
	Joined bool
}

// OpenSPDPMulticastListener binds the domain's SPDP multicast port and
// attempts to join MulticastGroup. A join failure degrades to
// unicast-only SPDP (Joined=false) rather than failing outright
// (spec.md §6).
func OpenSPDPMulticastListener(domainId int) (*SPDPMulticastListener, error) {
	return openMulticastListener(SPDPMulticastPort(domainId))
}

// OpenUserMulticastListener is OpenSPDPMulticastListener's counterpart
// for the user-data multicast port (spec.md §4.5): same bind-and-join,
// same graceful degradation to unicast-only on join failure.
func OpenUserMulticastListener(domainId int) (*SPDPMulticastListener, error) {
	return openMulticastListener(UserMulticastPort(domainId))
}

func openMulticastListener(port int) (*SPDPMulticastListener, error) {
	conn, err := ListenMulticastUDP("udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("transport: binding multicast port %d: %w", port, err)
	}

	pconn, joinErr := JoinMulticast(conn, MulticastGroup)
	if joinErr != nil {
		return &SPDPMulticastListener{Conn: conn, Joined: false}, nil
	}
	return &SPDPMulticastListener{Conn: conn, Group: pconn, Joined: true}, nil
}

func (l *SPDPMulticastListener) Close() error {
	if l.Group != nil {
		_ = l.Group.Close()
	}
	return l.Conn.Close()
}
