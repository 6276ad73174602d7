//go:build !linux

package transport

import "net"

// ListenMulticastUDP falls back to a plain bind on platforms where the
// SO_REUSEPORT wiring isn't implemented; co-located participants will
// contend for the multicast port instead of sharing it.
func ListenMulticastUDP(network, addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP(network, udpAddr)
}
