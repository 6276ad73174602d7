package wire

import (
	"encoding/binary"
	"net"
)

// Locator kind values (RTPS 2.3 table 9.13).
const (
	LocatorKindInvalid = -1
	LocatorKindUDPv4    = 1
	LocatorKindUDPv6    = 2
)

const LocatorLength = 24

// Locator is the RTPS wire form of a transport address: a 4-octet
// kind, a 4-octet port, and a 16-octet address (IPv4 addresses are
// placed in the last 4 octets).
type Locator struct {
	Kind    int32
	Port    uint32
	Address [16]byte
}

func LocatorFromUDPAddr(addr *net.UDPAddr) Locator {
	l := Locator{Kind: LocatorKindUDPv4, Port: uint32(addr.Port)}
	ip4 := addr.IP.To4()
	if ip4 == nil {
		l.Kind = LocatorKindUDPv6
		copy(l.Address[:], addr.IP.To16())
		return l
	}
	copy(l.Address[12:], ip4)
	return l
}

func (l Locator) UDPAddr() *net.UDPAddr {
	if l.Kind == LocatorKindUDPv4 {
		return &net.UDPAddr{IP: net.IPv4(l.Address[12], l.Address[13], l.Address[14], l.Address[15]), Port: int(l.Port)}
	}
	ip := make(net.IP, 16)
	copy(ip, l.Address[:])
	return &net.UDPAddr{IP: ip, Port: int(l.Port)}
}

func encodeLocator(l Locator, order binary.ByteOrder) []byte {
	out := make([]byte, LocatorLength)
	order.PutUint32(out[0:4], uint32(l.Kind))
	order.PutUint32(out[4:8], l.Port)
	copy(out[8:24], l.Address[:])
	return out
}

func decodeLocator(b []byte, order binary.ByteOrder) (Locator, error) {
	if len(b) < LocatorLength {
		return Locator{}, errShortBuffer("locator", LocatorLength, len(b))
	}
	var l Locator
	l.Kind = int32(order.Uint32(b[0:4]))
	l.Port = order.Uint32(b[4:8])
	copy(l.Address[:], b[8:24])
	return l, nil
}
