// Package transport implements the UDP plumbing RTPS needs: port
// derivation, the participant-id bind scan, multicast group join with
// graceful degradation, and SO_REUSEPORT wiring (spec.md §4.5).
package transport

import "fmt"

// MulticastGroup is the fixed RTPS discovery/user multicast address
// (spec.md §4.5, §6).
const MulticastGroup = "239.255.0.1"

// Port derivation constants (spec.md §4.5): port = base + 250*domainId + offset(+2*participantId).
const (
	portBase                = 7400
	domainIdGain            = 250
	spdpMulticastOffset     = 0
	userMulticastOffset     = 1
	spdpUnicastOffset       = 10
	userUnicastOffset       = 11
	participantIdGain       = 2
)

// SPDPMulticastPort returns the well-known SPDP multicast port for domainId.
func SPDPMulticastPort(domainId int) int {
	return portBase + domainIdGain*domainId + spdpMulticastOffset
}

// UserMulticastPort returns the well-known user-data multicast port for domainId.
func UserMulticastPort(domainId int) int {
	return portBase + domainIdGain*domainId + userMulticastOffset
}

// SPDPUnicastPort returns the SPDP unicast port for domainId and participantId.
func SPDPUnicastPort(domainId, participantId int) int {
	return portBase + domainIdGain*domainId + spdpUnicastOffset + participantIdGain*participantId
}

// UserUnicastPort returns the user-data unicast port for domainId and participantId.
func UserUnicastPort(domainId, participantId int) int {
	return portBase + domainIdGain*domainId + userUnicastOffset + participantIdGain*participantId
}

// ValidateDomainId enforces the documented range (spec.md §6).
func ValidateDomainId(domainId int) error {
	if domainId < 0 || domainId > 231 {
		return fmt.Errorf("transport: domain id %d out of range [0,231]", domainId)
	}
	return nil
}
