package transport

import (
	"fmt"
	"net"
)

// ErrPortRangeExhausted is returned when no participant id in the scan
// range yields bindable unicast ports (spec.md §7, Resource exhaustion).
var ErrPortRangeExhausted = fmt.Errorf("transport: no participant id in range has free unicast ports")

// MaxParticipantIdScan is the default bound RustDDS's participant-id
// scan uses (supplemented feature 1, original_source/src/dds/participant.rs).
const MaxParticipantIdScan = 120

// ScanParticipantID finds the smallest non-negative participant id
// whose derived SPDP and user unicast ports are both bindable on every
// local interface, and returns the id plus the two bound sockets ready
// for the event loop to use (spec.md §4.5: "participant_id is the
// smallest non-negative integer for which the unicast ports are
// bindable").
func ScanParticipantID(domainId int) (participantId int, spdpConn, userConn *net.UDPConn, err error) {
	for pid := 0; pid < MaxParticipantIdScan; pid++ {
		spdpPort := SPDPUnicastPort(domainId, pid)
		userPort := UserUnicastPort(domainId, pid)

		spdp, err := net.ListenUDP("udp4", &net.UDPAddr{Port: spdpPort})
		if err != nil {
			continue
		}
		user, err := net.ListenUDP("udp4", &net.UDPAddr{Port: userPort})
		if err != nil {
			spdp.Close()
			continue
		}
		return pid, spdp, user, nil
	}
	return 0, nil, nil, ErrPortRangeExhausted
}
