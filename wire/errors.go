package wire

import "fmt"

// ErrProtocolViolation wraps any malformed-submessage condition.
// Per spec.md §7, it aborts only the current datagram; it never
// penalizes the peer for future datagrams.
type ErrProtocolViolation struct {
	Reason string
}

func (e *ErrProtocolViolation) Error() string {
	return "wire: protocol violation: " + e.Reason
}

func protocolViolation(format string, args ...any) error {
	return &ErrProtocolViolation{Reason: fmt.Sprintf(format, args...)}
}

func errShortBuffer(what string, want, got int) error {
	return protocolViolation("%s: need %d bytes, have %d", what, want, got)
}
