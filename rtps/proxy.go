// Package rtps implements the RTPS reliability state machines: the
// Reader side (WriterProxy bookkeeping, ACKNACK generation) and the
// Writer side (ReaderProxy bookkeeping, HEARTBEAT generation and
// resend scheduling), per spec.md §4.3/§4.4.
package rtps

import (
	"time"

	"github.com/nautopia/rdds/guid"
)

// WriterProxy is a Reader's per-matched-writer state: the sliding set
// of sequence numbers it still expects, and the highest one seen so
// far (spec.md §4.3).
type WriterProxy struct {
	WriterGUID guid.GUID
	Locators   []string // unicast/multicast locator strings, opaque to this package

	highestSNReceived guid.SequenceNumber
	missingSamples    map[guid.SequenceNumber]struct{}

	lastHeartbeatCount int32
	seenFirstHeartbeat bool

	lastAckNackSent      time.Time
	nackSuppressDuration time.Duration
	ackNackCount         int32
}

// NewWriterProxy starts a proxy with nothing received yet.
func NewWriterProxy(writer guid.GUID, locators []string) *WriterProxy {
	return &WriterProxy{
		WriterGUID:           writer,
		Locators:             locators,
		missingSamples:       make(map[guid.SequenceNumber]struct{}),
		nackSuppressDuration: 200 * time.Millisecond,
	}
}

// HighestSNReceived is the highest sequence number accepted so far.
func (wp *WriterProxy) HighestSNReceived() guid.SequenceNumber { return wp.highestSNReceived }

// Missing returns every sequence number currently believed missing,
// ascending.
func (wp *WriterProxy) Missing() []guid.SequenceNumber {
	out := make([]guid.SequenceNumber, 0, len(wp.missingSamples))
	for sn := range wp.missingSamples {
		out = append(out, sn)
	}
	sortSN(out)
	return out
}

// AcceptDataSN reports whether sn should be accepted for insertion:
// either it extends highestSNReceived, or it fills a known gap
// (spec.md §4.3 step 2).
func (wp *WriterProxy) AcceptDataSN(sn guid.SequenceNumber) bool {
	if sn > wp.highestSNReceived {
		return true
	}
	_, missing := wp.missingSamples[sn]
	return missing
}

// RecordDataSN updates bookkeeping after a sample with sn has been
// accepted and inserted: advance highestSNReceived, fill any newly
// opened gaps into missingSamples, and clear sn from missingSamples
// if it was filling one (spec.md §4.3 step 4).
func (wp *WriterProxy) RecordDataSN(sn guid.SequenceNumber) {
	delete(wp.missingSamples, sn)
	if sn <= wp.highestSNReceived {
		return
	}
	for gap := wp.highestSNReceived + 1; gap < sn; gap++ {
		wp.missingSamples[gap] = struct{}{}
	}
	wp.highestSNReceived = sn
}

// ApplyHeartbeat updates missingSamples from a HEARTBEAT's advertised
// [firstSN, lastSN] range, and reports whether the heartbeat was new
// (count strictly greater than the last seen) and therefore whether
// the caller should consider scheduling an ACKNACK (spec.md §4.3).
func (wp *WriterProxy) ApplyHeartbeat(firstSN, lastSN guid.SequenceNumber, count int32) (isNew bool) {
	if wp.seenFirstHeartbeat && count <= wp.lastHeartbeatCount {
		return false
	}
	wp.seenFirstHeartbeat = true
	wp.lastHeartbeatCount = count

	for sn := firstSN; sn <= lastSN; sn++ {
		if sn > wp.highestSNReceived {
			wp.missingSamples[sn] = struct{}{}
		}
	}
	return true
}

// ApplyGap removes the irrevocably-missing range a GAP announces and
// advances highestSNReceived across it if it abuts the current range
// (spec.md §4.3).
func (wp *WriterProxy) ApplyGap(missing []guid.SequenceNumber) {
	for _, sn := range missing {
		delete(wp.missingSamples, sn)
		if sn == wp.highestSNReceived+1 {
			wp.highestSNReceived = sn
		}
	}
}

// ShouldSendAckNack reports whether nack-suppression backoff has
// elapsed since the last ACKNACK sent to this writer.
func (wp *WriterProxy) ShouldSendAckNack(now time.Time) bool {
	return now.Sub(wp.lastAckNackSent) >= wp.nackSuppressDuration
}

// NextAckNackCount returns the next strictly-increasing ACKNACK count
// and records now as the last-sent time.
func (wp *WriterProxy) NextAckNackCount(now time.Time) int32 {
	wp.ackNackCount++
	wp.lastAckNackSent = now
	return wp.ackNackCount
}

func sortSN(s []guid.SequenceNumber) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// ReaderProxy is a Writer's per-matched-reader state: which changes it
// still hasn't acknowledged, and the reliability state machine
// `{Idle, Pushing, WaitingForAck, Announcing}` (spec.md §4.4).
type ReaderProxy struct {
	ReaderGUID guid.GUID
	Locators   []string
	Reliable   bool

	State ReaderProxyState

	unackedChanges     map[guid.SequenceNumber]struct{}
	highestAckedSN     guid.SequenceNumber
	lastAckNackCount   int32
	seenFirstAckNack   bool

	heartbeatCount int32
}

// ReaderProxyState is the per-reader reliability state (spec.md §4.4).
type ReaderProxyState int

const (
	Idle ReaderProxyState = iota
	Pushing
	WaitingForAck
	Announcing
)

func NewReaderProxy(reader guid.GUID, locators []string, reliable bool) *ReaderProxy {
	return &ReaderProxy{
		ReaderGUID:     reader,
		Locators:       locators,
		Reliable:       reliable,
		unackedChanges: make(map[guid.SequenceNumber]struct{}),
		State:          Idle,
	}
}

// AddUnacked records sn as sent-but-unacknowledged. Best-effort
// readers never accumulate unacked state (spec.md §4.4).
func (rp *ReaderProxy) AddUnacked(sn guid.SequenceNumber) {
	if !rp.Reliable {
		return
	}
	rp.unackedChanges[sn] = struct{}{}
	rp.State = Pushing
}

// HasUnacked reports whether any change remains unacknowledged.
func (rp *ReaderProxy) HasUnacked() bool {
	return len(rp.unackedChanges) > 0
}

// UnackedSNs returns every unacknowledged sequence number, ascending.
func (rp *ReaderProxy) UnackedSNs() []guid.SequenceNumber {
	out := make([]guid.SequenceNumber, 0, len(rp.unackedChanges))
	for sn := range rp.unackedChanges {
		out = append(out, sn)
	}
	sortSN(out)
	return out
}

// NextHeartbeatCount returns the next strictly-increasing HEARTBEAT count.
func (rp *ReaderProxy) NextHeartbeatCount() int32 {
	rp.heartbeatCount++
	return rp.heartbeatCount
}

// ApplyAckNack applies a reader's ACKNACK: advances highestAckedSN to
// state.Base-1, drops every unacked sn below state.Base or covered by
// a clear bit within the bitmap's range (those are acknowledged), and
// keeps (re-schedules for resend) every sn whose bit is set. A sn
// beyond the bitmap's declared range is left untouched — the reader
// hasn't reported on it yet (spec.md §4.4).
func (rp *ReaderProxy) ApplyAckNack(state guid.SequenceNumberSet, count int32) (isNew bool) {
	if rp.seenFirstAckNack && count <= rp.lastAckNackCount {
		return false
	}
	rp.seenFirstAckNack = true
	rp.lastAckNackCount = count

	rp.highestAckedSN = state.Base - 1
	bitmapEnd := state.Base + guid.SequenceNumber(state.NumBits)

	for sn := range rp.unackedChanges {
		switch {
		case sn < state.Base:
			delete(rp.unackedChanges, sn)
		case sn < bitmapEnd:
			if !state.Contains(sn) {
				delete(rp.unackedChanges, sn)
			}
		}
	}

	if rp.HasUnacked() {
		rp.State = Pushing
	} else {
		rp.State = WaitingForAck
	}
	return true
}
