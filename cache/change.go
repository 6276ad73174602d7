// Package cache implements the DDSCache: a topic-indexed, time-ordered
// store of CacheChanges shared by the event loop and every user-side
// reader/writer handle (spec.md §3, §4.2).
package cache

import (
	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/wire"
)

type ChangeKind int

const (
	Alive ChangeKind = iota
	NotAliveDisposed
	NotAliveUnregistered
)

// InstanceKeyHash is the 16-octet digest identifying the instance
// within a keyed topic (spec.md §3, GLOSSARY "Key hash").
type InstanceKeyHash [16]byte

// CacheChange is one sample, or a dispose/unregister event carrying
// only a key. Two changes are equal iff (WriterGUID, SequenceNumber)
// match (spec.md §3).
type CacheChange struct {
	Kind            ChangeKind
	WriterGUID      guid.GUID
	SequenceNumber  guid.SequenceNumber
	InstanceKeyHash InstanceKeyHash
	DataValue       *wire.SerializedPayload // nil for dispose/unregister-only changes
	ReceiveInstant  guid.Instant
}

// Identity returns the (writer_guid, sequence_number) pair that
// defines change equality.
func (c CacheChange) Identity() (guid.GUID, guid.SequenceNumber) {
	return c.WriterGUID, c.SequenceNumber
}

// KindFromStatusInfo resolves a change kind the way the wire codec's
// StatusInfo does: Disposed beats Unregistered beats Alive.
func KindFromStatusInfo(si wire.StatusInfo, payloadPresent bool) ChangeKind {
	if !payloadPresent {
		switch si.Kind() {
		case wire.ChangeKindNotAliveDisposed:
			return NotAliveDisposed
		case wire.ChangeKindNotAliveUnregistered:
			return NotAliveUnregistered
		}
	}
	return Alive
}
