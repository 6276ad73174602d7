// Package receiver implements the MessageReceiver: it turns a raw
// datagram into dispatched calls against the matched Readers and
// Writers that own the submessages inside it (spec.md §4.7).
package receiver

import (
	"time"

	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/rtps"
	"github.com/nautopia/rdds/wire"
	"github.com/rs/zerolog"
)

// ReaderLookup and WriterLookup let MessageReceiver find the local
// endpoint a submessage addresses without importing the root
// participant package (which would cycle back to receiver).
type ReaderLookup func(entity guid.EntityId) []*rtps.Reader
type WriterLookup func(entity guid.EntityId) []*rtps.Writer

// State is the per-datagram INFO_* tracking MessageReceiver maintains
// while walking one datagram's submessages (spec.md §4.7).
type State struct {
	DestGuidPrefix   guid.GuidPrefix
	SourceGuidPrefix guid.GuidPrefix
	SourceVersion    wire.ProtocolVersion
	SourceVendorId   [2]byte

	SourceTimestampValid bool
	SourceTimestamp      time.Time

	UnicastReplyLocators   []wire.Locator
	MulticastReplyLocators []wire.Locator
}

// MessageReceiver parses datagrams and dispatches DATA/HEARTBEAT/GAP
// to local Readers by destination EntityId, and ACKNACK to local
// Writers (spec.md §4.7). It owns no reliability state itself; all of
// it lives in the rtps.Reader/rtps.Writer it dispatches to.
type MessageReceiver struct {
	LocalGuidPrefix guid.GuidPrefix

	FindReaders ReaderLookup
	FindWriters WriterLookup

	log zerolog.Logger
}

func NewMessageReceiver(local guid.GuidPrefix, findReaders ReaderLookup, findWriters WriterLookup, log zerolog.Logger) *MessageReceiver {
	return &MessageReceiver{
		LocalGuidPrefix: local,
		FindReaders:     findReaders,
		FindWriters:     findWriters,
		log:             log.With().Str("caller", "receiver.MessageReceiver").Logger(),
	}
}

// PendingAckNack is an ACKNACK this receiver decided a local Reader
// owes a remote writer, left for the event loop to actually transmit.
type PendingAckNack struct {
	Writer  guid.GUID
	AckNack wire.AckNack
}

// AckNackOutcome is what HandleDatagram found needs to be sent back
// out after processing a datagram's HEARTBEAT/ACKNACK submessages —
// the event loop actually performs the I/O.
type AckNackOutcome struct {
	AckNacks []PendingAckNack
	Sends    []rtps.PendingSend
}

// HandleDatagram parses b and dispatches every submessage it contains
// to the matching local Reader or Writer. A malformed submessage
// aborts only this datagram (spec.md §7); it never panics and never
// touches any other datagram's state.
func (mr *MessageReceiver) HandleDatagram(b []byte, now time.Time) (AckNackOutcome, error) {
	msg, err := wire.ParseMessage(b)
	if err != nil {
		mr.log.Debug().Err(err).Msg("dropping malformed datagram")
		return AckNackOutcome{}, nil
	}

	state := State{
		DestGuidPrefix:   mr.LocalGuidPrefix,
		SourceGuidPrefix: msg.Header.GuidPrefix,
	}

	var outcome AckNackOutcome
	for _, sm := range msg.Submessages {
		switch v := sm.(type) {
		case wire.InfoTS:
			state.SourceTimestampValid = v.Valid
			state.SourceTimestamp = v.Timestamp
		case wire.InfoDst:
			state.DestGuidPrefix = v.GuidPrefix
		case wire.InfoSrc:
			state.SourceGuidPrefix = v.GuidPrefix
			state.SourceVersion = v.Version
			state.SourceVendorId = v.VendorId
		case wire.InfoReply:
			state.UnicastReplyLocators = v.UnicastLocators
			state.MulticastReplyLocators = v.MulticastLocators
		case wire.Data:
			mr.dispatchData(state, v)
		case wire.Heartbeat:
			mr.dispatchHeartbeat(state, v, now, &outcome)
		case wire.Gap:
			mr.dispatchGap(state, v)
		case wire.AckNack:
			mr.dispatchAckNack(state, v, &outcome)
		case wire.Pad, wire.Unknown:
			// nothing to do
		}
	}
	return outcome, nil
}

func (mr *MessageReceiver) writerGUID(state State, entity guid.EntityId) guid.GUID {
	return guid.New(state.SourceGuidPrefix, entity)
}

// readerGUID resolves the GUID of the reader that SENT a submessage
// (ACKNACK): its participant is the datagram's source, not dest.
func (mr *MessageReceiver) readerGUID(state State, entity guid.EntityId) guid.GUID {
	return guid.New(state.SourceGuidPrefix, entity)
}

// dispatchData routes a DATA submessage to every local Reader matching
// its ReaderId (or every local Reader if ReaderId is ENTITYID_UNKNOWN,
// per spec.md §4.7).
func (mr *MessageReceiver) dispatchData(state State, d wire.Data) {
	writer := mr.writerGUID(state, d.WriterId)
	order := wire.ByteOrderForFlags(d.Flags)
	for _, r := range mr.FindReaders(d.ReaderId) {
		if err := r.HandleData(writer, d, order); err != nil {
			mr.log.Warn().Err(err).Msg("reader failed to handle DATA")
		}
	}
}

func (mr *MessageReceiver) dispatchHeartbeat(state State, hb wire.Heartbeat, now time.Time, outcome *AckNackOutcome) {
	writer := mr.writerGUID(state, hb.WriterId)
	for _, r := range mr.FindReaders(hb.ReaderId) {
		if !r.HandleHeartbeat(writer, hb, now) {
			continue
		}
		an, ok := r.BuildAckNack(writer, hb.ReaderId, hb.WriterId, now)
		if !ok {
			continue
		}
		outcome.AckNacks = append(outcome.AckNacks, PendingAckNack{Writer: writer, AckNack: an})
	}
}

func (mr *MessageReceiver) dispatchGap(state State, g wire.Gap) {
	writer := mr.writerGUID(state, g.WriterId)
	for _, r := range mr.FindReaders(g.ReaderId) {
		r.HandleGap(writer, g)
	}
}

func (mr *MessageReceiver) dispatchAckNack(state State, an wire.AckNack, outcome *AckNackOutcome) {
	reader := mr.readerGUID(state, an.ReaderId)
	for _, w := range mr.FindWriters(an.WriterId) {
		sends := w.HandleAckNack(reader, an)
		outcome.Sends = append(outcome.Sends, sends...)
	}
}
