package wire

import (
	"encoding/binary"

	"github.com/nautopia/rdds/guid"
)

// Heartbeat announces a writer's available sequence-number range to a
// reader (spec.md §4.4).
type Heartbeat struct {
	ReaderId guid.EntityId
	WriterId guid.EntityId
	FirstSN  guid.SequenceNumber
	LastSN   guid.SequenceNumber
	Count    int32

	Final       bool
	Liveliness  bool
}

func (h Heartbeat) Kind() SubmessageKind { return KindHeartbeat }

func (h Heartbeat) flags() byte {
	f := flagEndianness
	if h.Final {
		f |= flagFinal
	}
	if h.Liveliness {
		f |= flagLiveliness
	}
	return f
}

func (h Heartbeat) encodeContent(order binary.ByteOrder) []byte {
	out := make([]byte, 0, 8+8+8+4)
	out = append(out, encodeEntityId(h.ReaderId)...)
	out = append(out, encodeEntityId(h.WriterId)...)
	out = append(out, EncodeSequenceNumber(h.FirstSN, order)...)
	out = append(out, EncodeSequenceNumber(h.LastSN, order)...)
	count := make([]byte, 4)
	order.PutUint32(count, uint32(h.Count))
	out = append(out, count...)
	return out
}

func decodeHeartbeat(content []byte, flags byte, order binary.ByteOrder) (Heartbeat, error) {
	const minLen = 4 + 4 + 8 + 8 + 4
	if len(content) < minLen {
		return Heartbeat{}, errShortBuffer("HEARTBEAT", minLen, len(content))
	}
	var h Heartbeat
	var err error
	b := content
	if h.ReaderId, err = decodeEntityId(b); err != nil {
		return Heartbeat{}, err
	}
	b = b[guid.EntityIdLength:]
	if h.WriterId, err = decodeEntityId(b); err != nil {
		return Heartbeat{}, err
	}
	b = b[guid.EntityIdLength:]
	if h.FirstSN, err = DecodeSequenceNumber(b, order); err != nil {
		return Heartbeat{}, err
	}
	b = b[SeqNumWireLength:]
	if h.LastSN, err = DecodeSequenceNumber(b, order); err != nil {
		return Heartbeat{}, err
	}
	b = b[SeqNumWireLength:]
	h.Count = int32(order.Uint32(b[0:4]))

	h.Final = flags&flagFinal != 0
	h.Liveliness = flags&flagLiveliness != 0
	return h, nil
}
