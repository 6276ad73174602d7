package wire

import (
	"encoding/binary"

	"github.com/nautopia/rdds/guid"
)

// AckNack carries a reader's negative acknowledgment of missing
// samples back to a writer (spec.md §4.3, §4.4).
type AckNack struct {
	ReaderId       guid.EntityId
	WriterId       guid.EntityId
	ReaderSNState  guid.SequenceNumberSet
	Count          int32

	Final bool
}

func (a AckNack) Kind() SubmessageKind { return KindAckNack }

func (a AckNack) flags() byte {
	f := flagEndianness
	if a.Final {
		f |= flagFinal
	}
	return f
}

func (a AckNack) encodeContent(order binary.ByteOrder) []byte {
	out := make([]byte, 0, 32)
	out = append(out, encodeEntityId(a.ReaderId)...)
	out = append(out, encodeEntityId(a.WriterId)...)
	out = append(out, EncodeSequenceNumberSet(a.ReaderSNState, order)...)
	count := make([]byte, 4)
	order.PutUint32(count, uint32(a.Count))
	out = append(out, count...)
	return out
}

func decodeAckNack(content []byte, flags byte, order binary.ByteOrder) (AckNack, error) {
	const minLen = 4 + 4 + 8 + 4
	if len(content) < minLen {
		return AckNack{}, errShortBuffer("ACKNACK", minLen, len(content))
	}
	var a AckNack
	var err error
	b := content
	if a.ReaderId, err = decodeEntityId(b); err != nil {
		return AckNack{}, err
	}
	b = b[guid.EntityIdLength:]
	if a.WriterId, err = decodeEntityId(b); err != nil {
		return AckNack{}, err
	}
	b = b[guid.EntityIdLength:]

	set, rest, err := DecodeSequenceNumberSet(b, order)
	if err != nil {
		return AckNack{}, err
	}
	a.ReaderSNState = set
	if len(rest) < 4 {
		return AckNack{}, errShortBuffer("ACKNACK count", 4, len(rest))
	}
	a.Count = int32(order.Uint32(rest[0:4]))
	a.Final = flags&flagFinal != 0
	return a, nil
}
