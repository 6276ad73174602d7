package wire

import (
	"encoding/binary"

	"github.com/nautopia/rdds/guid"
)

// Gap tells a reader that a range of sequence numbers will never be
// resent (spec.md §4.3): [GapStart, GapList.Base) plus whatever is
// individually listed in GapList are all irrevocably missing.
type Gap struct {
	ReaderId guid.EntityId
	WriterId guid.EntityId
	GapStart guid.SequenceNumber
	GapList  guid.SequenceNumberSet
}

func (g Gap) Kind() SubmessageKind { return KindGap }

func (g Gap) flags() byte { return flagEndianness }

func (g Gap) encodeContent(order binary.ByteOrder) []byte {
	out := make([]byte, 0, 32)
	out = append(out, encodeEntityId(g.ReaderId)...)
	out = append(out, encodeEntityId(g.WriterId)...)
	out = append(out, EncodeSequenceNumber(g.GapStart, order)...)
	out = append(out, EncodeSequenceNumberSet(g.GapList, order)...)
	return out
}

func decodeGap(content []byte, order binary.ByteOrder) (Gap, error) {
	const minLen = 4 + 4 + 8
	if len(content) < minLen {
		return Gap{}, errShortBuffer("GAP", minLen, len(content))
	}
	var g Gap
	var err error
	b := content
	if g.ReaderId, err = decodeEntityId(b); err != nil {
		return Gap{}, err
	}
	b = b[guid.EntityIdLength:]
	if g.WriterId, err = decodeEntityId(b); err != nil {
		return Gap{}, err
	}
	b = b[guid.EntityIdLength:]
	if g.GapStart, err = DecodeSequenceNumber(b, order); err != nil {
		return Gap{}, err
	}
	b = b[SeqNumWireLength:]
	set, _, err := DecodeSequenceNumberSet(b, order)
	if err != nil {
		return Gap{}, err
	}
	if set.Base < g.GapStart {
		return Gap{}, protocolViolation("GAP: gapList base %d below gapStart %d", set.Base, g.GapStart)
	}
	g.GapList = set
	return g, nil
}

// Missing returns every sequence number [GapStart, GapList.Base)
// union the individually listed members of GapList.
func (g Gap) Missing() []guid.SequenceNumber {
	out := make([]guid.SequenceNumber, 0, g.GapList.Base-g.GapStart)
	for sn := g.GapStart; sn < g.GapList.Base; sn++ {
		out = append(out, sn)
	}
	out = append(out, g.GapList.Members()...)
	return out
}
