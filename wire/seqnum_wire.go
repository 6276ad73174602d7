package wire

import (
	"encoding/binary"

	"github.com/nautopia/rdds/guid"
)

// SequenceNumber_t wire encoding is a high/low 32-bit pair (RTPS 2.3 §9.4.2.5).
const SeqNumWireLength = 8

func EncodeSequenceNumber(sn guid.SequenceNumber, order binary.ByteOrder) []byte {
	out := make([]byte, SeqNumWireLength)
	hi := int32(sn >> 32)
	lo := uint32(sn & 0xffffffff)
	order.PutUint32(out[0:4], uint32(hi))
	order.PutUint32(out[4:8], lo)
	return out
}

func DecodeSequenceNumber(b []byte, order binary.ByteOrder) (guid.SequenceNumber, error) {
	if len(b) < SeqNumWireLength {
		return 0, errShortBuffer("sequence number", SeqNumWireLength, len(b))
	}
	hi := int32(order.Uint32(b[0:4]))
	lo := order.Uint32(b[4:8])
	return guid.SequenceNumber(int64(hi)<<32 | int64(lo)), nil
}

// SequenceNumberSet wire form: base (8) + numBits (4) + ceil(numBits/32) bitmap words (4 each).
func EncodeSequenceNumberSet(set guid.SequenceNumberSet, order binary.ByteOrder) []byte {
	words := (set.NumBits + 31) / 32
	out := make([]byte, 0, 8+4+4*int(words))
	out = append(out, EncodeSequenceNumber(set.Base, order)...)
	numBits := make([]byte, 4)
	order.PutUint32(numBits, set.NumBits)
	out = append(out, numBits...)

	bitmapWords := make([]uint32, words)
	for _, sn := range set.Members() {
		idx := uint32(sn - set.Base)
		bitmapWords[idx/32] |= 1 << (31 - idx%32)
	}
	for _, w := range bitmapWords {
		word := make([]byte, 4)
		order.PutUint32(word, w)
		out = append(out, word...)
	}
	return out
}

func DecodeSequenceNumberSet(b []byte, order binary.ByteOrder) (guid.SequenceNumberSet, []byte, error) {
	base, err := DecodeSequenceNumber(b, order)
	if err != nil {
		return guid.SequenceNumberSet{}, nil, err
	}
	b = b[SeqNumWireLength:]
	if len(b) < 4 {
		return guid.SequenceNumberSet{}, nil, errShortBuffer("sequence number set numBits", 4, len(b))
	}
	numBits := order.Uint32(b[0:4])
	b = b[4:]
	words := int((numBits + 31) / 32)
	if len(b) < words*4 {
		return guid.SequenceNumberSet{}, nil, errShortBuffer("sequence number set bitmap", words*4, len(b))
	}
	set := guid.NewSequenceNumberSet(base, numBits)
	for i := 0; i < words; i++ {
		w := order.Uint32(b[i*4 : i*4+4])
		for bit := uint32(0); bit < 32; bit++ {
			idx := uint32(i)*32 + bit
			if idx >= numBits {
				break
			}
			if w&(1<<(31-bit)) != 0 {
				set.Set(base + guid.SequenceNumber(idx))
			}
		}
	}
	return set, b[words*4:], nil
}
