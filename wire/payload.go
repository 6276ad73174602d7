package wire

import "encoding/binary"

// Representation identifiers (RTPS 2.3 table 10.3). CDR_BE/CDR_LE
// carry application user data; PL_CDR_BE/PL_CDR_LE carry the
// parameter-list encoding used by discovery's built-in topics.
const (
	ReprCDR_BE   uint16 = 0x0000
	ReprCDR_LE   uint16 = 0x0001
	ReprPLCDR_BE uint16 = 0x0002
	ReprPLCDR_LE uint16 = 0x0003
)

// SerializedPayload is an opaque byte blob plus the representation
// identifier needed to later decode it; this implementation never
// looks inside the value bytes itself (spec.md §1: CDR serialization
// of application payloads is out of scope).
type SerializedPayload struct {
	RepresentationId      uint16
	RepresentationOptions [2]byte
	Value                 []byte
}

const payloadHeaderLength = 4

func (p SerializedPayload) Encode() []byte {
	out := make([]byte, payloadHeaderLength, payloadHeaderLength+len(p.Value))
	binary.BigEndian.PutUint16(out[0:2], p.RepresentationId)
	out[2], out[3] = p.RepresentationOptions[0], p.RepresentationOptions[1]
	out = append(out, p.Value...)
	return out
}

func DecodeSerializedPayload(b []byte) (SerializedPayload, error) {
	if len(b) < payloadHeaderLength {
		return SerializedPayload{}, errShortBuffer("serialized payload header", payloadHeaderLength, len(b))
	}
	p := SerializedPayload{
		RepresentationId:      binary.BigEndian.Uint16(b[0:2]),
		RepresentationOptions: [2]byte{b[2], b[3]},
	}
	p.Value = append([]byte(nil), b[payloadHeaderLength:]...)
	return p, nil
}
