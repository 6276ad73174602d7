// Package wire implements the RTPS 2.3 message codec: the fixed
// message header, the submessage stream (DATA, HEARTBEAT, ACKNACK,
// GAP, INFO_TS, INFO_DST, INFO_SRC, INFO_REPLY, PAD; DATA_FRAG,
// HEARTBEAT_FRAG and NACK_FRAG are recognized and passed through as
// Unknown without being decoded), and the
// inline-QoS parameter list encoding used by DATA and by the SPDP/SEDP
// built-in topics. Encoding/decoding here must be bit-exact (spec.md
// §4.1, §8.1) because peers may be other RTPS implementations.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/nautopia/rdds/guid"
)

// Magic is the fixed 4-octet prefix identifying an RTPS message.
var Magic = [4]byte{'R', 'T', 'P', 'S'}

// ProtocolVersion is {major, minor}; this implementation speaks 2.3.
type ProtocolVersion struct {
	Major byte
	Minor byte
}

var ProtocolVersion2_3 = ProtocolVersion{Major: 2, Minor: 3}

const HeaderLength = 20

// Header is the fixed 20-octet prefix of every RTPS message.
type Header struct {
	Version    ProtocolVersion
	VendorId   [2]byte
	GuidPrefix guid.GuidPrefix
}

func (h Header) Encode() []byte {
	out := make([]byte, 0, HeaderLength)
	out = append(out, Magic[:]...)
	out = append(out, h.Version.Major, h.Version.Minor)
	out = append(out, h.VendorId[0], h.VendorId[1])
	out = append(out, h.GuidPrefix[:]...)
	return out
}

func DecodeHeader(b []byte) (Header, []byte, error) {
	if len(b) < HeaderLength {
		return Header{}, nil, fmt.Errorf("wire: short datagram, need %d header bytes, got %d", HeaderLength, len(b))
	}
	if b[0] != Magic[0] || b[1] != Magic[1] || b[2] != Magic[2] || b[3] != Magic[3] {
		return Header{}, nil, fmt.Errorf("wire: bad magic %q", b[0:4])
	}
	var h Header
	h.Version = ProtocolVersion{Major: b[4], Minor: b[5]}
	h.VendorId = [2]byte{b[6], b[7]}
	copy(h.GuidPrefix[:], b[8:20])
	return h, b[HeaderLength:], nil
}

// byteOrderForFlags returns the byte order the rest of a submessage
// (after its 4-octet submessage header) is encoded in: the low bit of
// flags selects little-endian when set, big-endian otherwise.
func byteOrderForFlags(flags byte) binary.ByteOrder {
	if flags&flagEndianness != 0 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// ByteOrderForFlags is byteOrderForFlags exported for callers outside
// this package (receiver.MessageReceiver) that need to interpret a
// decoded submessage's inline content with the same byte order it was
// parsed with, instead of assuming one.
func ByteOrderForFlags(flags byte) binary.ByteOrder {
	return byteOrderForFlags(flags)
}
