package wire

// SubmessageKind identifies the submessage type in its 1-octet kind field.
type SubmessageKind byte

// RTPS 2.3 submessage kinds (table 8.13). Kinds with the high bit of
// the kind byte set are vendor/future extensions: an unrecognized one
// must be skipped using ContentLength rather than aborting (spec.md §4.1).
const (
	KindPad        SubmessageKind = 0x01
	KindAckNack    SubmessageKind = 0x06
	KindHeartbeat  SubmessageKind = 0x07
	KindGap        SubmessageKind = 0x08
	KindInfoTS     SubmessageKind = 0x09
	KindInfoSrc    SubmessageKind = 0x0c
	KindInfoReply  SubmessageKind = 0x0f
	KindInfoDst    SubmessageKind = 0x0e
	KindNackFrag   SubmessageKind = 0x12
	KindHBFrag     SubmessageKind = 0x13
	KindData       SubmessageKind = 0x15
	KindDataFrag   SubmessageKind = 0x16
)

// isSkippable reports whether an unrecognized kind byte may be
// skipped (high bit set) rather than aborting the datagram.
func (k SubmessageKind) isSkippable() bool {
	return k&0x80 != 0
}

func (k SubmessageKind) known() bool {
	switch k {
	case KindPad, KindAckNack, KindHeartbeat, KindGap, KindInfoTS, KindInfoSrc,
		KindInfoReply, KindInfoDst, KindNackFrag, KindHBFrag, KindData, KindDataFrag:
		return true
	default:
		return false
	}
}

// Submessage flag bits. Bit 0 (endianness) is common to every kind;
// the rest are kind-specific and interpreted by each decoder.
const (
	flagEndianness byte = 0x01

	// DATA flags
	flagDataInlineQoS byte = 0x02
	flagDataHasData   byte = 0x04
	flagDataHasKey    byte = 0x08

	// HEARTBEAT / ACKNACK flags
	flagFinal byte = 0x02
	// HEARTBEAT-only
	flagLiveliness byte = 0x04

	// GAP has no extra flags beyond endianness.
)

const submessageHeaderLength = 4

type submessageHeader struct {
	Kind          SubmessageKind
	Flags         byte
	ContentLength uint16
}

func encodeSubmessageHeader(kind SubmessageKind, flags byte, contentLen int) []byte {
	out := make([]byte, submessageHeaderLength)
	out[0] = byte(kind)
	out[1] = flags
	order := byteOrderForFlags(flags)
	order.PutUint16(out[2:4], uint16(contentLen))
	return out
}
