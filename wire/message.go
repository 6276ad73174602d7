package wire

import "encoding/binary"

// Pad is the no-op submessage kind, occasionally used for alignment.
type Pad struct {
	Content []byte
}

func (p Pad) Kind() SubmessageKind { return KindPad }
func (p Pad) flags() byte          { return flagEndianness }
func (p Pad) encodeContent(binary.ByteOrder) []byte {
	return p.Content
}

// Unknown is a submessage this codec does not decode: either a kind it
// does not recognize whose high bit is set (spec.md §4.1: skippable,
// kept here so the caller can still see it went by), or one of the
// recognized but undecoded DATA_FRAG, HEARTBEAT_FRAG and NACK_FRAG.
// Any other unrecognized kind aborts the datagram before Unknown is
// ever produced.
type Unknown struct {
	RawKind SubmessageKind
	Flags   byte
	Content []byte
}

func (u Unknown) Kind() SubmessageKind { return u.RawKind }

// Submessage is any decoded submessage body. Concrete types: Data,
// Heartbeat, AckNack, Gap, InfoTS, InfoDst, InfoSrc, InfoReply, Pad, Unknown.
type Submessage interface {
	Kind() SubmessageKind
}

// encodable is implemented by every submessage this codec can emit
// (everything except Unknown, which only ever arrives via decode).
type encodable interface {
	Submessage
	flags() byte
	encodeContent(order binary.ByteOrder) []byte
}

// Message is a parsed or to-be-sent RTPS message: the fixed header
// plus an ordered sequence of submessages.
type Message struct {
	Header      Header
	Submessages []Submessage
}

// Encode serializes the message to bytes, always choosing
// little-endian for submessages this implementation originates.
func (m Message) Encode() []byte {
	out := make([]byte, 0, HeaderLength+64*len(m.Submessages))
	out = append(out, m.Header.Encode()...)
	for _, sm := range m.Submessages {
		enc, ok := sm.(encodable)
		if !ok {
			continue // Unknown submessages are never re-emitted
		}
		flags := enc.flags()
		order := byteOrderForFlags(flags)
		content := enc.encodeContent(order)
		out = append(out, encodeSubmessageHeader(enc.Kind(), flags, len(content))...)
		out = append(out, content...)
	}
	return out
}

// ParseMessage decodes a full datagram into a Message. A malformed
// submessage aborts the whole datagram (spec.md §7); an unrecognized
// kind with its high bit set is skipped using ContentLength rather
// than aborting (spec.md §4.1).
func ParseMessage(b []byte) (Message, error) {
	header, rest, err := DecodeHeader(b)
	if err != nil {
		return Message{}, err
	}
	msg := Message{Header: header}

	for len(rest) > 0 {
		if len(rest) < submessageHeaderLength {
			return Message{}, errShortBuffer("submessage header", submessageHeaderLength, len(rest))
		}
		kind := SubmessageKind(rest[0])
		flags := rest[1]
		order := byteOrderForFlags(flags)
		contentLength := int(order.Uint16(rest[2:4]))
		rest = rest[submessageHeaderLength:]

		if contentLength > len(rest) {
			return Message{}, errShortBuffer("submessage content", contentLength, len(rest))
		}
		content := rest[:contentLength]
		rest = rest[contentLength:]

		if !kind.known() {
			if !kind.isSkippable() {
				return Message{}, protocolViolation("unknown non-skippable submessage kind 0x%02x", byte(kind))
			}
			msg.Submessages = append(msg.Submessages, Unknown{RawKind: kind, Flags: flags, Content: append([]byte(nil), content...)})
			continue
		}

		sm, err := decodeKnownSubmessage(kind, flags, content, order)
		if err != nil {
			return Message{}, err
		}
		msg.Submessages = append(msg.Submessages, sm)
	}
	return msg, nil
}

func decodeKnownSubmessage(kind SubmessageKind, flags byte, content []byte, order binary.ByteOrder) (Submessage, error) {
	switch kind {
	case KindPad:
		return Pad{Content: append([]byte(nil), content...)}, nil
	case KindData:
		return decodeData(content, flags, order)
	case KindHeartbeat:
		return decodeHeartbeat(content, flags, order)
	case KindAckNack:
		return decodeAckNack(content, flags, order)
	case KindGap:
		return decodeGap(content, order)
	case KindInfoTS:
		return decodeInfoTS(content, flags, order)
	case KindInfoDst:
		return decodeInfoDst(content)
	case KindInfoSrc:
		return decodeInfoSrc(content)
	case KindInfoReply:
		return decodeInfoReply(content, flags, order)
	case KindDataFrag, KindHBFrag, KindNackFrag:
		// Recognized but unsupported: treated as skippable, not as a
		// protocol violation, since we know exactly how long they are.
		return Unknown{RawKind: kind, Flags: flags, Content: append([]byte(nil), content...)}, nil
	default:
		return nil, protocolViolation("no decoder for known kind 0x%02x", byte(kind))
	}
}
