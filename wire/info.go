package wire

import (
	"encoding/binary"
	"time"

	"github.com/nautopia/rdds/guid"
)

const flagInvalidate byte = 0x02 // INFO_TS: timestamp field absent
const flagInfoReplyMulticast byte = 0x02

// InfoTS carries the source timestamp for subsequent submessages in
// the same message, or marks it invalid (absent).
type InfoTS struct {
	Valid     bool
	Timestamp time.Time
}

func (t InfoTS) Kind() SubmessageKind { return KindInfoTS }

func (t InfoTS) flags() byte {
	f := flagEndianness
	if !t.Valid {
		f |= flagInvalidate
	}
	return f
}

func (t InfoTS) encodeContent(order binary.ByteOrder) []byte {
	if !t.Valid {
		return nil
	}
	out := make([]byte, 8)
	sec := int32(t.Timestamp.Unix())
	frac := uint32((uint64(t.Timestamp.Nanosecond()) << 32) / 1e9)
	order.PutUint32(out[0:4], uint32(sec))
	order.PutUint32(out[4:8], frac)
	return out
}

func decodeInfoTS(content []byte, flags byte, order binary.ByteOrder) (InfoTS, error) {
	if flags&flagInvalidate != 0 {
		return InfoTS{Valid: false}, nil
	}
	if len(content) < 8 {
		return InfoTS{}, errShortBuffer("INFO_TS", 8, len(content))
	}
	sec := int32(order.Uint32(content[0:4]))
	frac := order.Uint32(content[4:8])
	nanos := int64((uint64(frac) * 1e9) >> 32)
	return InfoTS{Valid: true, Timestamp: time.Unix(int64(sec), nanos).UTC()}, nil
}

// InfoDst overrides the destination GuidPrefix for subsequent
// submessages (used for directed SEDP sends, spec.md §4.6).
type InfoDst struct {
	GuidPrefix guid.GuidPrefix
}

func (d InfoDst) Kind() SubmessageKind { return KindInfoDst }
func (d InfoDst) flags() byte          { return flagEndianness }

func (d InfoDst) encodeContent(binary.ByteOrder) []byte {
	return append([]byte(nil), d.GuidPrefix[:]...)
}

func decodeInfoDst(content []byte) (InfoDst, error) {
	if len(content) < guid.GuidPrefixLength {
		return InfoDst{}, errShortBuffer("INFO_DST", guid.GuidPrefixLength, len(content))
	}
	var d InfoDst
	copy(d.GuidPrefix[:], content[:guid.GuidPrefixLength])
	return d, nil
}

// InfoSrc overrides the source GuidPrefix (and reports the sender's
// protocol version/vendor) for subsequent submessages.
type InfoSrc struct {
	Version    ProtocolVersion
	VendorId   [2]byte
	GuidPrefix guid.GuidPrefix
}

func (s InfoSrc) Kind() SubmessageKind { return KindInfoSrc }
func (s InfoSrc) flags() byte          { return flagEndianness }

func (s InfoSrc) encodeContent(binary.ByteOrder) []byte {
	out := make([]byte, 4, 4+2+2+guid.GuidPrefixLength) // 4 reserved octets
	out = append(out, s.Version.Major, s.Version.Minor, s.VendorId[0], s.VendorId[1])
	out = append(out, s.GuidPrefix[:]...)
	return out
}

func decodeInfoSrc(content []byte) (InfoSrc, error) {
	const minLen = 4 + 2 + 2 + guid.GuidPrefixLength
	if len(content) < minLen {
		return InfoSrc{}, errShortBuffer("INFO_SRC", minLen, len(content))
	}
	var s InfoSrc
	s.Version = ProtocolVersion{Major: content[4], Minor: content[5]}
	s.VendorId = [2]byte{content[6], content[7]}
	copy(s.GuidPrefix[:], content[8:8+guid.GuidPrefixLength])
	return s, nil
}

// InfoReply carries the locators a receiver should use to reply to
// the sender out of band from its usual address.
type InfoReply struct {
	UnicastLocators   []Locator
	MulticastLocators []Locator
}

func (r InfoReply) Kind() SubmessageKind { return KindInfoReply }

func (r InfoReply) flags() byte {
	f := flagEndianness
	if len(r.MulticastLocators) > 0 {
		f |= flagInfoReplyMulticast
	}
	return f
}

func (r InfoReply) encodeContent(order binary.ByteOrder) []byte {
	out := encodeLocatorList(r.UnicastLocators, order)
	if len(r.MulticastLocators) > 0 {
		out = append(out, encodeLocatorList(r.MulticastLocators, order)...)
	}
	return out
}

func decodeInfoReply(content []byte, flags byte, order binary.ByteOrder) (InfoReply, error) {
	var r InfoReply
	ucast, rest, err := decodeLocatorList(content, order)
	if err != nil {
		return InfoReply{}, err
	}
	r.UnicastLocators = ucast
	if flags&flagInfoReplyMulticast != 0 {
		mcast, _, err := decodeLocatorList(rest, order)
		if err != nil {
			return InfoReply{}, err
		}
		r.MulticastLocators = mcast
	}
	return r, nil
}

func encodeLocatorList(locs []Locator, order binary.ByteOrder) []byte {
	out := make([]byte, 4)
	order.PutUint32(out, uint32(len(locs)))
	for _, l := range locs {
		out = append(out, encodeLocator(l, order)...)
	}
	return out
}

func decodeLocatorList(b []byte, order binary.ByteOrder) ([]Locator, []byte, error) {
	if len(b) < 4 {
		return nil, nil, errShortBuffer("locator list count", 4, len(b))
	}
	count := int(order.Uint32(b[0:4]))
	b = b[4:]
	if count > len(b)/LocatorLength {
		return nil, nil, errShortBuffer("locator list", count*LocatorLength, len(b))
	}
	out := make([]Locator, 0, count)
	for i := 0; i < count; i++ {
		l, err := decodeLocator(b, order)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, l)
		b = b[LocatorLength:]
	}
	return out, b, nil
}
