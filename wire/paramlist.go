package wire

import "encoding/binary"

// ParameterId identifies one entry of an inline-QoS / built-in-topic
// parameter list (RTPS 2.3 table 9.12, plus a small vendor-specific
// range used internally for QoS we carry over SEDP).
type ParameterId uint16

const (
	PidPad      ParameterId = 0x0000
	PidSentinel ParameterId = 0x0001

	PidParticipantLeaseDuration ParameterId = 0x0002
	PidTopicName                ParameterId = 0x0005
	PidTypeName                 ParameterId = 0x0007
	PidProtocolVersion          ParameterId = 0x0015
	PidVendorId                 ParameterId = 0x0016
	PidReliability               ParameterId = 0x001a
	PidDurability                ParameterId = 0x001d
	PidDefaultUnicastLocator     ParameterId = 0x0031
	PidMetatrafficUnicastLocator ParameterId = 0x0032
	PidMetatrafficMulticastLocator ParameterId = 0x0033
	PidDefaultMulticastLocator   ParameterId = 0x0048
	PidParticipantGuid           ParameterId = 0x0050
	PidEndpointGuid              ParameterId = 0x005a
	PidKeyHash                  ParameterId = 0x0070
	PidStatusInfo                ParameterId = 0x0071

	// Vendor-specific range (high bit set: unrecognized-but-ignorable,
	// matching the skip rule used for unknown submessage kinds).
	PidHistory ParameterId = 0x8001
)

// Parameter is one PID/length/value triple.
type Parameter struct {
	ID    ParameterId
	Value []byte
}

// ParameterList is a sequence of Parameters terminated on the wire by
// PID_SENTINEL. Every value is padded to a 4-octet boundary, matching
// CDR alignment rules, so re-encoding an identical list reproduces the
// same bytes.
type ParameterList []Parameter

func pad4(n int) int {
	if r := n % 4; r != 0 {
		return n + (4 - r)
	}
	return n
}

func (pl ParameterList) Encode(order binary.ByteOrder) []byte {
	out := make([]byte, 0, 64)
	for _, p := range pl {
		out = appendParameter(out, p, order)
	}
	// Sentinel carries zero length.
	out = appendParameter(out, Parameter{ID: PidSentinel}, order)
	return out
}

func appendParameter(out []byte, p Parameter, order binary.ByteOrder) []byte {
	length := pad4(len(p.Value))
	head := make([]byte, 4)
	order.PutUint16(head[0:2], uint16(p.ID))
	order.PutUint16(head[2:4], uint16(length))
	out = append(out, head...)
	out = append(out, p.Value...)
	for i := len(p.Value); i < length; i++ {
		out = append(out, 0)
	}
	return out
}

// DecodeParameterList reads parameters until PID_SENTINEL or the
// buffer is exhausted. Unrecognized PIDs are kept verbatim (the caller
// decides whether to interpret or ignore them) rather than dropped,
// so callers that need a specific PID can still find it.
func DecodeParameterList(b []byte, order binary.ByteOrder) (ParameterList, error) {
	var pl ParameterList
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, errShortBuffer("parameter header", 4, len(b))
		}
		id := ParameterId(order.Uint16(b[0:2]))
		length := int(order.Uint16(b[2:4]))
		b = b[4:]
		if id == PidSentinel {
			return pl, nil
		}
		if length > len(b) {
			return nil, errShortBuffer("parameter value", length, len(b))
		}
		value := append([]byte(nil), b[:length]...)
		pl = append(pl, Parameter{ID: id, Value: value})
		b = b[length:]
	}
	return pl, nil
}

func (pl ParameterList) Find(id ParameterId) (Parameter, bool) {
	for _, p := range pl {
		if p.ID == id {
			return p, true
		}
	}
	return Parameter{}, false
}

// KeyHash is the 16-octet instance-key digest carried by PID_KEY_HASH.
type KeyHash [16]byte

func (pl ParameterList) KeyHash() (KeyHash, bool) {
	p, ok := pl.Find(PidKeyHash)
	if !ok || len(p.Value) < 16 {
		return KeyHash{}, false
	}
	var kh KeyHash
	copy(kh[:], p.Value[:16])
	return kh, true
}

// StatusInfo is the 4-octet PID_STATUS_INFO value; only the low 3
// bits of the last octet are defined.
type StatusInfo uint32

const (
	StatusInfoDisposed     StatusInfo = 0x1
	StatusInfoUnregistered StatusInfo = 0x2
	StatusInfoFiltered     StatusInfo = 0x4
)

// ChangeKind mirrors cache.ChangeKind's three values without importing
// the cache package (wire sits below cache in the dependency order).
type ChangeKind int

const (
	ChangeKindAlive ChangeKind = iota
	ChangeKindNotAliveDisposed
	ChangeKindNotAliveUnregistered
)

// Kind resolves a CacheChange's disposition from StatusInfo: Disposed
// beats Unregistered beats Alive (spec.md §4.1, §9 supplemented feature 2).
func (s StatusInfo) Kind() ChangeKind {
	switch {
	case s&StatusInfoDisposed != 0:
		return ChangeKindNotAliveDisposed
	case s&StatusInfoUnregistered != 0:
		return ChangeKindNotAliveUnregistered
	default:
		return ChangeKindAlive
	}
}

// StatusInfo reads PID_STATUS_INFO's flags. StatusInfo_t is defined on
// the wire as a fixed 4-octet array, not a byte-order-dependent
// integer (original_source/src/structure/inline_qos.rs): the flag
// bits always live in the last octet, transmitted unswapped regardless
// of the enclosing submessage's endianness. Reading it as a
// byte-order-dependent uint32 would misclassify Disposed/Unregistered
// samples from any peer using the other byte order as Alive.
func (pl ParameterList) StatusInfo() (StatusInfo, bool) {
	p, ok := pl.Find(PidStatusInfo)
	if !ok || len(p.Value) < 4 {
		return 0, false
	}
	return StatusInfo(p.Value[3]), true
}

// EncodeStatusInfo writes s into the fixed last octet of the 4-octet
// PID_STATUS_INFO value, matching the order-independent layout
// StatusInfo reads back.
func EncodeStatusInfo(s StatusInfo) []byte {
	b := make([]byte, 4)
	b[3] = byte(s)
	return b
}
