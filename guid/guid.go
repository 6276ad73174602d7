// Package guid implements RTPS identifiers: GuidPrefix, EntityId, GUID
// and the small set of built-in EntityIds used by discovery.
package guid

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// VendorId is the 2-octet RTPS vendor identifier this implementation
// announces in the message header and in SPDP participant data.
var VendorId = [2]byte{0x01, 0xff}

// GuidPrefixLength and EntityIdLength are fixed by the RTPS wire spec.
const (
	GuidPrefixLength = 12
	EntityIdLength   = 4
	GUIDLength       = GuidPrefixLength + EntityIdLength
)

// GuidPrefix identifies a participant. It is constructed once per
// process and held immutable for the participant's lifetime.
type GuidPrefix [GuidPrefixLength]byte

func (p GuidPrefix) String() string {
	return fmt.Sprintf("%x", [GuidPrefixLength]byte(p))
}

// NewGuidPrefix builds a GuidPrefix from the vendor id, a hash of the
// local hostname, the process id, and a random tail, following the
// construction RustDDS uses (host+pid to disambiguate participants on
// one machine across restarts, random tail to disambiguate processes
// that race on the same pid).
func NewGuidPrefix() (GuidPrefix, error) {
	var p GuidPrefix
	p[0] = VendorId[0]
	p[1] = VendorId[1]

	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	hostSum := fnv32([]byte(host))
	binary.BigEndian.PutUint32(p[2:6], hostSum)

	binary.BigEndian.PutUint32(p[6:10], uint32(os.Getpid()))

	tail, err := uuid.NewRandom()
	if err != nil {
		return p, fmt.Errorf("guid: generating random tail: %w", err)
	}
	tailBytes, err := tail.MarshalBinary()
	if err != nil {
		return p, fmt.Errorf("guid: marshaling random tail: %w", err)
	}
	copy(p[10:12], tailBytes)
	return p, nil
}

func fnv32(data []byte) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for _, b := range data {
		h ^= uint32(b)
		h *= prime32
	}
	return h
}

// EntityId identifies an endpoint (or the participant itself) within
// a GuidPrefix: 3 octets of entity key plus 1 octet entity kind.
type EntityId [EntityIdLength]byte

func (e EntityId) String() string {
	return fmt.Sprintf("%x", [EntityIdLength]byte(e))
}

// Entity kind octet values (RTPS 2.3 table 9.1).
const (
	entityKindParticipant   byte = 0xc1
	entityKindWriterWithKey byte = 0xc2
	entityKindWriterNoKey   byte = 0xc3
	entityKindReaderNoKey   byte = 0xc4
	entityKindReaderWithKey byte = 0xc7
)

// ENTITYID_UNKNOWN is reserved: it never names a real endpoint.
var ENTITYID_UNKNOWN = EntityId{0x00, 0x00, 0x00, 0x00}

// Built-in EntityIds for SPDP and SEDP, fixed by the RTPS spec so that
// any two compliant implementations can address each other's
// discovery endpoints without prior negotiation. The participant
// descriptor and endpoint records carried by these built-in topics
// are keyed (by participant GUID / endpoint GUID respectively), so
// all six use the with-key entity kinds per RTPS 2.3 §8.5.3.2.
var (
	EntityIdSPDPBuiltinParticipantWriter = EntityId{0x00, 0x01, 0x00, entityKindWriterWithKey}
	EntityIdSPDPBuiltinParticipantReader = EntityId{0x00, 0x01, 0x00, entityKindReaderWithKey}

	EntityIdSEDPBuiltinPublicationsWriter  = EntityId{0x00, 0x00, 0x03, entityKindWriterWithKey}
	EntityIdSEDPBuiltinPublicationsReader  = EntityId{0x00, 0x00, 0x03, entityKindReaderWithKey}
	EntityIdSEDPBuiltinSubscriptionsWriter = EntityId{0x00, 0x00, 0x04, entityKindWriterWithKey}
	EntityIdSEDPBuiltinSubscriptionsReader = EntityId{0x00, 0x00, 0x04, entityKindReaderWithKey}
)

// NewUserEntityId builds an EntityId for a user topic endpoint out of
// a small monotonic counter (unique per participant) and whether it is
// a writer or reader, keyed or not.
func NewUserEntityId(counter uint32, isWriter bool, keyed bool) EntityId {
	var e EntityId
	e[0] = byte(counter >> 16)
	e[1] = byte(counter >> 8)
	e[2] = byte(counter)
	switch {
	case isWriter && keyed:
		e[3] = entityKindWriterWithKey
	case isWriter && !keyed:
		e[3] = entityKindWriterNoKey
	case !isWriter && keyed:
		e[3] = entityKindReaderWithKey
	default:
		e[3] = entityKindReaderNoKey
	}
	return e
}

// GUID is the full 16-octet endpoint identifier.
type GUID struct {
	Prefix GuidPrefix
	Entity EntityId
}

func New(prefix GuidPrefix, entity EntityId) GUID {
	return GUID{Prefix: prefix, Entity: entity}
}

func (g GUID) String() string {
	return g.Prefix.String() + ":" + g.Entity.String()
}

// ParticipantGUID is the GUID naming the participant itself (its
// EntityId is the reserved participant kind with a zero key).
func ParticipantGUID(prefix GuidPrefix) GUID {
	return GUID{Prefix: prefix, Entity: EntityId{0x00, 0x00, 0x01, entityKindParticipant}}
}

func (g GUID) Bytes() [GUIDLength]byte {
	var out [GUIDLength]byte
	copy(out[:GuidPrefixLength], g.Prefix[:])
	copy(out[GuidPrefixLength:], g.Entity[:])
	return out
}

func FromBytes(b [GUIDLength]byte) GUID {
	var g GUID
	copy(g.Prefix[:], b[:GuidPrefixLength])
	copy(g.Entity[:], b[GuidPrefixLength:])
	return g
}
