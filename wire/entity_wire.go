package wire

import "github.com/nautopia/rdds/guid"

// EntityId's wire form is just its 4 raw octets regardless of
// endianness (it is not a multi-octet integer, per RTPS 2.3 §9.3.1.2).
func encodeEntityId(e guid.EntityId) []byte {
	return append([]byte(nil), e[:]...)
}

func decodeEntityId(b []byte) (guid.EntityId, error) {
	if len(b) < guid.EntityIdLength {
		return guid.EntityId{}, errShortBuffer("entity id", guid.EntityIdLength, len(b))
	}
	var e guid.EntityId
	copy(e[:], b[:guid.EntityIdLength])
	return e, nil
}
