package discovery

import (
	"encoding/binary"
	"time"

	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/wire"
)

// ParticipantData is the SPDPbuiltinParticipantData record (spec.md
// §4.6): GUID, protocol version, vendor id, default/metatraffic
// locators, and lease duration. It is carried as a PL_CDR-encoded
// parameter list, the same encoding SEDP endpoint records use, so
// interoperating RTPS implementations can decode it (spec.md §4.1).
type ParticipantData struct {
	GuidPrefix      guid.GuidPrefix
	ProtocolVersion wire.ProtocolVersion
	VendorId        [2]byte

	DefaultUnicastLocators      []wire.Locator
	DefaultMulticastLocators    []wire.Locator
	MetatrafficUnicastLocators  []wire.Locator
	MetatrafficMulticastLocators []wire.Locator

	LeaseDuration time.Duration
}

func encodeDuration(d time.Duration) []byte {
	out := make([]byte, 8)
	sec := int32(d / time.Second)
	nsec := uint32(d % time.Second)
	binary.LittleEndian.PutUint32(out[0:4], uint32(sec))
	binary.LittleEndian.PutUint32(out[4:8], nsec)
	return out
}

func decodeDuration(b []byte) time.Duration {
	if len(b) < 8 {
		return 0
	}
	sec := int32(binary.LittleEndian.Uint32(b[0:4]))
	nsec := binary.LittleEndian.Uint32(b[4:8])
	return time.Duration(sec)*time.Second + time.Duration(nsec)
}

func encodeLocatorParam(id wire.ParameterId, locs []wire.Locator, out *wire.ParameterList) {
	for _, l := range locs {
		var b [wire.LocatorLength]byte
		binary.LittleEndian.PutUint32(b[0:4], uint32(l.Kind))
		binary.LittleEndian.PutUint32(b[4:8], l.Port)
		copy(b[8:24], l.Address[:])
		*out = append(*out, wire.Parameter{ID: id, Value: b[:]})
	}
}

func decodeLocatorParam(p wire.Parameter) wire.Locator {
	var l wire.Locator
	if len(p.Value) < wire.LocatorLength {
		return l
	}
	l.Kind = int32(binary.LittleEndian.Uint32(p.Value[0:4]))
	l.Port = binary.LittleEndian.Uint32(p.Value[4:8])
	copy(l.Address[:], p.Value[8:24])
	return l
}

// Encode renders the participant descriptor as a little-endian
// PL_CDR parameter list, matching the endianness the rest of this
// implementation always originates (wire.Message.Encode's own choice).
func (pd ParticipantData) Encode() wire.SerializedPayload {
	var pl wire.ParameterList
	pl = append(pl, wire.Parameter{ID: wire.PidParticipantGuid, Value: append([]byte(nil), guid.ParticipantGUID(pd.GuidPrefix).Bytes()[:]...)})
	pl = append(pl, wire.Parameter{ID: wire.PidProtocolVersion, Value: []byte{pd.ProtocolVersion.Major, pd.ProtocolVersion.Minor, 0, 0}})
	pl = append(pl, wire.Parameter{ID: wire.PidVendorId, Value: []byte{pd.VendorId[0], pd.VendorId[1], 0, 0}})
	encodeLocatorParam(wire.PidDefaultUnicastLocator, pd.DefaultUnicastLocators, &pl)
	encodeLocatorParam(wire.PidDefaultMulticastLocator, pd.DefaultMulticastLocators, &pl)
	encodeLocatorParam(wire.PidMetatrafficUnicastLocator, pd.MetatrafficUnicastLocators, &pl)
	encodeLocatorParam(wire.PidMetatrafficMulticastLocator, pd.MetatrafficMulticastLocators, &pl)
	pl = append(pl, wire.Parameter{ID: wire.PidParticipantLeaseDuration, Value: encodeDuration(pd.LeaseDuration)})

	return wire.SerializedPayload{
		RepresentationId: wire.ReprPLCDR_LE,
		Value:             pl.Encode(binary.LittleEndian),
	}
}

// DecodeParticipantData parses a received SPDP sample's payload.
func DecodeParticipantData(payload wire.SerializedPayload) (ParticipantData, error) {
	pl, err := wire.DecodeParameterList(payload.Value, binary.LittleEndian)
	if err != nil {
		return ParticipantData{}, err
	}
	var pd ParticipantData
	if p, ok := pl.Find(wire.PidParticipantGuid); ok && len(p.Value) >= guid.GUIDLength {
		var b [guid.GUIDLength]byte
		copy(b[:], p.Value[:guid.GUIDLength])
		pd.GuidPrefix = guid.FromBytes(b).Prefix
	}
	if p, ok := pl.Find(wire.PidProtocolVersion); ok && len(p.Value) >= 2 {
		pd.ProtocolVersion = wire.ProtocolVersion{Major: p.Value[0], Minor: p.Value[1]}
	}
	if p, ok := pl.Find(wire.PidVendorId); ok && len(p.Value) >= 2 {
		pd.VendorId = [2]byte{p.Value[0], p.Value[1]}
	}
	for _, p := range pl {
		switch p.ID {
		case wire.PidDefaultUnicastLocator:
			pd.DefaultUnicastLocators = append(pd.DefaultUnicastLocators, decodeLocatorParam(p))
		case wire.PidDefaultMulticastLocator:
			pd.DefaultMulticastLocators = append(pd.DefaultMulticastLocators, decodeLocatorParam(p))
		case wire.PidMetatrafficUnicastLocator:
			pd.MetatrafficUnicastLocators = append(pd.MetatrafficUnicastLocators, decodeLocatorParam(p))
		case wire.PidMetatrafficMulticastLocator:
			pd.MetatrafficMulticastLocators = append(pd.MetatrafficMulticastLocators, decodeLocatorParam(p))
		}
	}
	if p, ok := pl.Find(wire.PidParticipantLeaseDuration); ok {
		pd.LeaseDuration = decodeDuration(p.Value)
	}
	return pd, nil
}

// ToParticipantInfo converts a decoded descriptor into the form
// DiscoveryDB stores, stamping the lease expiration from now.
func (pd ParticipantData) ToParticipantInfo(now time.Time) ParticipantInfo {
	return ParticipantInfo{
		GuidPrefix:                   pd.GuidPrefix,
		ProtocolVersion:              [2]byte{pd.ProtocolVersion.Major, pd.ProtocolVersion.Minor},
		VendorId:                     pd.VendorId,
		MetatrafficUnicastLocators:   pd.MetatrafficUnicastLocators,
		MetatrafficMulticastLocators: pd.MetatrafficMulticastLocators,
		DefaultUnicastLocators:       pd.DefaultUnicastLocators,
		DefaultMulticastLocators:     pd.DefaultMulticastLocators,
		LeaseDuration:                pd.LeaseDuration,
		LeaseExpiration:              now.Add(pd.LeaseDuration),
	}
}
