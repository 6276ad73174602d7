package discovery

import (
	"encoding/binary"

	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/qos"
	"github.com/nautopia/rdds/wire"
)

// EndpointData is one SEDPbuiltinPublications/SEDPbuiltinSubscriptions
// record: identity, topic/type name, QoS, and locators (spec.md §4.6).
// A DataWriter- and a DataReader-side record share this shape; only
// the built-in topic they're published on distinguishes them.
type EndpointData struct {
	GUID      guid.GUID
	TopicName string
	TypeName  string
	Policies  qos.Policies

	UnicastLocators   []wire.Locator
	MulticastLocators []wire.Locator
}

func encodeReliability(p qos.ReliabilityPolicy) []byte {
	out := make([]byte, 4)
	if p.Kind == qos.Reliable {
		out[0] = 1
	}
	return out
}

func decodeReliability(b []byte) qos.ReliabilityPolicy {
	if len(b) >= 1 && b[0] == 1 {
		return qos.ReliabilityPolicy{Kind: qos.Reliable}
	}
	return qos.ReliabilityPolicy{Kind: qos.BestEffort}
}

func encodeDurability(p qos.DurabilityPolicy) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(p.Kind))
	return out
}

func decodeDurability(b []byte) qos.DurabilityPolicy {
	if len(b) < 4 {
		return qos.DurabilityPolicy{}
	}
	return qos.DurabilityPolicy{Kind: qos.DurabilityKind(binary.LittleEndian.Uint32(b))}
}

func encodeHistory(p qos.HistoryPolicy) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint32(out[0:4], uint32(p.Kind))
	binary.LittleEndian.PutUint32(out[4:8], uint32(p.Depth))
	return out
}

func decodeHistory(b []byte) qos.HistoryPolicy {
	if len(b) < 8 {
		return qos.HistoryPolicy{}
	}
	return qos.HistoryPolicy{
		Kind:  qos.HistoryKind(binary.LittleEndian.Uint32(b[0:4])),
		Depth: int(binary.LittleEndian.Uint32(b[4:8])),
	}
}

// Encode renders the endpoint descriptor as a little-endian PL_CDR
// parameter list (spec.md §4.1), the payload a SEDP DATA submessage
// carries.
func (ed EndpointData) Encode() wire.SerializedPayload {
	var pl wire.ParameterList
	pl = append(pl, wire.Parameter{ID: wire.PidEndpointGuid, Value: append([]byte(nil), ed.GUID.Bytes()[:]...)})
	pl = append(pl, wire.Parameter{ID: wire.PidTopicName, Value: []byte(ed.TopicName)})
	pl = append(pl, wire.Parameter{ID: wire.PidTypeName, Value: []byte(ed.TypeName)})
	pl = append(pl, wire.Parameter{ID: wire.PidReliability, Value: encodeReliability(ed.Policies.Reliability)})
	pl = append(pl, wire.Parameter{ID: wire.PidDurability, Value: encodeDurability(ed.Policies.Durability)})
	pl = append(pl, wire.Parameter{ID: wire.PidHistory, Value: encodeHistory(ed.Policies.History)})
	encodeLocatorParam(wire.PidDefaultUnicastLocator, ed.UnicastLocators, &pl)
	encodeLocatorParam(wire.PidDefaultMulticastLocator, ed.MulticastLocators, &pl)

	return wire.SerializedPayload{
		RepresentationId: wire.ReprPLCDR_LE,
		Value:             pl.Encode(binary.LittleEndian),
	}
}

// DecodeEndpointData parses a received SEDP sample's payload.
func DecodeEndpointData(payload wire.SerializedPayload) (EndpointData, error) {
	pl, err := wire.DecodeParameterList(payload.Value, binary.LittleEndian)
	if err != nil {
		return EndpointData{}, err
	}
	var ed EndpointData
	if p, ok := pl.Find(wire.PidEndpointGuid); ok && len(p.Value) >= guid.GUIDLength {
		var b [guid.GUIDLength]byte
		copy(b[:], p.Value[:guid.GUIDLength])
		ed.GUID = guid.FromBytes(b)
	}
	if p, ok := pl.Find(wire.PidTopicName); ok {
		ed.TopicName = string(trimPad(p.Value))
	}
	if p, ok := pl.Find(wire.PidTypeName); ok {
		ed.TypeName = string(trimPad(p.Value))
	}
	if p, ok := pl.Find(wire.PidReliability); ok {
		ed.Policies.Reliability = decodeReliability(p.Value)
	}
	if p, ok := pl.Find(wire.PidDurability); ok {
		ed.Policies.Durability = decodeDurability(p.Value)
	}
	if p, ok := pl.Find(wire.PidHistory); ok {
		ed.Policies.History = decodeHistory(p.Value)
	}
	for _, p := range pl {
		switch p.ID {
		case wire.PidDefaultUnicastLocator:
			ed.UnicastLocators = append(ed.UnicastLocators, decodeLocatorParam(p))
		case wire.PidDefaultMulticastLocator:
			ed.MulticastLocators = append(ed.MulticastLocators, decodeLocatorParam(p))
		}
	}
	return ed, nil
}

// trimPad strips the zero padding appendParameter adds to round a
// string value up to a 4-octet boundary.
func trimPad(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}

// ToEndpointInfo converts a decoded descriptor into the form
// DiscoveryDB stores.
func (ed EndpointData) ToEndpointInfo() EndpointInfo {
	return EndpointInfo{
		GUID:              ed.GUID,
		TopicName:         ed.TopicName,
		TypeName:          ed.TypeName,
		Policies:          ed.Policies,
		UnicastLocators:   ed.UnicastLocators,
		MulticastLocators: ed.MulticastLocators,
	}
}
