package wire

import (
	"encoding/binary"

	"github.com/nautopia/rdds/guid"
)

// dataHeaderOctets is the constant distance from the end of
// octetsToInlineQos to the start of inline QoS / payload: readerId(4)
// + writerId(4) + writerSN(8).
const dataHeaderOctets = 16

// Data is the DATA submessage: one sample (or a key-only dispose /
// unregister notification) addressed to a reader, or to every reader
// on the topic if ReaderId is ENTITYID_UNKNOWN (spec.md §4.7).
type Data struct {
	ReaderId  guid.EntityId
	WriterId  guid.EntityId
	WriterSN  guid.SequenceNumber
	InlineQos ParameterList // valid only if HasInlineQos
	Payload   *SerializedPayload

	HasInlineQos bool

	// Flags is the raw submessage flags byte this DATA was decoded
	// with (zero for a Data built to send). Callers that need to
	// interpret inline-QoS content with this submessage's own byte
	// order — rather than assuming one — derive it via
	// wire.ByteOrderForFlags(d.Flags).
	Flags byte
}

func (d Data) Kind() SubmessageKind { return KindData }

func (d Data) flags() byte {
	var f byte = flagEndianness
	if d.HasInlineQos {
		f |= flagDataInlineQoS
	}
	if d.Payload != nil {
		f |= flagDataHasData
	}
	return f
}

func (d Data) encodeContent(order binary.ByteOrder) []byte {
	out := make([]byte, 4) // extraFlags(2, reserved) + octetsToInlineQos(2)
	order.PutUint16(out[2:4], uint16(dataHeaderOctets))
	out = append(out, encodeEntityId(d.ReaderId)...)
	out = append(out, encodeEntityId(d.WriterId)...)
	out = append(out, EncodeSequenceNumber(d.WriterSN, order)...)
	if d.HasInlineQos {
		out = append(out, d.InlineQos.Encode(order)...)
	}
	if d.Payload != nil {
		out = append(out, d.Payload.Encode()...)
	}
	return out
}

func decodeData(content []byte, flags byte, order binary.ByteOrder) (Data, error) {
	if len(content) < 4+dataHeaderOctets {
		return Data{}, errShortBuffer("DATA", 4+dataHeaderOctets, len(content))
	}
	var d Data
	d.Flags = flags
	b := content[4:] // skip extraFlags + octetsToInlineQos; we don't support header extension

	var err error
	if d.ReaderId, err = decodeEntityId(b); err != nil {
		return Data{}, err
	}
	b = b[guid.EntityIdLength:]
	if d.WriterId, err = decodeEntityId(b); err != nil {
		return Data{}, err
	}
	b = b[guid.EntityIdLength:]
	if d.WriterSN, err = DecodeSequenceNumber(b, order); err != nil {
		return Data{}, err
	}
	b = b[SeqNumWireLength:]

	if flags&flagDataInlineQoS != 0 {
		d.HasInlineQos = true
		pl, err := DecodeParameterList(b, order)
		if err != nil {
			return Data{}, err
		}
		d.InlineQos = pl
		// Advance past the encoded parameter list (including sentinel)
		// to find where payload begins.
		consumed := len(pl.Encode(order))
		if consumed > len(b) {
			consumed = len(b)
		}
		b = b[consumed:]
	}

	if flags&(flagDataHasData|flagDataHasKey) != 0 {
		if len(b) > 0 {
			p, err := DecodeSerializedPayload(b)
			if err != nil {
				return Data{}, err
			}
			d.Payload = &p
		}
	}

	return d, nil
}
