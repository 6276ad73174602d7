package wire

import (
	"testing"
	"time"

	"github.com/nautopia/rdds/guid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() Header {
	var prefix guid.GuidPrefix
	copy(prefix[:], []byte("abcdefghijkl"))
	return Header{Version: ProtocolVersion2_3, VendorId: guid.VendorId, GuidPrefix: prefix}
}

// Testable property #1: decode(encode(msg)) == msg for every submessage kind we emit.
func TestRoundTripHeartbeat(t *testing.T) {
	hb := Heartbeat{
		ReaderId: guid.ENTITYID_UNKNOWN,
		WriterId: guid.EntityIdSEDPBuiltinPublicationsWriter,
		FirstSN:  1,
		LastSN:   42,
		Count:    7,
		Final:    true,
	}
	msg := Message{Header: testHeader(), Submessages: []Submessage{hb}}
	encoded := msg.Encode()

	decoded, err := ParseMessage(encoded)
	require.NoError(t, err)
	require.Len(t, decoded.Submessages, 1)
	assert.Equal(t, hb, decoded.Submessages[0])
	assert.Equal(t, msg.Header, decoded.Header)
}

func TestRoundTripAckNack(t *testing.T) {
	set := guid.NewSequenceNumberSet(5, 10)
	set.Set(5)
	set.Set(9)
	an := AckNack{
		ReaderId:      guid.EntityIdSEDPBuiltinPublicationsReader,
		WriterId:      guid.EntityIdSEDPBuiltinPublicationsWriter,
		ReaderSNState: set,
		Count:         3,
	}
	msg := Message{Header: testHeader(), Submessages: []Submessage{an}}
	decoded, err := ParseMessage(msg.Encode())
	require.NoError(t, err)
	require.Len(t, decoded.Submessages, 1)
	assert.Equal(t, an, decoded.Submessages[0])
}

func TestRoundTripGap(t *testing.T) {
	set := guid.NewSequenceNumberSet(20, 4)
	set.Set(21)
	g := Gap{
		ReaderId: guid.ENTITYID_UNKNOWN,
		WriterId: guid.EntityIdSPDPBuiltinParticipantWriter,
		GapStart: 15,
		GapList:  set,
	}
	msg := Message{Header: testHeader(), Submessages: []Submessage{g}}
	decoded, err := ParseMessage(msg.Encode())
	require.NoError(t, err)
	assert.Equal(t, g, decoded.Submessages[0])

	missing := g.Missing()
	assert.Contains(t, missing, guid.SequenceNumber(15))
	assert.Contains(t, missing, guid.SequenceNumber(19))
	assert.Contains(t, missing, guid.SequenceNumber(21))
}

func TestRoundTripDataWithPayloadAndInlineQos(t *testing.T) {
	pl := ParameterList{
		{ID: PidStatusInfo, Value: EncodeStatusInfo(StatusInfoDisposed)},
	}
	payload := SerializedPayload{RepresentationId: ReprCDR_LE, Value: []byte("hello")}
	d := Data{
		ReaderId:     guid.ENTITYID_UNKNOWN,
		WriterId:     guid.NewUserEntityId(1, true, true),
		WriterSN:     99,
		HasInlineQos: true,
		InlineQos:    pl,
		Payload:      &payload,
	}
	msg := Message{Header: testHeader(), Submessages: []Submessage{d}}
	decoded, err := ParseMessage(msg.Encode())
	require.NoError(t, err)
	require.Len(t, decoded.Submessages, 1)
	got := decoded.Submessages[0].(Data)
	assert.Equal(t, d.WriterSN, got.WriterSN)
	assert.Equal(t, d.Payload.Value, got.Payload.Value)
	si, ok := got.InlineQos.StatusInfo()
	require.True(t, ok)
	assert.Equal(t, ChangeKindNotAliveDisposed, si.Kind())
}

func TestRoundTripDataNoPayloadKeyOnly(t *testing.T) {
	var kh [16]byte
	copy(kh[:], []byte("0123456789abcdef"))
	pl := ParameterList{{ID: PidKeyHash, Value: kh[:]}}
	d := Data{
		ReaderId:     guid.ENTITYID_UNKNOWN,
		WriterId:     guid.NewUserEntityId(2, true, true),
		WriterSN:     5,
		HasInlineQos: true,
		InlineQos:    pl,
		Payload:      nil,
	}
	msg := Message{Header: testHeader(), Submessages: []Submessage{d}}
	decoded, err := ParseMessage(msg.Encode())
	require.NoError(t, err)
	got := decoded.Submessages[0].(Data)
	assert.Nil(t, got.Payload)
	gotHash, ok := got.InlineQos.KeyHash()
	require.True(t, ok)
	assert.Equal(t, KeyHash(kh), gotHash)
}

func TestRoundTripInfoTSValid(t *testing.T) {
	ts := InfoTS{Valid: true, Timestamp: time.Date(2026, 7, 31, 12, 0, 0, 500_000_000, time.UTC)}
	msg := Message{Header: testHeader(), Submessages: []Submessage{ts}}
	decoded, err := ParseMessage(msg.Encode())
	require.NoError(t, err)
	got := decoded.Submessages[0].(InfoTS)
	assert.True(t, got.Valid)
	assert.WithinDuration(t, ts.Timestamp, got.Timestamp, time.Millisecond)
}

func TestRoundTripInfoTSInvalid(t *testing.T) {
	ts := InfoTS{Valid: false}
	msg := Message{Header: testHeader(), Submessages: []Submessage{ts}}
	decoded, err := ParseMessage(msg.Encode())
	require.NoError(t, err)
	got := decoded.Submessages[0].(InfoTS)
	assert.False(t, got.Valid)
}

func TestRoundTripInfoDstAndSrc(t *testing.T) {
	var prefix guid.GuidPrefix
	copy(prefix[:], []byte("123456789012"))
	dst := InfoDst{GuidPrefix: prefix}
	src := InfoSrc{Version: ProtocolVersion2_3, VendorId: guid.VendorId, GuidPrefix: prefix}

	msg := Message{Header: testHeader(), Submessages: []Submessage{dst, src}}
	decoded, err := ParseMessage(msg.Encode())
	require.NoError(t, err)
	require.Len(t, decoded.Submessages, 2)
	assert.Equal(t, dst, decoded.Submessages[0])
	assert.Equal(t, src, decoded.Submessages[1])
}

func TestRoundTripInfoReply(t *testing.T) {
	r := InfoReply{
		UnicastLocators:   []Locator{{Kind: LocatorKindUDPv4, Port: 7400, Address: [16]byte{15: 1}}},
		MulticastLocators: []Locator{{Kind: LocatorKindUDPv4, Port: 7401, Address: [16]byte{15: 2}}},
	}
	msg := Message{Header: testHeader(), Submessages: []Submessage{r}}
	decoded, err := ParseMessage(msg.Encode())
	require.NoError(t, err)
	got := decoded.Submessages[0].(InfoReply)
	assert.Equal(t, r.UnicastLocators, got.UnicastLocators)
	assert.Equal(t, r.MulticastLocators, got.MulticastLocators)
}

func TestSkipUnknownSkippableSubmessage(t *testing.T) {
	hb := Heartbeat{ReaderId: guid.ENTITYID_UNKNOWN, WriterId: guid.ENTITYID_UNKNOWN, FirstSN: 1, LastSN: 1, Count: 1, Final: true}
	msg := Message{Header: testHeader(), Submessages: []Submessage{hb}}
	encoded := msg.Encode()

	// Splice in a vendor-specific (high-bit-set) unknown submessage
	// before the heartbeat: 4-byte header + 4 bytes of content.
	unknown := []byte{0xf0, flagEndianness, 0x04, 0x00, 1, 2, 3, 4}
	spliced := append(append([]byte{}, encoded[:HeaderLength]...), unknown...)
	spliced = append(spliced, encoded[HeaderLength:]...)

	decoded, err := ParseMessage(spliced)
	require.NoError(t, err)
	require.Len(t, decoded.Submessages, 2)
	unk, ok := decoded.Submessages[0].(Unknown)
	require.True(t, ok)
	assert.Equal(t, SubmessageKind(0xf0), unk.RawKind)
	assert.Equal(t, hb, decoded.Submessages[1])
}

func TestAbortOnUnknownNonSkippableSubmessage(t *testing.T) {
	bad := []byte{0x70, flagEndianness, 0x00, 0x00} // high bit clear, zero content
	datagram := append(testHeader().Encode(), bad...)

	_, err := ParseMessage(datagram)
	require.Error(t, err)
	var viol *ErrProtocolViolation
	assert.ErrorAs(t, err, &viol)
}

// Testable property #1 (SequenceNumberSet length): encoding length in
// octets equals 8 (bitmapBase, a full SequenceNumber) + 4 (numbits) +
// 4*ceil(numbits/32) (bitmap words).
func TestSequenceNumberSetWireLength(t *testing.T) {
	cases := []uint32{0, 1, 31, 32, 33, 64, 256}
	for _, numBits := range cases {
		set := guid.NewSequenceNumberSet(1, numBits)
		encoded := EncodeSequenceNumberSet(set, byteOrderForFlags(flagEndianness))
		want := 8 + 4 + 4*int((numBits+31)/32)
		assert.Equal(t, want, len(encoded), "numBits=%d", numBits)
	}
}
