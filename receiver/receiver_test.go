package receiver

import (
	"testing"
	"time"

	"github.com/nautopia/rdds/cache"
	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/qos"
	"github.com/nautopia/rdds/rtps"
	"github.com/nautopia/rdds/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDatagram(t *testing.T, local guid.GuidPrefix, submessages ...wire.Submessage) []byte {
	t.Helper()
	msg := wire.Message{
		Header:      wire.Header{Version: wire.ProtocolVersion2_3, VendorId: guid.VendorId, GuidPrefix: local},
		Submessages: submessages,
	}
	return msg.Encode()
}

func TestHandleDatagramDispatchesDataToMatchedReader(t *testing.T) {
	var remotePrefix guid.GuidPrefix
	remotePrefix[0] = 0xaa
	writerEntity := guid.NewUserEntityId(1, true, false)
	writerGUID := guid.New(remotePrefix, writerEntity)

	c := cache.NewDDSCache()
	readerGUID := guid.New(guid.GuidPrefix{}, guid.NewUserEntityId(2, false, false))
	r := rtps.NewReader(readerGUID, "Topic", qos.Default(), c, guid.NewClock(), zerolog.Nop())
	r.MatchWriter(writerGUID, nil)

	mr := NewMessageReceiver(guid.GuidPrefix{}, func(e guid.EntityId) []*rtps.Reader {
		return []*rtps.Reader{r}
	}, func(e guid.EntityId) []*rtps.Writer { return nil }, zerolog.Nop())

	payload := wire.SerializedPayload{RepresentationId: wire.ReprCDR_LE, Value: []byte("hello")}
	data := wire.Data{ReaderId: readerGUID.Entity, WriterId: writerEntity, WriterSN: 1, Payload: &payload}

	datagram := buildDatagram(t, remotePrefix, data)

	outcome, err := mr.HandleDatagram(datagram, time.Now())
	require.NoError(t, err)
	assert.Empty(t, outcome.Sends)

	entries := c.ChangesInRange("Topic", 0, 1<<62)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", string(entries[0].Change.DataValue.Value))
}

func TestHandleDatagramHeartbeatSchedulesAckNack(t *testing.T) {
	var remotePrefix guid.GuidPrefix
	remotePrefix[0] = 0xbb
	writerEntity := guid.NewUserEntityId(1, true, false)
	writerGUID := guid.New(remotePrefix, writerEntity)

	c := cache.NewDDSCache()
	readerGUID := guid.New(guid.GuidPrefix{}, guid.NewUserEntityId(3, false, false))
	r := rtps.NewReader(readerGUID, "Topic", qos.Default(), c, guid.NewClock(), zerolog.Nop())
	r.MatchWriter(writerGUID, nil)

	mr := NewMessageReceiver(guid.GuidPrefix{}, func(e guid.EntityId) []*rtps.Reader {
		return []*rtps.Reader{r}
	}, func(e guid.EntityId) []*rtps.Writer { return nil }, zerolog.Nop())

	hb := wire.Heartbeat{ReaderId: readerGUID.Entity, WriterId: writerEntity, FirstSN: 1, LastSN: 3, Count: 1}
	datagram := buildDatagram(t, remotePrefix, hb)

	outcome, err := mr.HandleDatagram(datagram, time.Now())
	require.NoError(t, err)
	require.Len(t, outcome.AckNacks, 1)
	assert.Equal(t, writerGUID, outcome.AckNacks[0].Writer)
	assert.ElementsMatch(t, []guid.SequenceNumber{1, 2, 3}, outcome.AckNacks[0].AckNack.ReaderSNState.Members())
}

func TestHandleDatagramAckNackDispatchesToWriter(t *testing.T) {
	var remotePrefix guid.GuidPrefix
	remotePrefix[0] = 0xcc
	readerEntity := guid.NewUserEntityId(5, false, false)
	readerGUID := guid.New(remotePrefix, readerEntity)

	c := cache.NewDDSCache()
	writerGUID := guid.New(guid.GuidPrefix{}, guid.NewUserEntityId(6, true, false))
	w := rtps.NewWriter(writerGUID, "Topic", qos.Default(), c, guid.NewClock(), zerolog.Nop())
	w.MatchReader(readerGUID, nil, true)
	_, err := w.Write(wire.SerializedPayload{RepresentationId: wire.ReprCDR_LE, Value: []byte("x")}, nil)
	require.NoError(t, err)

	mr := NewMessageReceiver(guid.GuidPrefix{}, func(e guid.EntityId) []*rtps.Reader { return nil },
		func(e guid.EntityId) []*rtps.Writer { return []*rtps.Writer{w} }, zerolog.Nop())

	set := guid.NewSequenceNumberSet(1, 1)
	set.Set(1)
	an := wire.AckNack{ReaderId: readerEntity, WriterId: writerGUID.Entity, ReaderSNState: set, Count: 1}
	datagram := buildDatagram(t, remotePrefix, an)

	outcome, err := mr.HandleDatagram(datagram, time.Now())
	require.NoError(t, err)
	require.Len(t, outcome.Sends, 1)
	assert.EqualValues(t, 1, outcome.Sends[0].Data.WriterSN)
}

func TestHandleDatagramMalformedIsDroppedNotFatal(t *testing.T) {
	mr := NewMessageReceiver(guid.GuidPrefix{}, func(e guid.EntityId) []*rtps.Reader { return nil },
		func(e guid.EntityId) []*rtps.Writer { return nil }, zerolog.Nop())

	outcome, err := mr.HandleDatagram([]byte("not an rtps datagram"), time.Now())
	assert.NoError(t, err)
	assert.Empty(t, outcome.Sends)
	assert.Empty(t, outcome.AckNacks)
}
