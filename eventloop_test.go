package rdds

import (
	"net"
	"testing"
	"time"

	"github.com/nautopia/rdds/cache"
	"github.com/nautopia/rdds/discovery"
	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/qos"
	"github.com/nautopia/rdds/rtps"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestEventLoop builds a dpEventLoop directly from loopback sockets
// rather than through newDPEventLoop/bindParticipantSockets, since the
// loop's own logic doesn't depend on the real SPDP/user port derivation
// — only on having four live *net.UDPConn to write to.
func newTestEventLoop(t *testing.T) *dpEventLoop {
	t.Helper()

	disco := discovery.NewDiscovery(discovery.Config{GuidPrefix: guid.GuidPrefix{}}, discovery.MatchHooks{}, zerolog.Nop())

	userMulticast := listenLoopback(t)
	spdpMulticast := listenLoopback(t)

	l := &dpEventLoop{
		guidPrefix:        guid.GuidPrefix{},
		spdpMulticastConn: spdpMulticast,
		spdpUnicastConn:   listenLoopback(t),
		userMulticastConn: userMulticast,
		userUnicastConn:   listenLoopback(t),
		spdpMulticastAddr: spdpMulticast.LocalAddr().(*net.UDPAddr),
		userMulticastAddr: userMulticast.LocalAddr().(*net.UDPAddr),
		disco:             disco,
		readers:           make(map[guid.EntityId]*rtps.Reader),
		writers:           make(map[guid.EntityId]*rtps.Writer),
		log:               zerolog.Nop(),
	}
	return l
}

func TestFindReadersBroadcastIncludesBuiltinAndLocal(t *testing.T) {
	l := newTestEventLoop(t)

	g := guid.New(guid.GuidPrefix{1}, guid.NewUserEntityId(1, false, false))
	r := rtps.NewReader(g, "Topic", qos.Default(), cache.NewDDSCache(), guid.NewClock(), zerolog.Nop())
	l.readers[g.Entity] = r

	all := l.findReaders(guid.ENTITYID_UNKNOWN)
	assert.Contains(t, all, r)
	assert.Contains(t, all, l.disco.Readers()[0])

	only := l.findReaders(g.Entity)
	assert.Equal(t, []*rtps.Reader{r}, only)
}

func TestHandleReaderMatchedWriterInstallsWriterProxy(t *testing.T) {
	l := newTestEventLoop(t)

	readerGUID := guid.New(guid.GuidPrefix{1}, guid.NewUserEntityId(1, false, false))
	r := rtps.NewReader(readerGUID, "Topic", qos.Default(), cache.NewDDSCache(), guid.NewClock(), zerolog.Nop())
	l.readers[readerGUID.Entity] = r

	writerGUID := guid.New(guid.GuidPrefix{2}, guid.NewUserEntityId(1, true, false))
	ev := readerMatchedWriterEvent{
		reader: readerGUID,
		writer: discovery.EndpointInfo{GUID: writerGUID, TopicName: "Topic"},
	}
	l.handleReaderMatchedWriter(ev)

	assert.Contains(t, r.MatchedWriters(), writerGUID)
}

func TestHandleWriterMatchedReaderRecordsReliability(t *testing.T) {
	l := newTestEventLoop(t)

	writerGUID := guid.New(guid.GuidPrefix{1}, guid.NewUserEntityId(1, true, false))
	w := rtps.NewWriter(writerGUID, "Topic", qos.Default(), cache.NewDDSCache(), guid.NewClock(), zerolog.Nop())
	l.writers[writerGUID.Entity] = w

	readerGUID := guid.New(guid.GuidPrefix{2}, guid.NewUserEntityId(1, false, false))
	reliablePolicies := qos.Policies{Reliability: qos.ReliabilityPolicy{Kind: qos.Reliable}}
	ev := writerMatchedReaderEvent{
		writer: writerGUID,
		reader: discovery.EndpointInfo{GUID: readerGUID, TopicName: "Topic", Policies: reliablePolicies},
	}
	l.handleWriterMatchedReader(ev)

	assert.Contains(t, w.MatchedReaders(), readerGUID)
	hb, ok := w.BuildHeartbeat(readerGUID, readerGUID.Entity, writerGUID.Entity)
	assert.True(t, ok, "a reliable matched reader should receive heartbeats")
	assert.True(t, hb.Final)
}

func TestTearDownParticipantRemovesOnlyMatchingPrefix(t *testing.T) {
	l := newTestEventLoop(t)

	lostPrefix := guid.GuidPrefix{9}
	keptPrefix := guid.GuidPrefix{7}

	readerGUID := guid.New(guid.GuidPrefix{1}, guid.NewUserEntityId(1, false, false))
	r := rtps.NewReader(readerGUID, "Topic", qos.Default(), cache.NewDDSCache(), guid.NewClock(), zerolog.Nop())
	lostWriter := guid.New(lostPrefix, guid.NewUserEntityId(1, true, false))
	keptWriter := guid.New(keptPrefix, guid.NewUserEntityId(1, true, false))
	r.MatchWriter(lostWriter, nil)
	r.MatchWriter(keptWriter, nil)
	l.readers[readerGUID.Entity] = r

	l.tearDownParticipant(lostPrefix)

	assert.NotContains(t, r.MatchedWriters(), lostWriter)
	assert.Contains(t, r.MatchedWriters(), keptWriter)
}

func TestHandleWriteUnknownEntityReturnsError(t *testing.T) {
	l := newTestEventLoop(t)

	reply := make(chan error, 1)
	l.handleWrite(writeReq{writer: guid.New(guid.GuidPrefix{3}, guid.NewUserEntityId(1, true, false)), reply: reply})

	err := <-reply
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestSendToGUIDFallsBackToMulticastWhenNoLocators(t *testing.T) {
	l := newTestEventLoop(t)

	l.sendToGUID(nil, []byte("hello"))

	buf := make([]byte, 16)
	l.userMulticastConn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := l.userMulticastConn.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestSendToGUIDSendsDirectlyToLocator(t *testing.T) {
	l := newTestEventLoop(t)
	recv := listenLoopback(t)

	l.sendToGUID([]string{recv.LocalAddr().String()}, []byte("direct"))

	buf := make([]byte, 16)
	recv.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := recv.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "direct", string(buf[:n]))
}
