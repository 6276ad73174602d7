package discovery

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/qos"
	"github.com/nautopia/rdds/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(prefixByte byte) Config {
	var prefix guid.GuidPrefix
	prefix[0] = prefixByte
	return Config{
		GuidPrefix:     prefix,
		AnnouncePeriod: time.Millisecond,
		LeaseDuration:  4 * time.Millisecond,
		MetatrafficUnicastLocators: []wire.Locator{
			{Kind: wire.LocatorKindUDPv4, Port: 7400, Address: [16]byte{12: 127, 15: 1}},
		},
	}
}

func TestNewDiscoveryExposesBuiltinEndpoints(t *testing.T) {
	d := NewDiscovery(testConfig(1), MatchHooks{}, zerolog.Nop())

	require.Len(t, d.Readers(), 3)
	require.Len(t, d.Writers(), 3)
	assert.Equal(t, guid.EntityIdSPDPBuiltinParticipantReader, d.Readers()[0].GUID.Entity)
	assert.Equal(t, guid.EntityIdSEDPBuiltinPublicationsReader, d.Readers()[1].GUID.Entity)
	assert.Equal(t, guid.EntityIdSEDPBuiltinSubscriptionsReader, d.Readers()[2].GUID.Entity)
}

func TestAnnounceParticipantEnqueuesMulticastOutbound(t *testing.T) {
	d := NewDiscovery(testConfig(2), MatchHooks{}, zerolog.Nop())

	d.announceParticipant()

	select {
	case o := <-d.Outbound:
		assert.Nil(t, o.Dest)
		assert.NotEmpty(t, o.Payload)
	default:
		t.Fatal("expected an outbound SPDP announce")
	}
}

// Testable property #4 fragment: adding a local reader after a
// matching remote writer is already known triggers exactly one match
// notification.
func TestAddLocalReaderMatchesExistingRemoteWriter(t *testing.T) {
	var matched []guid.GUID
	hooks := MatchHooks{
		OnReaderMatchedWriter: func(reader guid.GUID, writer EndpointInfo) {
			matched = append(matched, writer.GUID)
		},
	}
	d := NewDiscovery(testConfig(3), hooks, zerolog.Nop())

	remoteWriter := EndpointInfo{GUID: testEndpointGUID(9, 1), TopicName: "Pose", TypeName: "Pose"}
	d.db.UpsertRemoteWriter(remoteWriter)

	localReader := EndpointInfo{GUID: testEndpointGUID(3, 1), TopicName: "Pose", TypeName: "Pose"}
	d.AddLocalReader(localReader)

	require.Len(t, matched, 1)
	assert.Equal(t, remoteWriter.GUID, matched[0])

	// A second call must not re-fire the hook for the same pair.
	d.AddLocalReader(localReader)
	assert.Len(t, matched, 1)
}

// Testable property #4 fragment, bootstrap case: SPDP accepts a
// sample from a writer it has never matched (auto-match), and
// drainSPDP then registers the new participant.
func TestDrainSPDPRegistersNewParticipant(t *testing.T) {
	d := NewDiscovery(testConfig(4), MatchHooks{}, zerolog.Nop())

	var remotePrefix guid.GuidPrefix
	remotePrefix[0] = 0x55
	pd := ParticipantData{GuidPrefix: remotePrefix, LeaseDuration: time.Minute}
	payload := pd.Encode()

	writerGUID := guid.New(remotePrefix, guid.EntityIdSPDPBuiltinParticipantWriter)
	require.NoError(t, d.spdpReader.HandleData(writerGUID, wire.Data{WriterSN: 1, Payload: &payload}, binary.LittleEndian))

	d.drainSPDP()

	info, ok := d.db.Participant(remotePrefix)
	require.True(t, ok)
	assert.Equal(t, remotePrefix, info.GuidPrefix)
}

func TestHandleCommandStopDisposesParticipant(t *testing.T) {
	d := NewDiscovery(testConfig(6), MatchHooks{}, zerolog.Nop())
	// Drain the initial construction state so the dispose send is the
	// only thing we need to observe.
	for len(d.Outbound) > 0 {
		<-d.Outbound
	}

	stop := d.handleCommand(Command{Kind: CmdStopDiscovery})
	assert.True(t, stop)

	select {
	case o := <-d.Outbound:
		assert.Nil(t, o.Dest)
		assert.NotEmpty(t, o.Payload)
	default:
		t.Fatal("expected a dispose announce on stop")
	}
}

func TestMatchingLocalWritersRespectsQoS(t *testing.T) {
	db := NewDiscoveryDB()
	writer := EndpointInfo{
		GUID:      testEndpointGUID(7, 1),
		TopicName: "Cmd",
		TypeName:  "Twist",
		Policies:  qos.Policies{Reliability: qos.ReliabilityPolicy{Kind: qos.BestEffort}},
	}
	db.AddLocalWriter(writer)

	reliableReader := EndpointInfo{
		GUID:      testEndpointGUID(7, 2),
		TopicName: "Cmd",
		TypeName:  "Twist",
		Policies:  qos.Policies{Reliability: qos.ReliabilityPolicy{Kind: qos.Reliable}},
	}
	assert.Empty(t, db.MatchingLocalWriters(reliableReader))
}
