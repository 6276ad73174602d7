package discovery

import (
	"testing"
	"time"

	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/qos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrefix(b byte) guid.GuidPrefix {
	var p guid.GuidPrefix
	p[0] = b
	return p
}

func testEndpointGUID(prefixByte byte, entityByte byte) guid.GUID {
	return guid.New(testPrefix(prefixByte), guid.NewUserEntityId(uint32(entityByte), true, false))
}

func TestUpsertParticipantReportsNewOnce(t *testing.T) {
	db := NewDiscoveryDB()
	info := ParticipantInfo{GuidPrefix: testPrefix(1), LeaseExpiration: time.Now().Add(time.Minute)}

	assert.True(t, db.UpsertParticipant(info))
	assert.False(t, db.UpsertParticipant(info))

	got, ok := db.Participant(testPrefix(1))
	require.True(t, ok)
	assert.Equal(t, testPrefix(1), got.GuidPrefix)
}

// Testable property #5: a participant whose lease has expired is
// forgotten, along with every remote endpoint it carried.
func TestExpiredParticipantsRemovesEndpoints(t *testing.T) {
	db := NewDiscoveryDB()
	prefix := testPrefix(2)
	db.UpsertParticipant(ParticipantInfo{GuidPrefix: prefix, LeaseExpiration: time.Now().Add(-time.Second)})
	w := EndpointInfo{GUID: testEndpointGUID(2, 1), TopicName: "T", TypeName: "Ty"}
	db.UpsertRemoteWriter(w)

	expired := db.ExpiredParticipants(time.Now())
	require.Len(t, expired, 1)
	assert.Equal(t, prefix, expired[0])

	_, ok := db.Participant(prefix)
	assert.False(t, ok)
	assert.Empty(t, db.MatchingRemoteWriters(w))
}

func TestExpiredParticipantsIgnoresLiveLeases(t *testing.T) {
	db := NewDiscoveryDB()
	prefix := testPrefix(3)
	db.UpsertParticipant(ParticipantInfo{GuidPrefix: prefix, LeaseExpiration: time.Now().Add(time.Hour)})

	assert.Empty(t, db.ExpiredParticipants(time.Now()))
	_, ok := db.Participant(prefix)
	assert.True(t, ok)
}

// Testable property #4: a local reader and a remote writer match iff
// topic name, type name match and QoS is compatible.
func TestMatchingRequiresTopicTypeAndQoS(t *testing.T) {
	db := NewDiscoveryDB()
	reader := EndpointInfo{
		GUID:      testEndpointGUID(4, 1),
		TopicName: "Temp",
		TypeName:  "Celsius",
		Policies:  qos.Policies{Reliability: qos.ReliabilityPolicy{Kind: qos.Reliable}},
	}
	db.AddLocalReader(reader)

	compatible := EndpointInfo{
		GUID:      testEndpointGUID(4, 2),
		TopicName: "Temp",
		TypeName:  "Celsius",
		Policies:  qos.Policies{Reliability: qos.ReliabilityPolicy{Kind: qos.Reliable}},
	}
	wrongTopic := EndpointInfo{
		GUID:      testEndpointGUID(4, 3),
		TopicName: "Humidity",
		TypeName:  "Celsius",
		Policies:  qos.Policies{Reliability: qos.ReliabilityPolicy{Kind: qos.Reliable}},
	}
	incompatibleQos := EndpointInfo{
		GUID:      testEndpointGUID(4, 4),
		TopicName: "Temp",
		TypeName:  "Celsius",
		Policies:  qos.Policies{Reliability: qos.ReliabilityPolicy{Kind: qos.BestEffort}},
	}

	db.UpsertRemoteWriter(compatible)
	db.UpsertRemoteWriter(wrongTopic)
	db.UpsertRemoteWriter(incompatibleQos)

	matches := db.MatchingRemoteWriters(reader)
	require.Len(t, matches, 1)
	assert.Equal(t, compatible.GUID, matches[0].GUID)
}

func TestAlreadyMatchedIsIdempotent(t *testing.T) {
	db := NewDiscoveryDB()
	reader := testEndpointGUID(5, 1)
	writer := testEndpointGUID(5, 2)

	assert.False(t, db.AlreadyMatched(reader, writer))
	assert.True(t, db.AlreadyMatched(reader, writer))

	db.ForgetMatch(reader, writer)
	assert.False(t, db.AlreadyMatched(reader, writer))
}

func TestRemoveParticipantForgetsEverythingUnderPrefix(t *testing.T) {
	db := NewDiscoveryDB()
	prefix := testPrefix(6)
	db.UpsertParticipant(ParticipantInfo{GuidPrefix: prefix})
	w := EndpointInfo{GUID: guid.New(prefix, guid.NewUserEntityId(1, true, false))}
	r := EndpointInfo{GUID: guid.New(prefix, guid.NewUserEntityId(2, false, false))}
	db.UpsertRemoteWriter(w)
	db.UpsertRemoteReader(r)

	db.RemoveParticipant(prefix)

	_, ok := db.Participant(prefix)
	assert.False(t, ok)
	assert.Empty(t, db.MatchingRemoteWriters(r))
	assert.Empty(t, db.MatchingRemoteReaders(w))
}
