package rdds

import (
	"testing"
	"time"

	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/qos"
	"github.com/nautopia/rdds/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wireTestPayload(s string) wire.SerializedPayload {
	return wire.SerializedPayload{RepresentationId: wire.ReprCDR_LE, Value: []byte(s)}
}

func unknownGUID() guid.GUID {
	return guid.New(guid.GuidPrefix{0xff}, guid.NewUserEntityId(99, true, false))
}

// participantTestDomainId is kept well above the well-known range so
// the derived ports don't collide with anything else running on the
// test host, mirroring transport's own scanTestDomainId convention.
const participantTestDomainId = 210

func newTestParticipant(t *testing.T, domainId int) *DomainParticipant {
	t.Helper()
	dp, err := NewDomainParticipant(domainId, MatchObserver{}, WithAnnouncePeriod(50*time.Millisecond), WithShutdownTimeout(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { dp.Close() })
	return dp
}

func TestNewDomainParticipantBindsDistinctSockets(t *testing.T) {
	dp := newTestParticipant(t, participantTestDomainId)

	assert.NotZero(t, dp.GuidPrefix)
	assert.GreaterOrEqual(t, dp.ParticipantId, 0)
}

func TestTwoParticipantsOnSameDomainGetDistinctParticipantIds(t *testing.T) {
	dp1 := newTestParticipant(t, participantTestDomainId+1)
	dp2 := newTestParticipant(t, participantTestDomainId+1)

	assert.NotEqual(t, dp1.ParticipantId, dp2.ParticipantId)
}

func TestAddReaderRegistersWithDiscoveryDB(t *testing.T) {
	dp := newTestParticipant(t, participantTestDomainId+2)

	h, err := dp.AddReader("Topic", "TopicType", qos.Default(), false)
	require.NoError(t, err)
	assert.Equal(t, "Topic", h.Topic)

	local := dp.discovery.DB().LocalReaders()
	require.Len(t, local, 1)
	assert.Equal(t, h.GUID, local[0].GUID)
	assert.Equal(t, "TopicType", local[0].TypeName)
}

func TestAddWriterThenRemoveWriterUnregisters(t *testing.T) {
	dp := newTestParticipant(t, participantTestDomainId+3)

	h, err := dp.AddWriter("Topic", "TopicType", qos.Default(), false)
	require.NoError(t, err)
	require.Len(t, dp.discovery.DB().LocalWriters(), 1)

	require.NoError(t, dp.RemoveWriter(h.GUID))
	// RemoveWriter only enqueues REMOVE_LOCAL_WRITER; the discovery
	// goroutine applies it on its next iteration.
	assert.Eventually(t, func() bool { return len(dp.discovery.DB().LocalWriters()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestWriteSucceedsWithoutMatchedReaders(t *testing.T) {
	dp := newTestParticipant(t, participantTestDomainId+4)

	h, err := dp.AddWriter("Topic", "TopicType", qos.Default(), false)
	require.NoError(t, err)

	payload := wireTestPayload("hello")
	require.NoError(t, h.Write(payload))
}

func TestWriteToUnknownWriterFails(t *testing.T) {
	dp := newTestParticipant(t, participantTestDomainId+5)

	err := dp.Write(unknownGUID(), wireTestPayload("hello"))
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestCommandsAfterCloseReturnPreconditionNotMet(t *testing.T) {
	dp, err := NewDomainParticipant(participantTestDomainId+6, MatchObserver{}, WithAnnouncePeriod(10*time.Millisecond), WithShutdownTimeout(time.Second))
	require.NoError(t, err)
	require.NoError(t, dp.Close())

	_, err = dp.AddReader("Topic", "TopicType", qos.Default(), false)
	assert.ErrorIs(t, err, ErrPreconditionNotMet)
}
