package cache

import (
	"testing"

	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWriterGUID(n byte) guid.GUID {
	var prefix guid.GuidPrefix
	prefix[0] = n
	return guid.New(prefix, guid.NewUserEntityId(1, true, true))
}

func change(writer guid.GUID, sn guid.SequenceNumber, value string) CacheChange {
	payload := wire.SerializedPayload{RepresentationId: wire.ReprCDR_LE, Value: []byte(value)}
	return CacheChange{Kind: Alive, WriterGUID: writer, SequenceNumber: sn, DataValue: &payload}
}

// Testable property #6: inserting the same (writer_guid, sequence_number)
// twice yields exactly one entry.
func TestIdempotentInsert(t *testing.T) {
	c := NewDDSCache()
	w := testWriterGUID(1)
	clock := guid.NewClock()

	inserted, err := c.AddChange("Topic", clock.Next(), change(w, 1, "a"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = c.AddChange("Topic", clock.Next(), change(w, 1, "a-dup"))
	require.NoError(t, err)
	assert.False(t, inserted)

	entries := c.ChangesInRange("Topic", 0, 1<<62)
	assert.Len(t, entries, 1)
	assert.Equal(t, "a", string(entries[0].Change.DataValue.Value))
}

// Testable property #10: ChangesInRange returns changes in strictly
// non-decreasing instant order.
func TestOrderedByInstant(t *testing.T) {
	c := NewDDSCache()
	w := testWriterGUID(2)
	clock := guid.NewClock()

	var instants []guid.Instant
	for i := guid.SequenceNumber(1); i <= 5; i++ {
		inst := clock.Next()
		instants = append(instants, inst)
		_, err := c.AddChange("Topic", inst, change(w, i, "x"))
		require.NoError(t, err)
	}

	entries := c.ChangesInRange("Topic", 0, 1<<62)
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		assert.LessOrEqual(t, entries[i-1].Instant, entries[i].Instant)
	}
	assert.Equal(t, instants[0], entries[0].Instant)
}

// Testable property #7 (end-to-end read/take semantics), partially:
// the cache itself is read-only from the consumer's perspective; take
// semantics (removing on read) live in the user-facing façade which
// is out of scope, but repeated ChangesInRange calls must be
// idempotent (no double delivery from the cache's own state).
func TestRepeatedReadIsIdempotent(t *testing.T) {
	c := NewDDSCache()
	w := testWriterGUID(3)
	clock := guid.NewClock()

	_, err := c.AddChange("Topic", clock.Next(), change(w, 1, "a"))
	require.NoError(t, err)
	_, err = c.AddChange("Topic", clock.Next(), change(w, 2, "b"))
	require.NoError(t, err)

	first := c.ChangesInRange("Topic", 0, 1<<62)
	second := c.ChangesInRange("Topic", 0, 1<<62)
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
}

// Testable property #8: a disposed sample with absent payload and
// inline KEY_HASH = h resolves to kind = NotAliveDisposed with that
// key hash, retrievable by GetByKeyHash.
func TestDisposeCarriesKey(t *testing.T) {
	c := NewDDSCache()
	w := testWriterGUID(4)
	clock := guid.NewClock()

	var h InstanceKeyHash
	copy(h[:], []byte("0123456789abcdef"))

	si := wire.StatusInfoDisposed
	kind := KindFromStatusInfo(si, false)
	assert.Equal(t, NotAliveDisposed, kind)

	dispose := CacheChange{Kind: kind, WriterGUID: w, SequenceNumber: 1, InstanceKeyHash: h, DataValue: nil}
	_, err := c.AddChange("Topic", clock.Next(), dispose)
	require.NoError(t, err)

	got, ok := c.GetByKeyHash("Topic", h)
	require.True(t, ok)
	assert.Equal(t, NotAliveDisposed, got.Kind)
	assert.Nil(t, got.DataValue)
}

func TestHistoryEvictionRemoveChangesBefore(t *testing.T) {
	c := NewDDSCache()
	w := testWriterGUID(5)
	clock := guid.NewClock()

	var cutoff guid.Instant
	for i := guid.SequenceNumber(1); i <= 3; i++ {
		inst := clock.Next()
		if i == 2 {
			cutoff = inst
		}
		_, err := c.AddChange("Topic", inst, change(w, i, "x"))
		require.NoError(t, err)
	}

	c.RemoveChangesBefore("Topic", cutoff)
	entries := c.ChangesInRange("Topic", 0, 1<<62)
	require.Len(t, entries, 2)
	assert.Equal(t, guid.SequenceNumber(2), entries[0].Change.SequenceNumber)
}

func TestKeepLastEvictionPerInstance(t *testing.T) {
	c := NewDDSCache()
	w := testWriterGUID(6)
	clock := guid.NewClock()

	var h InstanceKeyHash
	h[0] = 0xaa
	for i := guid.SequenceNumber(1); i <= 4; i++ {
		ch := change(w, i, "x")
		ch.InstanceKeyHash = h
		_, err := c.AddChange("Topic", clock.Next(), ch)
		require.NoError(t, err)
	}

	c.RemoveOldestPerInstanceBeyond("Topic", 2)
	entries := c.ChangesInRange("Topic", 0, 1<<62)
	require.Len(t, entries, 2)
	assert.Equal(t, guid.SequenceNumber(3), entries[0].Change.SequenceNumber)
	assert.Equal(t, guid.SequenceNumber(4), entries[1].Change.SequenceNumber)
}

func TestAddChangeRejectsNonIncreasingInstant(t *testing.T) {
	c := NewDDSCache()
	w := testWriterGUID(7)

	_, err := c.AddChange("Topic", 10, change(w, 1, "a"))
	require.NoError(t, err)

	_, err = c.AddChange("Topic", 5, change(w, 2, "b"))
	assert.Error(t, err)
}
