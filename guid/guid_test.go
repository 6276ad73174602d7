package guid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGuidPrefixUnique(t *testing.T) {
	p1, err := NewGuidPrefix()
	require.NoError(t, err)
	p2, err := NewGuidPrefix()
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2, "two prefixes generated back to back must differ")
	assert.Equal(t, VendorId[0], p1[0])
	assert.Equal(t, VendorId[1], p1[1])
}

func TestGUIDRoundTripBytes(t *testing.T) {
	prefix, err := NewGuidPrefix()
	require.NoError(t, err)

	g := New(prefix, EntityIdSEDPBuiltinPublicationsWriter)
	b := g.Bytes()
	got := FromBytes(b)

	assert.Equal(t, g, got)
}

func TestNewUserEntityIdKinds(t *testing.T) {
	w := NewUserEntityId(1, true, true)
	r := NewUserEntityId(1, false, true)
	assert.NotEqual(t, w, r)
	assert.Equal(t, byte(0x01), w[2])
}

func TestParticipantGUIDDistinctFromEndpoints(t *testing.T) {
	prefix, err := NewGuidPrefix()
	require.NoError(t, err)

	pg := ParticipantGUID(prefix)
	assert.NotEqual(t, ENTITYID_UNKNOWN, pg.Entity)
	assert.NotEqual(t, pg.Entity, EntityIdSPDPBuiltinParticipantWriter)
}
