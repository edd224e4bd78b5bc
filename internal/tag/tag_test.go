package tag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneSharesNoMutableState(t *testing.T) {
	orig := New(TypeFLV, AttrVideo|AttrCanResync)
	orig.Payload = []byte{1, 2, 3}
	orig.SetFlavour(2)

	clone := orig.Clone()
	require.Equal(t, orig.Payload, clone.Payload)

	clone.Payload[0] = 99
	assert.Equal(t, byte(1), orig.Payload[0], "clone must not share backing array with original")

	assert.EqualValues(t, 1, clone.RefCount(), "clone starts with its own ref count")
	assert.EqualValues(t, 1, orig.RefCount(), "cloning must not touch the original's ref count")
}

func TestFlavourMaskIsOneHot(t *testing.T) {
	tg := New(TypeFLV, AttrAudio)
	tg.SetFlavour(5)
	assert.Equal(t, uint32(1<<5), tg.FlavourMask)
	assert.Equal(t, uint32(1), popcount(tg.FlavourMask))
}

func TestAttributesHighByteMasked(t *testing.T) {
	tg := New(TypeFLV, Attributes(0xFF00FFFF))
	assert.Zero(t, uint32(tg.Attributes())&0xFF000000)
}

func TestRefCounting(t *testing.T) {
	tg := New(TypeFLV, 0)
	tg.IncRef()
	assert.EqualValues(t, 2, tg.RefCount())
	assert.EqualValues(t, 1, tg.DecRef())
}

func popcount(x uint32) uint32 {
	var n uint32
	for x != 0 {
		n++
		x &= x - 1
	}
	return n
}
