package elements

import (
	"testing"

	"github.com/relaycore/mediacore/internal/graph"
	"github.com/relaycore/mediacore/internal/tag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func videoTag(resync bool) *tag.Tag {
	attrs := tag.AttrVideo
	if resync {
		attrs |= tag.AttrCanResync
	} else {
		attrs |= tag.AttrDroppable
	}
	return tag.New(tag.TypeFLV, attrs)
}

func TestRegistryRejectsDoublePublish(t *testing.T) {
	r := NewRegistry(graph.NewElementMapper())

	_, ok := r.StartPublish("/live/key", 10, nil)
	require.True(t, ok)

	_, ok = r.StartPublish("/live/key", 10, nil)
	assert.False(t, ok)
}

func TestLiveSourceReplaysGopCacheToLateSubscriber(t *testing.T) {
	src := NewLiveSource(10)

	src.Publish(videoTag(true))
	src.Publish(videoTag(false))
	src.Publish(videoTag(false))

	var received []*tag.Tag
	ok := src.AddRequest("late", func(tg *tag.Tag) { received = append(received, tg) })
	require.True(t, ok)

	assert.Len(t, received, 3)
}

func TestLiveSourceClosePreventsFurtherSubscription(t *testing.T) {
	src := NewLiveSource(0)
	src.Close()

	ok := src.AddRequest("k", func(*tag.Tag) {})
	assert.False(t, ok)
}

func TestRegistryEndPublishAllowsRepublish(t *testing.T) {
	r := NewRegistry(graph.NewElementMapper())

	_, ok := r.StartPublish("/live/key", 0, nil)
	require.True(t, ok)

	r.EndPublish("/live/key")
	assert.False(t, r.IsPublishing("/live/key"))

	_, ok = r.StartPublish("/live/key", 0, nil)
	assert.True(t, ok)
}

func TestRegistryKillPublishInvokesCallback(t *testing.T) {
	r := NewRegistry(graph.NewElementMapper())

	killed := false
	_, ok := r.StartPublish("/live/key", 0, func() { killed = true })
	require.True(t, ok)

	r.KillPublish("other", "")
	assert.False(t, killed)

	r.KillPublish("live", "key")
	assert.True(t, killed)
}
