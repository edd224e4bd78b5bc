package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/mediacore/internal/pipeline"
	"github.com/relaycore/mediacore/internal/tag"
)

type fakeElement struct {
	caps    Caps
	hasCaps bool
	added   []pipeline.RequestKey
}

func (e *fakeElement) AddRequest(key pipeline.RequestKey, cb pipeline.Callback) bool {
	e.added = append(e.added, key)
	return true
}

func (e *fakeElement) RemoveRequest(key pipeline.RequestKey) {
	for i, k := range e.added {
		if k == key {
			e.added = append(e.added[:i], e.added[i+1:]...)
			return
		}
	}
}

func (e *fakeElement) Caps() Caps { return e.caps }

func TestAddRequestOnUnknownMediaFails(t *testing.T) {
	m := NewElementMapper()
	called := false
	ok := m.AddRequest("missing", "key", func(*tag.Tag) { called = true })
	assert.False(t, ok)
	assert.False(t, called)
}

func TestAddRequestDelegatesToRegisteredElement(t *testing.T) {
	m := NewElementMapper()
	e := &fakeElement{caps: AnyCaps}
	m.Register("live/a", e)

	ok := m.AddRequest("live/a", "k1", func(*tag.Tag) {})
	require.True(t, ok)
	assert.Equal(t, []pipeline.RequestKey{"k1"}, e.added)
}

func TestAddRequestRejectsCapabilityMismatch(t *testing.T) {
	m := NewElementMapper()
	e := &fakeElement{caps: Caps{FlavourMask: 1 << 0}}
	m.Register("live/a", e)

	req := &Request{Caps: Caps{FlavourMask: 1 << 5}}
	ok := m.AddRequest("live/a", req, func(*tag.Tag) {})
	assert.False(t, ok, "disjoint flavour masks must fail capability negotiation")
	assert.Empty(t, e.added)
}

func TestAddRequestAcceptsMatchingCapability(t *testing.T) {
	m := NewElementMapper()
	e := &fakeElement{caps: Caps{FlavourMask: (1 << 0) | (1 << 1)}}
	m.Register("live/a", e)

	req := &Request{Caps: Caps{FlavourMask: 1 << 1}}
	ok := m.AddRequest("live/a", req, func(*tag.Tag) {})
	assert.True(t, ok)
	require.Len(t, e.added, 1)
}

func TestRemoveRequestOnUnknownMediaIsNoop(t *testing.T) {
	m := NewElementMapper()
	assert.NotPanics(t, func() { m.RemoveRequest("missing", "k") })
}

func TestUnregisterStopsFutureResolution(t *testing.T) {
	m := NewElementMapper()
	e := &fakeElement{caps: AnyCaps}
	m.Register("live/a", e)
	m.Unregister("live/a")

	ok := m.AddRequest("live/a", "k", func(*tag.Tag) {})
	assert.False(t, ok)
}

func TestCapsAcceptsTypeRestriction(t *testing.T) {
	want := Caps{Types: []tag.Type{tag.TypeAAC}}
	offerMatch := Caps{Types: []tag.Type{tag.TypeMP3, tag.TypeAAC}}
	offerMismatch := Caps{Types: []tag.Type{tag.TypeMP3}}

	assert.True(t, want.Accepts(offerMatch))
	assert.False(t, want.Accepts(offerMismatch))
}
