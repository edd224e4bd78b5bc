package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/mediacore/internal/selector"
	"github.com/relaycore/mediacore/internal/tag"
)

// TestDistributorOnlyDeliversMatchingFlavour is invariant 1 from
// SPEC_FULL.md §8: for every tag t emitted by a distributor for flavour f,
// t.FlavourMask & (1<<f) != 0.
func TestDistributorOnlyDeliversMatchingFlavour(t *testing.T) {
	d := NewDistributor(1 << 2)

	var got []*tag.Tag
	d.Subscribe("sub", func(tg *tag.Tag) { got = append(got, tg) })

	wrongFlavour := tag.New(tag.TypeFLV, tag.AttrVideo)
	wrongFlavour.SetFlavour(3)
	d.DistributeTag(wrongFlavour)
	assert.Empty(t, got, "tag for a different flavour must not be delivered")

	rightFlavour := tag.New(tag.TypeFLV, tag.AttrVideo)
	rightFlavour.SetFlavour(2)
	d.DistributeTag(rightFlavour)
	require.Len(t, got, 1)
	assert.NotZero(t, got[0].FlavourMask&(1<<2))
}

// TestDistributorUnsubscribeStopsDelivery backs the ordering guarantee
// that after Unsubscribe returns, the callback is never invoked again.
func TestDistributorUnsubscribeStopsDelivery(t *testing.T) {
	d := NewDistributor(0)

	calls := 0
	d.Subscribe("sub", func(*tag.Tag) { calls++ })
	d.Unsubscribe("sub")

	d.DistributeTag(tag.NewEOS(false))
	assert.Zero(t, calls)
}

// TestNormalizerMonotonicAcrossDiscontinuity is invariant 4: for all pairs
// of consecutive tags emitted by the normalizer, stream_time_ms is
// non-decreasing, even across a SOURCE_STARTED reset with a backwards raw
// timestamp jump.
func TestNormalizerMonotonicAcrossDiscontinuity(t *testing.T) {
	n := NewNormalizer(0)

	t1 := tag.New(tag.TypeFLV, tag.AttrVideo)
	n.Process(t1, 1000, 0)

	t2 := tag.New(tag.TypeFLV, tag.AttrVideo)
	n.Process(t2, 1040, 0)
	assert.GreaterOrEqual(t, t2.StreamTimeMs, t1.StreamTimeMs)

	started := tag.NewSourceStarted("b")
	n.Process(started, 0, 0) // new source restarts its raw clock at 0

	t3 := tag.New(tag.TypeFLV, tag.AttrVideo)
	n.Process(t3, 0, 0)
	assert.GreaterOrEqual(t, t3.StreamTimeMs, t2.StreamTimeMs,
		"stream clock must not go backwards across a source restart")

	t4 := tag.New(tag.TypeFLV, tag.AttrVideo)
	n.Process(t4, 40, 0)
	assert.GreaterOrEqual(t, t4.StreamTimeMs, t3.StreamTimeMs)
}

type fakeUpstream struct {
	mu  sync.Mutex
	cbs map[RequestKey]Callback
}

func newFakeUpstream() *fakeUpstream { return &fakeUpstream{cbs: make(map[RequestKey]Callback)} }

func (u *fakeUpstream) AddRequest(key RequestKey, cb Callback) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cbs[key] = cb
	return true
}

func (u *fakeUpstream) RemoveRequest(key RequestKey) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.cbs, key)
}

func (u *fakeUpstream) emit(key RequestKey, t *tag.Tag) {
	u.mu.Lock()
	cb := u.cbs[key]
	u.mu.Unlock()
	if cb != nil {
		cb(t)
	}
}

func TestFilteringElementPrefixesPathUnlessFinal(t *testing.T) {
	up := newFakeUpstream()
	fe := NewFilteringElement("transcoder", up, func(RequestKey) Filter { return PassthroughFilter{} })

	var got []*tag.Tag
	require.True(t, fe.AddRequest("k", func(tg *tag.Tag) { got = append(got, tg) }))

	up.emit("k", tag.NewSourceStarted("source/a"))
	require.Len(t, got, 1)
	assert.Equal(t, "transcoder/source/a", got[0].Path)

	final := tag.NewSourceEnded("source/a")
	final.IsFinal = true
	up.emit("k", final)
	require.Len(t, got, 2)
	assert.Equal(t, "source/a", got[1].Path, "IsFinal tags are not re-prefixed")
}

func TestFilteringElementRemoveRequestStopsDelivery(t *testing.T) {
	up := newFakeUpstream()
	fe := NewFilteringElement("f", up, func(RequestKey) Filter { return PassthroughFilter{} })

	calls := 0
	fe.AddRequest("k", func(*tag.Tag) { calls++ })
	fe.RemoveRequest("k")

	up.emit("k", tag.New(tag.TypeFLV, tag.AttrVideo))
	assert.Zero(t, calls, "no callback may fire after RemoveRequest returns")
}

type fakeResolver struct {
	mu          sync.Mutex
	subscribers map[string]map[RequestKey]Callback
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{subscribers: make(map[string]map[RequestKey]Callback)}
}

func (r *fakeResolver) AddRequest(media string, key RequestKey, cb Callback) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subscribers[media] == nil {
		r.subscribers[media] = make(map[RequestKey]Callback)
	}
	r.subscribers[media][key] = cb
	return true
}

func (r *fakeResolver) RemoveRequest(media string, key RequestKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers[media], key)
}

func (r *fakeResolver) emit(media string, t *tag.Tag) {
	r.mu.Lock()
	cbs := make([]Callback, 0, len(r.subscribers[media]))
	for _, cb := range r.subscribers[media] {
		cbs = append(cbs, cb)
	}
	r.mu.Unlock()
	for _, cb := range cbs {
		cb(t)
	}
}

type retainOnEosPolicy struct{ retain bool }

func (retainOnEosPolicy) NotifyTag(*tag.Tag) bool { return true }
func (p retainOnEosPolicy) NotifyEos() bool       { return p.retain }

// TestSwitchCurrentMediaIsNoOpWithoutForce backs the idempotence rule in
// SPEC_FULL.md §8: SwitchCurrentMedia(X) when already on X without force
// is a no-op.
func TestSwitchCurrentMediaIsNoOpWithoutForce(t *testing.T) {
	resolver := newFakeResolver()
	sw := NewSwitchingElement("sw", resolver, nil, AllowAllPolicy{}, []int{0}, 0, false)

	sw.SwitchCurrentMedia("a", false)
	resolver.mu.Lock()
	first := len(resolver.subscribers["a"])
	resolver.mu.Unlock()
	require.Equal(t, 1, first)

	sw.SwitchCurrentMedia("a", false)
	resolver.mu.Lock()
	second := len(resolver.subscribers["a"])
	resolver.mu.Unlock()
	assert.Equal(t, first, second, "re-switching to the same target without force must be a no-op")
}

// TestSwitchingElementPolicyRetainsAcrossEos is scenario S5: a policy
// returning true from NotifyEos suppresses the downstream EOS, and a
// subsequent SwitchCurrentMedia delivers the new source's tags with a
// monotonically increasing stream_time_ms across the boundary.
func TestSwitchingElementPolicyRetainsAcrossEos(t *testing.T) {
	clock := int64(kRegisterMinIntervalMs) // lastRegisterAt starts at 0, so the first switch registers at once
	origNow := nowMs
	nowMs = func() int64 { return clock }
	defer func() { nowMs = origNow }()

	resolver := newFakeResolver()
	sel := selector.New(selector.DefaultConfig())
	sw := NewSwitchingElement("sw", resolver, sel, retainOnEosPolicy{retain: true}, []int{0}, 2000, false)

	var gotEOS bool
	var delivered []*tag.Tag
	d := sw.Distributor(0)
	require.NotNil(t, d)
	d.Subscribe("client", func(tg *tag.Tag) {
		switch tg.Type {
		case tag.TypeEOS:
			gotEOS = true
		case tag.TypeFLV:
			delivered = append(delivered, tg)
		}
	})

	sw.SwitchCurrentMedia("a", false)

	mk := func(ts int64) *tag.Tag {
		tg := tag.New(tag.TypeFLV, tag.AttrVideo)
		tg.SetFlavour(0)
		tg.StreamTimeMs = ts
		return tg
	}
	resolver.emit("a", mk(0))
	resolver.emit("a", mk(40))
	resolver.emit("a", mk(80))
	resolver.emit("a", tag.NewEOS(false))

	assert.False(t, gotEOS, "policy retained the client across EOS, no downstream EOS expected")
	require.Len(t, delivered, 3)
	lastStreamTime := delivered[len(delivered)-1].StreamTimeMs

	clock += kRegisterMinIntervalMs + 1 // clear the reconnect backoff so registration is immediate
	sw.SwitchCurrentMedia("b", false)
	resolver.emit("b", mk(0))
	resolver.emit("b", mk(40))

	require.Len(t, delivered, 5)
	for i := 1; i < len(delivered); i++ {
		assert.GreaterOrEqual(t, delivered[i].StreamTimeMs, delivered[i-1].StreamTimeMs,
			"stream_time_ms must not decrease across the switch boundary")
	}
	assert.GreaterOrEqual(t, delivered[3].StreamTimeMs, lastStreamTime)
}

// TestSwitchingElementClosesClientsWithoutRetainPolicy covers the
// complementary branch of S5: a policy that returns false from NotifyEos
// closes every downstream client on upstream end-of-stream.
func TestSwitchingElementClosesClientsWithoutRetainPolicy(t *testing.T) {
	resolver := newFakeResolver()
	sw := NewSwitchingElement("sw", resolver, nil, retainOnEosPolicy{retain: false}, []int{0}, 0, false)

	var gotEOS bool
	d := sw.Distributor(0)
	d.Subscribe("client", func(tg *tag.Tag) {
		if tg.Type == tag.TypeEOS {
			gotEOS = true
		}
	})

	sw.SwitchCurrentMedia("a", false)
	resolver.emit("a", tag.NewEOS(false))

	assert.True(t, gotEOS, "policy did not retain, downstream client must see EOS")
}

// TestAddRequestOnUnknownMediaReturnsFalse backs the boundary rule:
// AddRequest on a path no element provides returns false and installs no
// callback.
func TestAddRequestOnUnknownMediaReturnsFalse(t *testing.T) {
	// refusingUpstream models a resolver that has no element for the
	// requested path, as graph.ElementMapper does for an unknown media name.
	fe := NewFilteringElement("f", refusingUpstream{}, func(RequestKey) Filter { return PassthroughFilter{} })

	called := false
	ok := fe.AddRequest("k", func(*tag.Tag) { called = true })
	assert.False(t, ok)
	assert.False(t, called)
}

type refusingUpstream struct{}

func (refusingUpstream) AddRequest(RequestKey, Callback) bool { return false }
func (refusingUpstream) RemoveRequest(RequestKey)             {}
