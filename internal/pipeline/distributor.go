// Package pipeline implements the tag fan-out primitives described in
// SPEC_FULL.md §4.5: TagDistributor, FilteringElement, SwitchingElement,
// and the TagNormalizer stream clock.
package pipeline

import (
	"sync"

	"github.com/relaycore/mediacore/internal/tag"
)

// Callback is invoked once per distributed tag for a given request.
type Callback func(t *tag.Tag)

// RequestKey identifies a subscriber without pulling in the graph
// package's concrete Request type, keeping pipeline free of a dependency
// on graph (graph depends on pipeline, not the reverse).
type RequestKey interface{}

// Distributor holds a flavor bit and a Request -> Callback map, fanning
// every tag whose FlavourMask matches out to the subscribed callbacks
// (SPEC_FULL.md §4.5).
type Distributor struct {
	mu        sync.Mutex
	flavour   uint32 // 0 means "accept every flavour", used for lifecycle-only distributors
	callbacks map[RequestKey]Callback
}

// NewDistributor creates a Distributor for the given one-hot flavour mask
// (or 0 to match every tag regardless of flavour).
func NewDistributor(flavourMask uint32) *Distributor {
	return &Distributor{flavour: flavourMask, callbacks: make(map[RequestKey]Callback)}
}

// Subscribe registers cb under key. Re-subscribing the same key replaces
// its callback.
func (d *Distributor) Subscribe(key RequestKey, cb Callback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks[key] = cb
}

// Unsubscribe removes key; the spec's ordering guarantee (§5) requires
// that after this returns, cb is never invoked again for key, which holds
// here because DistributeTag takes a snapshot under the same mutex.
func (d *Distributor) Unsubscribe(key RequestKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.callbacks, key)
}

// Count reports the number of subscribed callbacks.
func (d *Distributor) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.callbacks)
}

// matches reports whether t belongs to this distributor's flavour (or
// whether this is a flavour-agnostic lifecycle distributor).
func (d *Distributor) matches(t *tag.Tag) bool {
	if d.flavour == 0 {
		return true
	}
	// Lifecycle tags such as EOS/SOURCE_STARTED/SOURCE_ENDED carry no
	// flavour of their own and are delivered to every callback regardless
	// of the distributor's flavour (§8 invariant 1 only binds ordinary
	// flavoured tags).
	if t.FlavourMask == 0 {
		return true
	}
	return t.FlavourMask&d.flavour != 0
}

// DistributeTag invokes every subscribed callback whose flavour matches
// t's FlavourMask (§8 invariant 1).
func (d *Distributor) DistributeTag(t *tag.Tag) {
	if !d.matches(t) {
		return
	}
	d.mu.Lock()
	cbs := make([]Callback, 0, len(d.callbacks))
	for _, cb := range d.callbacks {
		cbs = append(cbs, cb)
	}
	d.mu.Unlock()

	for _, cb := range cbs {
		cb(t)
	}
}

// Reset sends a synthetic SOURCE_ENDED downstream to every subscriber and
// is used when an upstream source disappears without formally closing the
// callbacks (§4.5).
func (d *Distributor) Reset(path string) {
	ended := tag.NewSourceEnded(path)
	d.DistributeTag(ended)
}

// CloseAllCallbacks sends EOS(forced) to every subscriber and unregisters
// all of them.
func (d *Distributor) CloseAllCallbacks(forced bool) {
	d.mu.Lock()
	cbs := make([]Callback, 0, len(d.callbacks))
	for _, cb := range d.callbacks {
		cbs = append(cbs, cb)
	}
	d.callbacks = make(map[RequestKey]Callback)
	d.mu.Unlock()

	eos := tag.NewEOS(forced)
	for _, cb := range cbs {
		cb(eos)
	}
}
