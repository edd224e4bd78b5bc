package pipeline

import (
	"sync"

	"github.com/relaycore/mediacore/internal/tag"
)

// Upstream is the narrow interface a FilteringElement needs from whatever
// it subscribes to: add/remove a per-request callback. graph.Element
// satisfies this.
type Upstream interface {
	AddRequest(key RequestKey, cb Callback) bool
	RemoveRequest(key RequestKey)
}

// Filter is implemented by concrete filtering elements (rate limiters,
// path rewriters, ad-splicers, ...) to transform one tag into zero or more
// replacement tags (SPEC_FULL.md §4.5).
type Filter interface {
	// FilterTag transforms t (already stream-clock-normalized to
	// streamTimeMs) and appends zero or more replacement tags to out.
	// Returning no tags drops t.
	FilterTag(t *tag.Tag, streamTimeMs int64, out *[]*tag.Tag)
}

// CallbackData is the per-request state a FilteringElement keeps for one
// downstream subscriber.
type CallbackData struct {
	mu      sync.Mutex
	name    string
	cb      Callback
	filter  Filter
}

// FilteringElement is the base for per-client stateful transformations. It
// subscribes to an upstream path under its own name, rewrites
// SOURCE_STARTED/SOURCE_ENDED path tags by prepending its name (unless
// IsFinal), and delegates the transform to a Filter supplied per-request
// by CreateCallbackData (SPEC_FULL.md §4.5).
type FilteringElement struct {
	Name string

	mu        sync.Mutex
	upstream  Upstream
	callbacks map[RequestKey]*CallbackData

	// CreateCallbackData is supplied by the concrete subclass to produce a
	// fresh Filter per request.
	CreateCallbackData func(key RequestKey) Filter
}

// NewFilteringElement creates a FilteringElement named name, wired to
// upstream.
func NewFilteringElement(name string, upstream Upstream, createFilter func(RequestKey) Filter) *FilteringElement {
	return &FilteringElement{
		Name:                name,
		upstream:            upstream,
		callbacks:           make(map[RequestKey]*CallbackData),
		CreateCallbackData:  createFilter,
	}
}

// AddRequest subscribes key to this element, installing downstream
// callback cb; it forwards the subscription upstream on first use.
func (f *FilteringElement) AddRequest(key RequestKey, cb Callback) bool {
	f.mu.Lock()
	if _, exists := f.callbacks[key]; exists {
		f.mu.Unlock()
		return true
	}
	cd := &CallbackData{name: f.Name, cb: cb, filter: f.CreateCallbackData(key)}
	f.callbacks[key] = cd
	f.mu.Unlock()

	ok := f.upstream.AddRequest(key, func(t *tag.Tag) {
		f.onUpstreamTag(key, cd, t)
	})
	if !ok {
		f.mu.Lock()
		delete(f.callbacks, key)
		f.mu.Unlock()
	}
	return ok
}

// RemoveRequest unsubscribes key from both this element and its upstream.
// After this returns, cb is never invoked again for key (SPEC_FULL.md
// §5, §8 invariant 7).
func (f *FilteringElement) RemoveRequest(key RequestKey) {
	f.mu.Lock()
	delete(f.callbacks, key)
	f.mu.Unlock()
	f.upstream.RemoveRequest(key)
}

func (f *FilteringElement) onUpstreamTag(key RequestKey, cd *CallbackData, t *tag.Tag) {
	var rewritten *tag.Tag
	switch t.Type {
	case tag.TypeSourceStarted, tag.TypeSourceEnded:
		if !t.IsFinal {
			rewritten = t.WithPathPrefix(f.Name)
		} else {
			rewritten = t
		}
	default:
		rewritten = t
	}

	var out []*tag.Tag
	cd.mu.Lock()
	cd.filter.FilterTag(rewritten, rewritten.StreamTimeMs, &out)
	cd.mu.Unlock()

	for _, ot := range out {
		cd.cb(ot)
	}
}

// PassthroughFilter is a Filter that forwards every tag unchanged,
// suitable as CreateCallbackData's default for simple relaying elements.
type PassthroughFilter struct{}

func (PassthroughFilter) FilterTag(t *tag.Tag, _ int64, out *[]*tag.Tag) {
	*out = append(*out, t)
}
