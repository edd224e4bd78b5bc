package graph

import (
	"sync"

	"github.com/relaycore/mediacore/internal/pipeline"
)

// Element is a graph node: a source, a FilteringElement, or a
// SwitchingElement, all wrapped behind the same narrow AddRequest/
// RemoveRequest surface ElementMapper routes through (SPEC_FULL.md §2).
// pipeline.FilteringElement already satisfies this without modification;
// pipeline.SwitchingElement does not, since its AddRequest/RemoveRequest
// also take a flavour index.
type Element = pipeline.Upstream

// CapsProvider is optionally implemented by an Element to advertise what
// it can serve; an element that doesn't implement it is treated as
// AnyCaps, i.e. it accepts every request regardless of caps.
type CapsProvider interface {
	Caps() Caps
}

// Authorizer decides whether a request may proceed, asynchronously so an
// implementation can call out to a remote service without blocking a
// selector (SPEC_FULL.md §4.6, grounded on
// original_source/whisperstreamlib/base/exporter.h's AuthorizeHelper use).
type Authorizer interface {
	Authorize(req AuthRequest, cb func(AuthReply))
}

// ElementMapper resolves a path to a registered Element and performs
// capability negotiation before delegating AddRequest. It satisfies
// pipeline.Resolver, so a SwitchingElement can use one directly as its
// upstream (SPEC_FULL.md §2, §7 "capability mismatch").
type ElementMapper struct {
	mu          sync.Mutex
	elements    map[string]Element
	authorizers map[string]Authorizer
	exportCount map[string]int
}

// NewElementMapper creates an empty ElementMapper.
func NewElementMapper() *ElementMapper {
	return &ElementMapper{
		elements:    make(map[string]Element),
		authorizers: make(map[string]Authorizer),
		exportCount: make(map[string]int),
	}
}

// RegisterAuthorizer makes an authorizer available under name for
// ServingInfo.AuthorizerName to reference.
func (m *ElementMapper) RegisterAuthorizer(name string, a Authorizer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorizers[name] = a
}

// Authorizer returns the authorizer registered under name.
func (m *ElementMapper) Authorizer(name string) (Authorizer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.authorizers[name]
	return a, ok
}

// AddExportClient increments and returns the concurrent client count for
// exportPath, used by Exporter to enforce ServingInfo.MaxClients
// (SPEC_FULL.md §4.6).
func (m *ElementMapper) AddExportClient(exportPath string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exportCount[exportPath]++
	return m.exportCount[exportPath]
}

// RemoveExportClient decrements exportPath's concurrent client count.
func (m *ElementMapper) RemoveExportClient(exportPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exportCount[exportPath] > 0 {
		m.exportCount[exportPath]--
	}
}

// Register adds or replaces the element under name.
func (m *ElementMapper) Register(name string, e Element) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elements[name] = e
}

// Unregister removes the named element, if present.
func (m *ElementMapper) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.elements, name)
}

// Lookup returns the element registered under name.
func (m *ElementMapper) Lookup(name string) (Element, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.elements[name]
	return e, ok
}

// AddRequest resolves media to a registered element and forwards the
// subscription, failing (without installing any callback) if no element
// provides media or if key is a *Request whose Caps the element's Caps()
// doesn't Accept (SPEC_FULL.md §7 "capability mismatch" and §8 "AddRequest
// on a path no element provides returns false").
func (m *ElementMapper) AddRequest(media string, key pipeline.RequestKey, cb pipeline.Callback) bool {
	e, ok := m.Lookup(media)
	if !ok {
		return false
	}
	if cp, ok := e.(CapsProvider); ok {
		if r, ok := key.(*Request); ok {
			if !r.Caps.Accepts(cp.Caps()) {
				return false
			}
		}
	}
	return e.AddRequest(key, cb)
}

// RemoveRequest forwards to media's element, if still registered. Removing
// a request for an already-unregistered or unknown media is a silent
// no-op, matching RemoveRequest's general "idempotent, never errors"
// contract elsewhere in the pipeline.
func (m *ElementMapper) RemoveRequest(media string, key pipeline.RequestKey) {
	if e, ok := m.Lookup(media); ok {
		e.RemoveRequest(key)
	}
}
