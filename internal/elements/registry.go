package elements

import (
	"strings"
	"sync"

	"github.com/relaycore/mediacore/internal/graph"
)

// Registry is the default in-process element-graph wiring: it owns one
// LiveSource per published path and registers/unregisters it from a
// graph.ElementMapper as publishers come and go, replacing the teacher's
// RTMPServer map of *RTMPChannel (rtmp_server.go) with a protocol-neutral
// mapper so RTSP publish/play can resolve through the same paths as RTMP.
type Registry struct {
	mapper *graph.ElementMapper

	mu      sync.Mutex
	sources map[string]*LiveSource
	killers map[string]func()
}

// NewRegistry creates a Registry bound to mapper.
func NewRegistry(mapper *graph.ElementMapper) *Registry {
	return &Registry{
		mapper:  mapper,
		sources: make(map[string]*LiveSource),
		killers: make(map[string]func()),
	}
}

// StartPublish creates and registers a LiveSource for path, failing if one
// is already publishing there (the teacher's "Stream already publishing"
// check in HandlePublish). onKill, if non-nil, is invoked by KillPublish to
// tear down the connection feeding this source (the teacher's
// RTMPSession.Kill reached via RTMPServer.GetPublisher).
func (r *Registry) StartPublish(path string, gopCacheLimit int, onKill func()) (*LiveSource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[path]; exists {
		return nil, false
	}

	src := NewLiveSource(gopCacheLimit)
	r.sources[path] = src
	if onKill != nil {
		r.killers[path] = onKill
	}
	r.mapper.Register(path, src)
	return src, true
}

// EndPublish unregisters path's source and closes it, notifying any
// remaining subscribers (the teacher's EndPublish).
func (r *Registry) EndPublish(path string) {
	r.mu.Lock()
	src, exists := r.sources[path]
	if exists {
		delete(r.sources, path)
		delete(r.killers, path)
	}
	r.mu.Unlock()

	if !exists {
		return
	}
	r.mapper.Unregister(path)
	src.Close()
}

// KillPublish satisfies controlplane.KillTarget: it kills the publisher
// under "/channel/key", or every publisher under "/channel/" if key is
// empty, the generalized form of the teacher's RTMPServer.GetPublisher +
// RTMPSession.Kill reached from a coordinator-pushed STREAM-KILL.
func (r *Registry) KillPublish(channel, key string) {
	prefix := "/" + channel + "/"

	r.mu.Lock()
	var kills []func()
	for path, kill := range r.killers {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		if key != "" && path != prefix+key {
			continue
		}
		kills = append(kills, kill)
	}
	r.mu.Unlock()

	for _, kill := range kills {
		kill()
	}
}

// IsPublishing reports whether path currently has a live source, the
// teacher's RTMPServer.isPublishing.
func (r *Registry) IsPublishing(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.sources[path]
	return exists
}

// Source returns the LiveSource currently registered for path, if any.
func (r *Registry) Source(path string) (*LiveSource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, exists := r.sources[path]
	return src, exists
}
