package statshooks

import (
	"context"
	"testing"
	"time"
)

func TestRegistrySnapshotPrefixesBySourceName(t *testing.T) {
	r := New()
	r.Register("foo", func() map[string]int64 { return map[string]int64{"a": 1} })
	r.Register("bar", func() map[string]int64 { return map[string]int64{"b": 2} })

	snap := r.Snapshot()
	if snap["foo.a"] != 1 || snap["bar.b"] != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestRegistryUnregisterRemovesSource(t *testing.T) {
	r := New()
	r.Register("foo", func() map[string]int64 { return map[string]int64{"a": 1} })
	r.Unregister("foo")

	if snap := r.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancel")
	}
}
