package pipeline

import "github.com/relaycore/mediacore/internal/tag"

// Normalizer produces a monotonically non-decreasing stream clock across
// discontinuous upstream sources (SPEC_FULL.md §3.2, §4.5, §8 invariant 4).
//
// SOURCE_STARTED resets the per-source origin; stream_time_ms keeps
// advancing by the positive delta to the previous tag's timestamp, clamped
// to zero if the upstream jumps backwards, and is further bounded by
// MaxWriteAheadMs relative to wall-clock time to give the Exporter's flow
// control something to push back against (§4.6).
type Normalizer struct {
	lastTagTs          int64
	streamTimeMs       int64
	lastSourceStarted  int64
	haveLastTag        bool
	maxWriteAheadMs    int64
	started            int64 // wall-clock ms at which this normalizer's clock origin was set
}

// NewNormalizer creates a Normalizer. maxWriteAheadMs <= 0 disables the
// write-ahead bound.
func NewNormalizer(maxWriteAheadMs int64) *Normalizer {
	return &Normalizer{maxWriteAheadMs: maxWriteAheadMs}
}

// Process stamps t.StreamTimeMs and returns the possibly-adjusted tag. It
// must be called on every tag in source order for one request, including
// SOURCE_STARTED/SOURCE_ENDED/EOS markers, since those drive origin resets.
func (n *Normalizer) Process(t *tag.Tag, rawTimestampMs int64, nowWallMs int64) *tag.Tag {
	switch t.Type {
	case tag.TypeSourceStarted:
		n.lastSourceStarted = rawTimestampMs
		n.haveLastTag = false
		t.StreamTimeMs = n.streamTimeMs
		return t
	}

	if !n.haveLastTag {
		n.lastTagTs = rawTimestampMs
		n.haveLastTag = true
		t.StreamTimeMs = n.streamTimeMs
		return t
	}

	delta := rawTimestampMs - n.lastTagTs
	if delta < 0 {
		delta = 0 // clamp backwards jump, §4.5
	}
	n.streamTimeMs += delta
	n.lastTagTs = rawTimestampMs

	if n.maxWriteAheadMs > 0 && nowWallMs > 0 {
		limit := nowWallMs + n.maxWriteAheadMs
		if n.streamTimeMs > limit {
			n.streamTimeMs = limit
		}
	}

	t.StreamTimeMs = n.streamTimeMs
	return t
}

// StreamTimeMs reports the current cumulative stream clock.
func (n *Normalizer) StreamTimeMs() int64 { return n.streamTimeMs }

// AheadOfWallClockMs reports how far the normalizer's clock has advanced
// past nowWallMs (0 if it has not), a write-ahead measure for back-pressure
// decisions (§4.5, §4.6).
func (n *Normalizer) AheadOfWallClockMs(nowWallMs int64) int64 {
	d := n.streamTimeMs - nowWallMs
	if d < 0 {
		return 0
	}
	return d
}
