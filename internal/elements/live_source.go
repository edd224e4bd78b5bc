// Package elements holds the concrete Element implementations that get
// registered into a graph.ElementMapper: live sources fed by a publishing
// connection, and the default in-process mapper wiring that replaces the
// teacher's RTMPChannel/RTMPServer bookkeeping (SPEC_FULL.md §4.8).
package elements

import (
	"sync"

	"github.com/relaycore/mediacore/internal/graph"
	"github.com/relaycore/mediacore/internal/pipeline"
	"github.com/relaycore/mediacore/internal/tag"
)

// LiveSource is the Element a publishing connection feeds tags into. Late
// subscribers receive the most recent metadata tag, the most recent
// audio/video sequence headers, and the tags accumulated since the last
// keyframe, mirroring the teacher's rtmpGopCache replay in
// rtmp_publisher.go's StartIdlePlayers/StartPlayer.
type LiveSource struct {
	mu     sync.Mutex
	dist   *pipeline.Distributor
	closed bool

	gopCacheLimit int
	gopCache      []*tag.Tag

	metadata  *tag.Tag
	audioSeq  *tag.Tag
	videoSeq  *tag.Tag
}

// NewLiveSource creates a LiveSource whose GOP replay buffer holds up to
// gopCacheLimit tags since the last keyframe (0 disables GOP replay,
// matching a publish request with cache=no).
func NewLiveSource(gopCacheLimit int) *LiveSource {
	return &LiveSource{
		dist:          pipeline.NewDistributor(0),
		gopCacheLimit: gopCacheLimit,
	}
}

// Caps advertises no restriction; an RTMP/RTSP play request's caps are
// matched against this only to reject media the element plain can't carry,
// and a live source carries whatever its publisher sends.
func (s *LiveSource) Caps() graph.Caps { return graph.AnyCaps }

// AddRequest subscribes cb and immediately replays cached sequence
// headers, the last metadata tag, and the current GOP so a late join does
// not have to wait for the next keyframe to render anything.
func (s *LiveSource) AddRequest(key pipeline.RequestKey, cb pipeline.Callback) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.dist.Subscribe(key, cb)
	replay := s.replaySnapshot()
	s.mu.Unlock()

	for _, t := range replay {
		cb(t)
	}
	return true
}

// RemoveRequest unsubscribes key.
func (s *LiveSource) RemoveRequest(key pipeline.RequestKey) {
	s.dist.Unsubscribe(key)
}

// replaySnapshot builds the ordered list of cached tags to hand a new
// subscriber, called with mu held.
func (s *LiveSource) replaySnapshot() []*tag.Tag {
	var out []*tag.Tag
	if s.metadata != nil {
		out = append(out, s.metadata)
	}
	if s.audioSeq != nil {
		out = append(out, s.audioSeq)
	}
	if s.videoSeq != nil && (len(s.gopCache) == 0 || s.gopCache[0] != s.videoSeq) {
		out = append(out, s.videoSeq)
	}
	out = append(out, s.gopCache...)
	return out
}

// Publish hands one tag from the publishing connection to every current
// subscriber, updating the replay caches first.
func (s *LiveSource) Publish(t *tag.Tag) {
	s.mu.Lock()
	switch {
	case t.IsMetadata() && !t.IsAudio() && !t.IsVideo():
		s.metadata = t
	case t.IsAudio() && t.IsMetadata():
		s.audioSeq = t
	case t.IsVideo() && t.Attributes()&tag.AttrCanResync != 0 && len(s.gopCache) == 0:
		s.videoSeq = t
	}

	if s.gopCacheLimit > 0 {
		if t.IsVideo() && t.CanResync() {
			s.gopCache = s.gopCache[:0]
		}
		if len(s.gopCache) < s.gopCacheLimit {
			s.gopCache = append(s.gopCache, t)
		}
	}
	s.mu.Unlock()

	s.dist.DistributeTag(t)
}

// Close tells every subscriber the source is gone, matching the teacher's
// EndPublish notifying idle/playing sessions via NetStream.Play.UnpublishNotify.
func (s *LiveSource) Close() {
	s.mu.Lock()
	s.closed = true
	s.gopCache = nil
	s.metadata = nil
	s.audioSeq = nil
	s.videoSeq = nil
	s.mu.Unlock()

	s.dist.CloseAllCallbacks(false)
}

// SubscriberCount reports how many requests are currently attached,
// mirroring the teacher's GetPlayers/GetIdlePlayers count used to decide
// whether a channel is idle.
func (s *LiveSource) SubscriberCount() int {
	return s.dist.Count()
}
