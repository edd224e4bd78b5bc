package exporter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/mediacore/internal/graph"
	"github.com/relaycore/mediacore/internal/pipeline"
	"github.com/relaycore/mediacore/internal/tag"
)

// fakeSink records everything SendTag delivers. blocked simulates
// backpressure from the underlying connection's outbuf.
type fakeSink struct {
	sent    []*tag.Tag
	blocked bool
	closed  bool
	played  bool
	reasons []string
}

func (s *fakeSink) CanSendTag() bool { return !s.blocked }
func (s *fakeSink) SetNotifyReady()  {}
func (s *fakeSink) SendTag(t *tag.Tag, streamTimeMs int64) {
	s.sent = append(s.sent, t)
}
func (s *fakeSink) OnStreamNotFound()         { s.reasons = append(s.reasons, "STREAM NOT FOUND") }
func (s *fakeSink) OnAuthorizationFailed()    { s.reasons = append(s.reasons, "AUTHORIZATION FAILED") }
func (s *fakeSink) OnReauthorizationFailed()  { s.reasons = append(s.reasons, "REAUTHORIZATION FAILED") }
func (s *fakeSink) OnTooManyClients()         { s.reasons = append(s.reasons, "TOO MANY REQUESTS") }
func (s *fakeSink) OnPlay()                   { s.played = true }
func (s *fakeSink) OnTerminate(reason string) { s.reasons = append(s.reasons, reason) }
func (s *fakeSink) IsClosed() bool            { return s.closed }

// fakeSource is a minimal graph.Element that records the callback it was
// handed and lets the test push tags directly through it.
type fakeSource struct {
	cb      pipeline.Callback
	removed bool
}

func (f *fakeSource) AddRequest(key pipeline.RequestKey, cb pipeline.Callback) bool {
	f.cb = cb
	return true
}

func (f *fakeSource) RemoveRequest(key pipeline.RequestKey) {
	f.removed = true
	f.cb = nil
}

func newVideoTag(raw int64, droppable, resync bool) *tag.Tag {
	attrs := tag.AttrVideo
	if droppable {
		attrs |= tag.AttrDroppable
	}
	if resync {
		attrs |= tag.AttrCanResync
	}
	t := tag.New(tag.TypeFLV, attrs)
	t.StreamTimeMs = raw
	return t
}

func TestStartRequestPlaysWithoutAuthorizer(t *testing.T) {
	m := graph.NewElementMapper()
	src := &fakeSource{}
	m.Register("live/a", src)

	sink := &fakeSink{}
	exp := New(nil, nil, m, sink, 0)

	req := &graph.Request{Path: "live/a", ServingInfo: graph.ServingInfo{MediaName: "live/a", MaxClients: -1}}
	exp.StartRequest(req)

	assert.True(t, sink.played)
	assert.Equal(t, StatePlaying, exp.State())
	require.NotNil(t, src.cb)
}

func TestStartRequestFailsOnUnknownMedia(t *testing.T) {
	m := graph.NewElementMapper()
	sink := &fakeSink{}
	exp := New(nil, nil, m, sink, 0)

	req := &graph.Request{Path: "live/missing", ServingInfo: graph.ServingInfo{MediaName: "live/missing", MaxClients: -1}}
	exp.StartRequest(req)

	assert.Equal(t, StateClosed, exp.State())
	assert.Contains(t, sink.reasons, "STREAM NOT FOUND")
}

type fakeAuthorizer struct {
	reply graph.AuthReply
}

func (a *fakeAuthorizer) Authorize(req graph.AuthRequest, cb func(graph.AuthReply)) {
	cb(a.reply)
}

func TestStartRequestFailsAuthorization(t *testing.T) {
	m := graph.NewElementMapper()
	src := &fakeSource{}
	m.Register("live/a", src)
	m.RegisterAuthorizer("auth", &fakeAuthorizer{reply: graph.AuthReply{Allowed: false, Reason: "bad token"}})

	sink := &fakeSink{}
	exp := New(nil, nil, m, sink, 0)

	req := &graph.Request{
		Path:        "live/a",
		ServingInfo: graph.ServingInfo{MediaName: "live/a", AuthorizerName: "auth", MaxClients: -1},
	}
	exp.StartRequest(req)

	assert.Equal(t, StateClosed, exp.State())
	assert.Contains(t, sink.reasons, "AUTHORIZATION FAILED")
	assert.Nil(t, src.cb)
}

func TestStartRequestEnforcesMaxClients(t *testing.T) {
	m := graph.NewElementMapper()
	src := &fakeSource{}
	m.Register("live/a", src)
	m.AddExportClient("live/a") // one already connected

	sink := &fakeSink{}
	exp := New(nil, nil, m, sink, 0)

	req := &graph.Request{Path: "live/a", ServingInfo: graph.ServingInfo{MediaName: "live/a", MaxClients: 1}}
	exp.StartRequest(req)

	assert.Equal(t, StateClosed, exp.State())
	assert.Contains(t, sink.reasons, "TOO MANY REQUESTS")
}

// TestRemoveRequestStopsFurtherCallbacks covers invariant 7: after
// RemoveRequest returns, no further tag reaches the sink.
func TestRemoveRequestStopsFurtherCallbacks(t *testing.T) {
	m := graph.NewElementMapper()
	src := &fakeSource{}
	m.Register("live/a", src)

	sink := &fakeSink{}
	exp := New(nil, nil, m, sink, 0)

	req := &graph.Request{Path: "live/a", ServingInfo: graph.ServingInfo{MediaName: "live/a", MaxClients: -1}}
	exp.StartRequest(req)
	require.NotNil(t, src.cb)

	src.cb(newVideoTag(0, true, true))
	assert.Len(t, sink.sent, 1)

	exp.RemoveRequest()
	assert.True(t, src.removed)

	// RemoveRequest made the upstream forget its callback entirely, so
	// there is no longer any way for it to hand this exporter a tag.
	assert.Nil(t, src.cb)
}

// TestFlowControlDropsInterframesNotKeyframes covers scenario S6: once the
// queued backlog exceeds flow_control_video_ms, droppable non-keyframe
// video is dropped, but a keyframe is always delivered and clears the
// drop latch for what follows it.
func TestFlowControlDropsInterframesNotKeyframes(t *testing.T) {
	m := graph.NewElementMapper()
	src := &fakeSource{}
	m.Register("live/a", src)

	sink := &fakeSink{blocked: true} // simulate a backed-up connection
	exp := New(nil, nil, m, sink, 0)

	req := &graph.Request{
		Path:        "live/a",
		ServingInfo: graph.ServingInfo{MediaName: "live/a", MaxClients: -1, FlowControlVideoMs: 100},
	}
	exp.StartRequest(req)
	require.NotNil(t, src.cb)

	src.cb(newVideoTag(0, false, true))    // keyframe, establishes queue origin
	src.cb(newVideoTag(250, true, false))  // interframe, queue span still 0 when judged
	src.cb(newVideoTag(260, true, false))  // interframe, now over budget: dropped
	src.cb(newVideoTag(270, false, true))  // keyframe: always survives, clears latch
	src.cb(newVideoTag(280, true, false))  // interframe, still over budget: dropped

	require.Empty(t, sink.sent, "nothing should have been delivered while blocked")

	stats := exp.Stats()
	assert.Equal(t, int64(3), stats.VideoFramesSent, "both keyframes plus the first interframe were accepted")
	assert.Equal(t, int64(2), stats.VideoFramesDropped, "the two over-budget interframes were dropped")

	sink.blocked = false
	exp.ProcessLocalizedTags()

	require.Len(t, sink.sent, 3)
	assert.Equal(t, int64(0), sink.sent[0].StreamTimeMs)
	assert.Equal(t, int64(250), sink.sent[1].StreamTimeMs)
	assert.Equal(t, int64(270), sink.sent[2].StreamTimeMs)
}

func TestAuthorizerWithoutReauthorizeDoesNotArmAlarms(t *testing.T) {
	m := graph.NewElementMapper()
	src := &fakeSource{}
	m.Register("live/a", src)
	m.RegisterAuthorizer("auth", &fakeAuthorizer{reply: graph.AuthReply{Allowed: true}})

	sink := &fakeSink{}
	exp := New(nil, nil, m, sink, 0)

	req := &graph.Request{
		Path:        "live/a",
		ServingInfo: graph.ServingInfo{MediaName: "live/a", AuthorizerName: "auth", MaxClients: -1},
	}
	exp.StartRequest(req)

	assert.Equal(t, StatePlaying, exp.State())
	assert.False(t, exp.haveReauthorize)
	assert.False(t, exp.haveTerminate)
}
