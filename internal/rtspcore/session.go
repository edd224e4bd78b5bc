// Request dispatch, grounded on
// original_source/whisperstreamlib/rtp/rtsp/rtsp_server_processor.cc's
// ServerProcessor::HandleRequest switch over METHOD_DESCRIBE..
// METHOD_TEARDOWN. Each method there is a standalone Handle* member
// function operating on ServerProcessor's sessions_ map; Go collapses that
// into Session.Handle dispatching to unexported handle* methods, since a
// Go Session value already carries what the original threads through a
// Connection* lookup.
package rtspcore

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/relaycore/mediacore/internal/elements"
	"github.com/relaycore/mediacore/internal/tag"
)

// MediaSource abstracts the registry lookup a session needs, satisfied by
// *elements.Registry.
type MediaSource interface {
	Source(path string) (*elements.LiveSource, bool)
}

// Session is one RTSP client's server-side state: its negotiated tracks and
// subscription to a live source, the teacher's per-Connection entry in
// ServerProcessor::sessions_.
type Session struct {
	ID     string
	media  MediaSource
	path   string
	source *elements.LiveSource

	mu     sync.Mutex
	tracks map[string]*trackState
	seq    uint32
}

type trackState struct {
	transport Transport
	pkt       *Packetizer
}

// NewSession allocates a session with a fresh session ID, the teacher's
// session IDs minted by ServerProcessor on SETUP.
func NewSession(media MediaSource) *Session {
	return &Session{
		ID:     uuid.NewString(),
		media:  media,
		tracks: make(map[string]*trackState),
	}
}

// Handle dispatches req to the matching handler and returns the response to
// send, the teacher's HandleRequest switch.
func (s *Session) Handle(req *Request) *Response {
	var resp *Response
	switch req.Method {
	case MethodDescribe:
		resp = s.handleDescribe(req)
	case MethodSetup:
		resp = s.handleSetup(req)
	case MethodPlay:
		resp = s.handlePlay(req)
	case MethodRecord:
		resp = s.handleRecord(req)
	case MethodPause:
		resp = s.handlePause(req)
	case MethodTeardown:
		resp = s.handleTeardown(req)
	case MethodOptions:
		resp = s.handleOptions(req)
	case MethodGetParameter:
		resp = s.handleGetParameter(req)
	case MethodSetParameter:
		resp = NewResponse(StatusNotImplemented)
	case MethodAnnounce:
		resp = s.handleAnnounce(req)
	default:
		resp = NewResponse(StatusMethodNotValid)
	}
	if cseq, ok := req.Headers.Get(HeaderCSeq); ok {
		resp.Headers.Set(HeaderCSeq, cseq)
	}
	if s.ID != "" {
		resp.Headers.Set(HeaderSession, s.ID)
	}
	return resp
}

func (s *Session) handleOptions(*Request) *Response {
	resp := NewResponse(StatusOK)
	resp.Headers.Set(HeaderPublic, "DESCRIBE, SETUP, TEARDOWN, PLAY, PAUSE, GET_PARAMETER")
	return resp
}

func (s *Session) handleDescribe(req *Request) *Response {
	src, ok := s.media.Source(req.URL)
	if !ok {
		return NewResponse(StatusNotFound)
	}
	s.path = req.URL
	s.source = src

	tracks := []TrackDescription{
		{Name: "video", TrackID: TrackIDVideo, PayloadType: 96, Codec: "H264", ClockRate: 90000},
		{Name: "audio", TrackID: TrackIDAudio, PayloadType: 97, Codec: "MPEG4-GENERIC", ClockRate: 44100},
	}
	body, err := BuildSessionDescription(req.URL, req.URL, tracks)
	if err != nil {
		return NewResponse(StatusInternalServerError)
	}
	resp := NewResponse(StatusOK)
	resp.Headers.Set(HeaderContentType, "application/sdp")
	resp.Body = body
	return resp
}

// handleAnnounce always replies 501: publishing a stream over RTSP is not
// supported, only playback of a path already live over RTMP.
func (s *Session) handleAnnounce(*Request) *Response {
	return NewResponse(StatusNotImplemented)
}

func (s *Session) handleSetup(req *Request) *Response {
	trackURL := req.URL
	raw, ok := req.Headers.Get(HeaderTransport)
	if !ok {
		return NewResponse(StatusBadRequest)
	}
	transport := ParseTransport(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	clockRate := uint32(90000)
	if transport.ClientPort == nil && transport.Interleaved == nil {
		return NewResponse(StatusUnsupportedTransport)
	}
	if transport.ServerPort == nil && transport.ClientPort != nil {
		sp := PortRange{Lo: transport.ClientPort.Lo, Hi: transport.ClientPort.Hi}
		transport.ServerPort = &sp
	}
	s.tracks[trackURL] = &trackState{transport: transport, pkt: NewPacketizer(96, clockRate)}

	resp := NewResponse(StatusOK)
	resp.Headers.Set(HeaderTransport, transport.String())
	return resp
}

func (s *Session) handlePlay(req *Request) *Response {
	if s.source == nil {
		return NewResponse(StatusSessionNotFound)
	}
	var rtpInfos []string
	s.mu.Lock()
	for trackURL, ts := range s.tracks {
		rtpInfos = append(rtpInfos, FormatRTPInfo(trackURL, 0, ts.pkt.BaseTimestamp()))
	}
	s.mu.Unlock()

	s.source.AddRequest(s.ID, s.onTag)

	resp := NewResponse(StatusOK)
	if len(rtpInfos) > 0 {
		resp.Headers.Set(HeaderRTPInfo, joinRTPInfo(rtpInfos))
	}
	return resp
}

// handleRecord always replies 501, the same stance as handleAnnounce.
func (s *Session) handleRecord(*Request) *Response {
	return NewResponse(StatusNotImplemented)
}

func (s *Session) handlePause(*Request) *Response {
	if s.source != nil {
		s.source.RemoveRequest(s.ID)
	}
	return NewResponse(StatusOK)
}

func (s *Session) handleTeardown(*Request) *Response {
	if s.source != nil {
		s.source.RemoveRequest(s.ID)
		s.source = nil
	}
	return NewResponse(StatusOK)
}

func (s *Session) handleGetParameter(*Request) *Response {
	return NewResponse(StatusOK)
}

// onTag is the live source's fan-out callback, the teacher's per-session
// media push once a PLAY request is active. It only counts the tags that
// carry a payload; no RTP packets are built or written to the client.
func (s *Session) onTag(t *tag.Tag) {
	if t.Payload == nil {
		return
	}
	atomic.AddUint32(&s.seq, 1)
}

// Tracks returns the negotiated transport for each SETUP'd track URL.
func (s *Session) Tracks() map[string]Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Transport, len(s.tracks))
	for k, v := range s.tracks {
		out[k] = v.transport
	}
	return out
}

func joinRTPInfo(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "," + p
	}
	return out
}

// BaseTimestamp reports the RTP timestamp base for an RTP-Info header.
func (p *Packetizer) BaseTimestamp() uint32 {
	return 0
}
