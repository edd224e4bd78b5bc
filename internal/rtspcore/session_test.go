package rtspcore

import (
	"testing"

	"github.com/relaycore/mediacore/internal/elements"
	"github.com/relaycore/mediacore/internal/graph"
)

func newTestRegistry() *elements.Registry {
	return elements.NewRegistry(graph.NewElementMapper())
}

func newCSeqRequest(method Method, url string) *Request {
	h := NewHeaders()
	h.Set(HeaderCSeq, "1")
	return &Request{Method: method, URL: url, Version: "1.0", Headers: h}
}

func TestSessionDescribeUnknownPathReturnsNotFound(t *testing.T) {
	s := NewSession(newTestRegistry())
	resp := s.Handle(newCSeqRequest(MethodDescribe, "/live/missing"))
	if resp.Status != StatusNotFound {
		t.Fatalf("status = %v", resp.Status)
	}
}

func TestSessionDescribePublishedPathReturnsSDP(t *testing.T) {
	reg := newTestRegistry()
	reg.StartPublish("/live/ch1", 64, nil)

	s := NewSession(reg)
	resp := s.Handle(newCSeqRequest(MethodDescribe, "/live/ch1"))

	if resp.Status != StatusOK {
		t.Fatalf("status = %v", resp.Status)
	}
	if ct, _ := resp.Headers.Get(HeaderContentType); ct != "application/sdp" {
		t.Fatalf("content-type = %q", ct)
	}
	if len(resp.Body) == 0 {
		t.Fatal("expected non-empty SDP body")
	}
}

func TestSessionSetupRejectsMissingTransport(t *testing.T) {
	s := NewSession(newTestRegistry())
	resp := s.Handle(newCSeqRequest(MethodSetup, "/live/ch1/trackID=0"))
	if resp.Status != StatusBadRequest {
		t.Fatalf("status = %v", resp.Status)
	}
}

func TestSessionSetupNegotiatesTransport(t *testing.T) {
	s := NewSession(newTestRegistry())
	req := newCSeqRequest(MethodSetup, "/live/ch1/trackID=0")
	req.Headers.Set(HeaderTransport, "RTP/AVP;unicast;client_port=6000-6001")

	resp := s.Handle(req)
	if resp.Status != StatusOK {
		t.Fatalf("status = %v", resp.Status)
	}
	tracks := s.Tracks()
	tr, ok := tracks["/live/ch1/trackID=0"]
	if !ok {
		t.Fatal("expected track to be registered")
	}
	if tr.ClientPort == nil || tr.ServerPort == nil {
		t.Fatalf("expected client and server ports set: %+v", tr)
	}
}

func TestSessionPlayWithoutDescribeFails(t *testing.T) {
	s := NewSession(newTestRegistry())
	resp := s.Handle(newCSeqRequest(MethodPlay, "/live/ch1"))
	if resp.Status != StatusSessionNotFound {
		t.Fatalf("status = %v", resp.Status)
	}
}

func TestSessionResponseCarriesCSeqAndSession(t *testing.T) {
	s := NewSession(newTestRegistry())
	resp := s.Handle(newCSeqRequest(MethodOptions, "*"))
	if cseq, _ := resp.Headers.Get(HeaderCSeq); cseq != "1" {
		t.Fatalf("cseq = %q", cseq)
	}
	if sess, _ := resp.Headers.Get(HeaderSession); sess != s.ID {
		t.Fatalf("session = %q, want %q", sess, s.ID)
	}
}

func TestSessionOptionsAdvertisesPlaybackMethodsOnly(t *testing.T) {
	s := NewSession(newTestRegistry())
	resp := s.Handle(newCSeqRequest(MethodOptions, "*"))
	if resp.Status != StatusOK {
		t.Fatalf("status = %v", resp.Status)
	}
	const want = "DESCRIBE, SETUP, TEARDOWN, PLAY, PAUSE, GET_PARAMETER"
	if got, _ := resp.Headers.Get(HeaderPublic); got != want {
		t.Fatalf("Public = %q, want %q", got, want)
	}
}

func TestSessionAnnounceIsNotImplemented(t *testing.T) {
	s := NewSession(newTestRegistry())
	resp := s.Handle(newCSeqRequest(MethodAnnounce, "/live/ch1"))
	if resp.Status != StatusNotImplemented {
		t.Fatalf("status = %v, want StatusNotImplemented", resp.Status)
	}
}

func TestSessionRecordIsNotImplemented(t *testing.T) {
	s := NewSession(newTestRegistry())
	resp := s.Handle(newCSeqRequest(MethodRecord, "/live/ch1"))
	if resp.Status != StatusNotImplemented {
		t.Fatalf("status = %v, want StatusNotImplemented", resp.Status)
	}
}

func TestSessionSetParameterIsNotImplemented(t *testing.T) {
	s := NewSession(newTestRegistry())
	resp := s.Handle(newCSeqRequest(MethodSetParameter, "/live/ch1"))
	if resp.Status != StatusNotImplemented {
		t.Fatalf("status = %v, want StatusNotImplemented", resp.Status)
	}
}
