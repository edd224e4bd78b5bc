// playSink implements exporter.Sink on top of a ServerConnection's socket,
// the RTMP side of what the teacher's RTMPSession.SendCachePacket/
// RespondPlay/SendStatusMessage do directly inline.

package rtmpcore

import (
	"sync/atomic"

	"github.com/relaycore/mediacore/internal/tag"
)

type playSink struct {
	conn   *ServerConnection
	closed int32
}

// CanSendTag reports true until the sink is closed: writes go straight to the TCP socket,
// whose own send buffer provides the backpressure a selector-driven sink
// would otherwise track explicitly.
func (s *playSink) CanSendTag() bool { return atomic.LoadInt32(&s.closed) == 0 }

func (s *playSink) SetNotifyReady() {}

func (s *playSink) SendTag(t *tag.Tag, streamTimeMs int64) {
	p := PacketFromTag(t, s.conn.playStreamID)
	p.Header.Timestamp = streamTimeMs
	s.conn.sendSync(p.CreateChunks(int(s.conn.outChunkSize))) //nolint:errcheck
}

func (s *playSink) OnStreamNotFound() {
	s.conn.sendStatusMessage(s.conn.playStreamID, "error", "NetStream.Play.StreamNotFound", "No such stream")
	s.close()
}

func (s *playSink) OnAuthorizationFailed() {
	s.conn.sendStatusMessage(s.conn.playStreamID, "error", "NetStream.Play.Unauthorized", "Not authorized")
	s.close()
}

func (s *playSink) OnReauthorizationFailed() {
	s.conn.sendStatusMessage(s.conn.playStreamID, "error", "NetStream.Play.Unauthorized", "Reauthorization failed")
	s.close()
}

func (s *playSink) OnTooManyClients() {
	s.conn.sendStatusMessage(s.conn.playStreamID, "error", "NetStream.Play.InsufficientBW", "Too many clients")
	s.close()
}

func (s *playSink) OnPlay() {
	s.conn.respondPlay(s.conn.playStreamID)
}

func (s *playSink) OnTerminate(reason string) {
	s.conn.sendStatusMessage(s.conn.playStreamID, "status", "NetStream.Play.Stop", reason)
	s.close()
}

func (s *playSink) IsClosed() bool { return atomic.LoadInt32(&s.closed) != 0 }

func (s *playSink) close() {
	atomic.StoreInt32(&s.closed, 1)
}
