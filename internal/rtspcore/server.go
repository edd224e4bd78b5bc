// Listener accept loop, grounded on rtsp_server_processor.cc's
// Connection-per-client model and internal/rtmpcore/server.go's analogous
// RTMP accept loop (same per-IP bookkeeping, same recover-and-log
// connection handler shape).
package rtspcore

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"github.com/relaycore/mediacore/internal/corelog"
)

// Server accepts RTSP/TCP connections and serves DESCRIBE/SETUP/PLAY/
// TEARDOWN requests against media; RECORD is answered 501 Not Implemented.
type Server struct {
	media MediaSource
}

// NewServer builds a Server resolving media paths through media.
func NewServer(media MediaSource) *Server {
	return &Server{media: media}
}

// Serve accepts connections from listener until it's closed, the teacher's
// ServerProcessor wired to a net.Listener instead of net::Selector.
func (s *Server) Serve(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			corelog.ErrorMessage("[RTSP] accept failed: " + err.Error())
			return
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			corelog.ErrorMessage(fmt.Sprintf("[RTSP] connection panic: %v", r))
		}
	}()

	session := NewSession(s.media)
	reader := bufio.NewReader(conn)

	for {
		req, err := ReadRequest(reader)
		if err != nil {
			if err != io.EOF {
				corelog.Debug("[RTSP] read error: " + err.Error())
			}
			return
		}

		resp := session.Handle(req)
		if err := WriteResponse(conn, resp); err != nil {
			corelog.Debug("[RTSP] write error: " + err.Error())
			return
		}

		if req.Method == MethodTeardown {
			return
		}
	}
}
