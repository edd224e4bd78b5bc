// Listener-level bookkeeping: accepting sockets, per-IP concurrency
// limiting, and the idle-ping sweep. Adapted from the teacher's
// RTMPServer (rtmp_server.go), generalized so the publish/play registry
// lives in *elements.Registry instead of RTMPServer's own channel map.

package rtmpcore

import (
	"net"
	"sync"
	"time"

	"github.com/netdata/go.d.plugin/pkg/iprange"

	"github.com/relaycore/mediacore/internal/corelog"
)

// Server accepts connections on one or more listeners and hands each off
// to a ServerConnection, enforcing a per-source-IP concurrency cap.
type Server struct {
	opts     ServerOptions
	makeConn func(conn net.Conn, id uint64, ip string) *ServerConnection

	mu                sync.Mutex
	sessions          map[uint64]*ServerConnection
	nextID            uint64
	ipMu              sync.Mutex
	ipCount           map[string]uint32
	ipLimit           uint32
	whitelist         []iprange.Range
	wildcardWhitelist bool
	closed            bool
	pingPeriod        time.Duration
}

// NewServer builds a Server. ipLimit is the teacher's
// MAX_IP_CONCURRENT_CONNECTIONS (0 disables limiting); whitelistCIDRs is
// the teacher's CONCURRENT_LIMIT_WHITELIST, comma-separated CIDR ranges,
// or "*" to exempt every source IP.
func NewServer(opts ServerOptions, ipLimit uint32, whitelistCIDRs string, pingPeriod time.Duration) *Server {
	if pingPeriod == 0 {
		pingPeriod = RTMP_PING_TIME * time.Millisecond
	}

	s := &Server{
		opts:       opts,
		sessions:   make(map[uint64]*ServerConnection),
		nextID:     1,
		ipCount:    make(map[string]uint32),
		ipLimit:    ipLimit,
		pingPeriod: pingPeriod,
	}
	s.makeConn = func(conn net.Conn, id uint64, ip string) *ServerConnection {
		return NewServerConnection(conn, id, ip, s.opts)
	}

	if whitelistCIDRs != "" && whitelistCIDRs != "*" {
		for _, part := range splitNonEmpty(whitelistCIDRs, ',') {
			r, err := iprange.ParseRange(part)
			if err != nil {
				corelog.Error(err)
				continue
			}
			s.whitelist = append(s.whitelist, r)
		}
	}
	s.wildcardWhitelist = whitelistCIDRs == "*"

	return s
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func (s *Server) isIPExempted(ipStr string) bool {
	if s.wildcardWhitelist {
		return true
	}
	if len(s.whitelist) == 0 {
		return false
	}
	ip := net.ParseIP(ipStr)
	for _, r := range s.whitelist {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

func (s *Server) addIP(ip string) bool {
	s.ipMu.Lock()
	defer s.ipMu.Unlock()

	if s.ipLimit == 0 {
		return true
	}

	c := s.ipCount[ip]
	if c >= s.ipLimit {
		return false
	}
	s.ipCount[ip] = c + 1
	return true
}

func (s *Server) removeIP(ip string) {
	s.ipMu.Lock()
	defer s.ipMu.Unlock()

	c := s.ipCount[ip]
	if c <= 1 {
		delete(s.ipCount, ip)
	} else {
		s.ipCount[ip] = c - 1
	}
}

func (s *Server) nextSessionID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	return id
}

func (s *Server) addSession(c *ServerConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[c.id] = c
}

func (s *Server) removeSession(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Serve accepts connections on listener until it errors or Close is
// called, the teacher's AcceptConnections.
func (s *Server) Serve(listener net.Listener) {
	defer listener.Close() //nolint:errcheck

	for {
		conn, err := listener.Accept()
		if err != nil {
			if !s.closed {
				corelog.Error(err)
			}
			return
		}
		if s.closed {
			conn.Close() //nolint:errcheck
			return
		}

		id := s.nextSessionID()
		ip := remoteIP(conn)

		if !s.isIPExempted(ip) {
			if !s.addIP(ip) {
				conn.Close() //nolint:errcheck
				corelog.Request(id, ip, "Connection rejected: Too many requests")
				continue
			}
		}

		corelog.DebugSession(id, ip, "Connection accepted!")
		go s.handleConnection(id, ip, conn)
	}
}

func remoteIP(conn net.Conn) string {
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	return conn.RemoteAddr().String()
}

func (s *Server) handleConnection(id uint64, ip string, conn net.Conn) {
	c := s.makeConn(conn, id, ip)
	s.addSession(c)

	defer func() {
		if r := recover(); r != nil {
			corelog.Request(id, ip, "Connection crashed: "+fmtRecover(r))
		}
		conn.Close() //nolint:errcheck
		s.removeSession(id)
		s.removeIP(ip)
		corelog.DebugSession(id, ip, "Connection closed!")
	}()

	c.Serve()
}

func fmtRecover(r any) string {
	switch x := r.(type) {
	case string:
		return x
	case error:
		return x.Error()
	default:
		return "unknown panic"
	}
}

// PingLoop pings every open connection every pingPeriod, the teacher's
// SendPings, until Close is called.
func (s *Server) PingLoop() {
	for !s.closed {
		time.Sleep(s.pingPeriod)

		s.mu.Lock()
		for _, c := range s.sessions {
			c.sendPingRequest()
		}
		s.mu.Unlock()
	}
}

// Close marks the server closed so Serve/PingLoop stop on their next
// iteration; it does not forcibly close open sockets.
func (s *Server) Close() {
	s.closed = true
}

// OutChunkSize mirrors the teacher's getOutChunkSize: a configured size
// only takes effect when it is larger than the protocol default.
func OutChunkSize(configured uint32) uint32 {
	if configured <= RTMP_CHUNK_SIZE {
		return RTMP_CHUNK_SIZE
	}
	return configured
}
