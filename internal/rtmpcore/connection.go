// ServerConnection drives one RTMP client socket: handshake, chunk
// decode/encode, command dispatch, and the bridge into the element graph
// for publish and into an Exporter for play. Adapted from the teacher's
// RTMPSession (rtmp_session.go) and RTMPSession's publish/play helpers
// (rtmp_publisher.go, rtmp_session_utils.go), generalized to resolve
// through graph.ElementMapper / internal/elements.Registry instead of the
// teacher's in-memory RTMPChannel map (SPEC_FULL.md §4.8).

package rtmpcore

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/relaycore/mediacore/internal/corelog"
	"github.com/relaycore/mediacore/internal/elements"
	"github.com/relaycore/mediacore/internal/exporter"
	"github.com/relaycore/mediacore/internal/graph"
	"github.com/relaycore/mediacore/internal/selector"
)

// PublishCoordinator gates a publish attempt with an external coordinator
// and is told when the session ends, satisfied by *controlplane.Client.
// Left nil, every publish is accepted locally (the teacher's
// stand-alone-mode fallback).
type PublishCoordinator interface {
	RequestPublish(channel, key, userIP string) (accepted bool, streamID string)
	PublishEnd(channel, streamID string) bool
}

// PathValidator rejects channel/key strings the server considers
// malformed, the generalized form of the teacher's validateStreamIDString
// plus its max-length config value.
type PathValidator func(s string) bool

// ServerOptions configures behavior shared across every ServerConnection a
// listener accepts.
type ServerOptions struct {
	Registry           *elements.Registry
	Mapper             *graph.ElementMapper
	ValidatePath       PathValidator
	Coordinator        PublishCoordinator
	GopCacheLimit      int
	MaxWriteAheadMs    int64
	FlowControlVideoMs int64
	FlowControlTotalMs int64
	PingTimeout        time.Duration
	MediaSelector   *selector.Selector // nil runs play delivery synchronously, fine for tests and single-connection setups
	NetSelector     *selector.Selector
}

// ServerConnection owns one accepted net.Conn for its lifetime.
type ServerConnection struct {
	opts ServerOptions
	conn net.Conn
	ip   string
	id   uint64

	mu           sync.Mutex
	outChunkSize uint32
	decoder      *Decoder

	objectEncoding uint32
	connected      bool
	connectTime    int64

	channel string
	key     string

	publishStreamID uint32
	playStreamID    uint32
	streamCount     uint32

	publishing bool
	publishKey string
	streamID   string

	playing  bool
	playExp  *exporter.Exporter
	gopNo    bool
	gopClear bool
}

// NewServerConnection wraps conn for the session identified by id/ip.
func NewServerConnection(conn net.Conn, id uint64, ip string, opts ServerOptions) *ServerConnection {
	if opts.PingTimeout == 0 {
		opts.PingTimeout = RTMP_PING_TIMEOUT * time.Millisecond
	}
	return &ServerConnection{
		opts:         opts,
		conn:         conn,
		id:           id,
		ip:           ip,
		outChunkSize: RTMP_CHUNK_SIZE,
		decoder:      NewDecoder(),
	}
}

// sendSync writes b under the connection's write lock, mirroring
// RTMPSession.SendSync.
func (c *ServerConnection) sendSync(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(b)
	return err
}

// PublishEndNotifier lets the coordinator know a publish session ended,
// satisfied by *controlplane.Client.
type PublishEndNotifier interface {
	PublishEnd(channel, streamID string) bool
}

// Kill closes the underlying socket and tears down any active play/publish
// state (the teacher's RTMPSession.Kill plus its publish/play cleanup).
func (c *ServerConnection) Kill() {
	c.mu.Lock()
	exp := c.playExp
	wasPublishing := c.publishing
	publishKey := c.publishKey
	c.mu.Unlock()

	if exp != nil {
		exp.RemoveRequest()
	}
	if wasPublishing {
		c.endPublish(publishKey)
	}
	c.conn.Close()
}

// streamPath returns "/{channel}/{key}", the teacher's GetStreamPath.
func (c *ServerConnection) streamPath() string {
	return "/" + c.channel + "/" + c.key
}

// Serve performs the handshake then loops reading chunks until the
// connection closes or a protocol error occurs, mirroring
// RTMPSession.HandleSession.
func (c *ServerConnection) Serve() {
	defer c.Kill()

	r := bufio.NewReader(c.conn)

	c.conn.SetReadDeadline(time.Now().Add(c.opts.PingTimeout)) //nolint:errcheck

	version, err := r.ReadByte()
	if err != nil || version != RTMP_VERSION {
		corelog.DebugSession(c.id, c.ip, "invalid handshake version")
		return
	}

	handshakeBytes := make([]byte, RTMP_HANDSHAKE_SIZE)
	if _, err := io.ReadFull(r, handshakeBytes); err != nil {
		return
	}

	s0s1s2 := generateS0S1S2(handshakeBytes)
	if _, err := c.conn.Write(s0s1s2); err != nil {
		return
	}

	s1Copy := make([]byte, RTMP_HANDSHAKE_SIZE)
	if _, err := io.ReadFull(r, s1Copy); err != nil {
		return
	}

	for {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PingTimeout)) //nolint:errcheck
		packet, err := c.decoder.ReadPacket(r)
		if err != nil {
			return
		}
		if !c.handlePacket(packet) {
			return
		}
	}
}

func (c *ServerConnection) handlePacket(p *Packet) bool {
	switch p.Header.PacketType {
	case RTMP_TYPE_SET_CHUNK_SIZE:
		if len(p.Payload) >= 4 {
			c.decoder.SetInChunkSize(beUint32(p.Payload))
		}
	case RTMP_TYPE_WINDOW_ACKNOWLEDGEMENT_SIZE:
		// Acknowledgement-size bookkeeping is not otherwise observable
		// over a LAN/encoder link; the teacher tracks it only to decide
		// when to emit RTMP_TYPE_ACKNOWLEDGEMENT, which is likewise a
		// courtesy to bandwidth-limited clients this module doesn't target.
	case RTMP_TYPE_AUDIO, RTMP_TYPE_VIDEO, RTMP_TYPE_DATA, RTMP_TYPE_FLEX_STREAM:
		return c.handleMediaPacket(p)
	case RTMP_TYPE_INVOKE, RTMP_TYPE_FLEX_MESSAGE:
		return c.handleInvoke(p)
	}
	return true
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (c *ServerConnection) handleMediaPacket(p *Packet) bool {
	c.mu.Lock()
	publishing, publishKey := c.publishing, c.publishKey
	c.mu.Unlock()

	if !publishing {
		return true
	}
	src, ok := c.opts.Registry.Source(publishKey)
	if !ok {
		return true
	}

	src.Publish(TagFromPacket(p))
	return true
}

func (c *ServerConnection) handleInvoke(p *Packet) bool {
	offset := uint32(0)
	if p.Header.PacketType == RTMP_TYPE_FLEX_MESSAGE {
		offset = 1
	}
	if offset >= uint32(len(p.Payload)) {
		return true
	}
	cmd := decodeCommand(p.Payload[offset:])

	switch cmd.Name {
	case "connect":
		return c.handleConnect(&cmd)
	case "createStream":
		return c.handleCreateStream(&cmd)
	case "publish":
		return c.handlePublish(&cmd, p)
	case "play":
		return c.handlePlay(&cmd, p)
	case "pause":
		return c.handlePause(&cmd)
	case "deleteStream", "closeStream":
		return c.handleCloseStream()
	case "receiveAudio", "receiveVideo":
		// Selective audio/video suppression on an existing play session is
		// not wired: this module delivers every flavour the exporter's
		// request caps allow, the same simplification §4.6 already makes
		// for flow control.
	}
	return true
}

func (c *ServerConnection) handleConnect(cmd *Command) bool {
	app := cmd.GetArg("cmdObj").GetProperty("app").GetString()
	if c.opts.ValidatePath != nil && !c.opts.ValidatePath(app) {
		corelog.Request(c.id, c.ip, "INVALID CHANNEL '"+app+"'")
		return false
	}
	c.channel = app
	c.objectEncoding = uint32(cmd.GetArg("cmdObj").GetProperty("objectEncoding").GetInteger())
	c.connected = true
	c.connectTime = time.Now().UnixMilli()

	corelog.Request(c.id, c.ip, "CONNECT '"+c.channel+"'")

	c.sendWindowACK(5000000)
	c.setPeerBandwidth(5000000, 2)
	c.setOutChunkSize(c.outChunkSize)
	c.respondConnect(cmd.GetArg("transId").GetInteger(), !cmd.GetArg("cmdObj").GetProperty("objectEncoding").IsUndefined())
	return true
}

func (c *ServerConnection) handleCreateStream(cmd *Command) bool {
	c.streamCount++
	c.respondCreateStream(cmd.GetArg("transId").GetInteger(), c.streamCount)
	return true
}

func (c *ServerConnection) handlePublish(cmd *Command, p *Packet) bool {
	keyPath := cmd.GetArg("streamName").GetString()
	c.key = strings.Split(keyPath, "?")[0]

	if c.key == "" || !c.connected {
		return true
	}
	if c.opts.ValidatePath != nil && !c.opts.ValidatePath(c.key) {
		c.sendStatusMessage(p.Header.StreamID, "error", "NetStream.Publish.BadName", "Invalid stream key provided")
		return false
	}

	c.publishStreamID = p.Header.StreamID

	if c.publishing {
		c.sendStatusMessage(c.publishStreamID, "error", "NetStream.Publish.BadConnection", "Connection already publishing")
		return true
	}

	corelog.Request(c.id, c.ip, "PUBLISH ("+fmt.Sprint(c.publishStreamID)+") '"+c.channel+"'")

	if c.opts.Coordinator != nil {
		accepted, streamID := c.opts.Coordinator.RequestPublish(c.channel, c.key, c.ip)
		if !accepted {
			corelog.Request(c.id, c.ip, "Error: invalid streaming key provided")
			c.sendStatusMessage(c.publishStreamID, "error", "NetStream.Publish.BadName", "Invalid stream key provided")
			return false
		}
		c.streamID = streamID
	}

	path := c.streamPath()
	if _, ok := c.opts.Registry.StartPublish(path, c.opts.GopCacheLimit, func() { c.Kill() }); !ok {
		c.sendStatusMessage(c.publishStreamID, "error", "NetStream.Publish.BadName", "Stream already publishing")
		return false
	}

	c.mu.Lock()
	c.publishing = true
	c.publishKey = path
	c.mu.Unlock()

	c.sendStatusMessage(c.publishStreamID, "status", "NetStream.Publish.Start", path+" is now published.")
	return true
}

func (c *ServerConnection) handlePlay(cmd *Command, p *Packet) bool {
	keyPath := cmd.GetArg("streamName").GetString()
	parts := strings.SplitN(keyPath, "?", 2)
	c.key = parts[0]
	if len(parts) > 1 {
		params := parsePlayParams(parts[1])
		c.gopNo = params["cache"] == "no"
		c.gopClear = params["cache"] == "clear"
	}

	if c.key == "" || !c.connected {
		return true
	}

	c.playStreamID = p.Header.StreamID

	if c.playing {
		c.sendStatusMessage(c.playStreamID, "error", "NetStream.Play.BadConnection", "Connection already playing")
		return true
	}

	corelog.Request(c.id, c.ip, "PLAY ("+fmt.Sprint(c.playStreamID)+") '"+c.channel+"'")

	c.playing = true
	sink := &playSink{conn: c}
	exp := exporter.New(c.opts.MediaSelector, c.opts.NetSelector, c.opts.Mapper, sink, c.opts.MaxWriteAheadMs)
	c.playExp = exp

	req := &graph.Request{
		Path:      c.streamPath(),
		SessionID: fmt.Sprint(c.id),
		ClientID:  c.ip,
		ServingInfo: graph.ServingInfo{
			MaxClients:         -1,
			FlowControlVideoMs: c.opts.FlowControlVideoMs,
			FlowControlTotalMs: c.opts.FlowControlTotalMs,
		},
	}
	exp.StartRequest(req)
	return true
}

func (c *ServerConnection) handlePause(cmd *Command) bool {
	if c.playExp == nil {
		return true
	}
	// pause is [name, transId, null, flag, ms]: the flag is the value after cmdObj.
	c.playExp.SetPaused(cmd.GetArg("streamName").GetBool()) //nolint:errcheck
	return true
}

func (c *ServerConnection) handleCloseStream() bool {
	if c.playExp != nil {
		c.playExp.RemoveRequest()
		c.playExp = nil
		c.playing = false
	}
	if c.publishing {
		c.endPublish(c.publishKey)
		c.publishing = false
	}
	return true
}

// endPublish unregisters path and, if a coordinator is configured, tells
// it the publish session ended (the teacher's PublishEnd call paired with
// RequestPublish).
func (c *ServerConnection) endPublish(path string) {
	c.opts.Registry.EndPublish(path)
	if c.opts.Coordinator != nil {
		c.opts.Coordinator.PublishEnd(c.channel, c.streamID)
	}
}

// parsePlayParams splits "a=b&c=d" query-like play parameters, the
// teacher's getRTMPParamsSimple.
func parsePlayParams(qs string) map[string]string {
	out := make(map[string]string)
	for _, kv := range strings.Split(qs, "&") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
	}
	return out
}
