package rtmpcore

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/relaycore/mediacore/internal/elements"
	"github.com/relaycore/mediacore/internal/graph"
	"github.com/stretchr/testify/require"
)

// fakeClient drives one half of a net.Pipe the way an RTMP encoder or
// player would: handshake, then send/receive chunk-stream packets.
type fakeClient struct {
	conn    net.Conn
	decoder *Decoder
}

func newFakeClient(t *testing.T, conn net.Conn) *fakeClient {
	t.Helper()
	c := &fakeClient{conn: conn, decoder: NewDecoder()}

	sig := make([]byte, RTMP_HANDSHAKE_SIZE)
	_, err := conn.Write(append([]byte{RTMP_VERSION}, sig...))
	require.NoError(t, err)

	resp := make([]byte, 1+RTMP_SIG_SIZE*2)
	_, err = io.ReadFull(conn, resp)
	require.NoError(t, err)

	_, err = conn.Write(sig)
	require.NoError(t, err)

	return c
}

func (c *fakeClient) sendInvoke(streamID uint32, cmd Command) {
	p := Packet{Header: PacketHeader{
		Fmt:        RTMP_CHUNK_TYPE_0,
		Cid:        RTMP_CHANNEL_INVOKE,
		PacketType: RTMP_TYPE_INVOKE,
		StreamID:   streamID,
	}}
	payload := cmd.Encode()
	p.Header.Length = uint32(len(payload))
	p.Payload = payload
	c.conn.Write(p.CreateChunks(RTMP_CHUNK_SIZE)) //nolint:errcheck
}

func (c *fakeClient) sendVideo(streamID uint32, timestamp int64, payload []byte) {
	p := Packet{Header: PacketHeader{
		Fmt:        RTMP_CHUNK_TYPE_0,
		Cid:        RTMP_CHANNEL_VIDEO,
		PacketType: RTMP_TYPE_VIDEO,
		StreamID:   streamID,
		Timestamp:  timestamp,
		Length:     uint32(len(payload)),
	}, Payload: payload}
	c.conn.Write(p.CreateChunks(RTMP_CHUNK_SIZE)) //nolint:errcheck
}

func (c *fakeClient) readPacket() (*Packet, error) {
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	return c.decoder.ReadPacket(c.conn)
}

func connectCmd(app string) Command {
	cmdObj := createAMF0Value(AMF0_TYPE_OBJECT)
	cmdObj.obj_val = make(map[string]*AMF0Value)
	appVal := newStringValue(app)
	cmdObj.obj_val["app"] = &appVal
	transId := newNumberValue(1)
	return Command{Name: "connect", Arguments: map[string]*AMF0Value{
		"transId": &transId,
		"cmdObj":  &cmdObj,
	}}
}

func streamNameCmd(name, streamName string) Command {
	transId := newNumberValue(2)
	cmdObj := createAMF0Value(AMF0_TYPE_NULL)
	streamVal := newStringValue(streamName)
	return Command{Name: name, Arguments: map[string]*AMF0Value{
		"transId":    &transId,
		"cmdObj":     &cmdObj,
		"streamName": &streamVal,
	}}
}

func newTestOpts() (ServerOptions, *graph.ElementMapper) {
	mapper := graph.NewElementMapper()
	reg := elements.NewRegistry(mapper)
	return ServerOptions{
		Registry:    reg,
		Mapper:      mapper,
		GopCacheLimit: 16,
		PingTimeout: 5 * time.Second,
	}, mapper
}

func TestPublishThenPlayDeliversVideoTag(t *testing.T) {
	opts, _ := newTestOpts()

	pubServerConn, pubClientConn := net.Pipe()
	pub := NewServerConnection(pubServerConn, 1, "127.0.0.1", opts)
	go pub.Serve()

	pubClient := newFakeClient(t, pubClientConn)
	pubClient.sendInvoke(0, connectCmd("live"))
	pubClient.sendInvoke(0, streamNameCmd("publish", "stream-key"))
	time.Sleep(50 * time.Millisecond)

	playServerConn, playClientConn := net.Pipe()
	play := NewServerConnection(playServerConn, 2, "127.0.0.1", opts)
	go play.Serve()

	playClient := newFakeClient(t, playClientConn)
	playClient.sendInvoke(0, connectCmd("live"))
	playClient.sendInvoke(0, streamNameCmd("play", "stream-key"))
	time.Sleep(50 * time.Millisecond)

	pubClient.sendVideo(1, 1000, []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xAA, 0xBB})

	var got *Packet
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		p, err := playClient.readPacket()
		if err != nil {
			break
		}
		if p.Header.PacketType == RTMP_TYPE_VIDEO {
			got = p
			break
		}
	}

	require.NotNil(t, got)
	require.Equal(t, []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xAA, 0xBB}, got.Payload)

	pubServerConn.Close()
	playServerConn.Close()
}
