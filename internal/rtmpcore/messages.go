// Protocol control messages and AMF0 invoke responses a ServerConnection
// sends back to the client, adapted from the teacher's
// rtmp_session_utils.go (SendWindowACK, SetPeerBandwidth, SetChunkSize,
// SendStreamStatus, SendStatusMessage, RespondConnect, RespondCreateStream).

package rtmpcore

import (
	"encoding/binary"
	"time"

	"github.com/relaycore/mediacore/internal/corelog"
)

// sendPingRequest sends a user-control-message ping carrying the
// connection's uptime, the teacher's RTMPSession.SendPingRequest.
func (c *ServerConnection) sendPingRequest() {
	if !c.connected {
		return
	}

	elapsed := time.Now().UnixMilli() - c.connectTime

	b := []byte{
		0x02, 0, 0, 0, 0, 0, 0x06, 0x04, 0, 0, 0, 0,
		0, 6,
		byte(elapsed >> 24), byte(elapsed >> 16), byte(elapsed >> 8), byte(elapsed),
	}
	corelog.DebugSession(c.id, c.ip, "Sending ping request")
	c.sendSync(b) //nolint:errcheck
}

func (c *ServerConnection) sendWindowACK(size uint32) {
	b := []byte{0x02, 0, 0, 0, 0, 0, 0x04, 0x05, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(b[12:16], size)
	c.sendSync(b) //nolint:errcheck
}

func (c *ServerConnection) setPeerBandwidth(size uint32, limitType byte) {
	b := []byte{0x02, 0, 0, 0, 0, 0, 0x05, 0x06, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(b[12:16], size)
	b[16] = limitType
	c.sendSync(b) //nolint:errcheck
}

func (c *ServerConnection) setOutChunkSize(size uint32) {
	b := []byte{0x02, 0, 0, 0, 0, 0, 0x04, 0x01, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(b[12:16], size)
	c.sendSync(b) //nolint:errcheck
	c.outChunkSize = size
}

func (c *ServerConnection) sendStreamStatus(status uint16, streamID uint32) {
	b := []byte{0x02, 0, 0, 0, 0, 0, 0x06, 0x04, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.BigEndian.PutUint16(b[12:14], status)
	binary.BigEndian.PutUint32(b[14:18], streamID)
	c.sendSync(b) //nolint:errcheck
}

func (c *ServerConnection) sendInvoke(streamID uint32, cmd Command) {
	packet := Packet{
		Header: PacketHeader{
			Fmt:        RTMP_CHUNK_TYPE_0,
			Cid:        RTMP_CHANNEL_INVOKE,
			PacketType: RTMP_TYPE_INVOKE,
			StreamID:   streamID,
		},
	}
	payload := cmd.Encode()
	packet.Header.Length = uint32(len(payload))
	packet.Payload = payload

	c.sendSync(packet.CreateChunks(int(c.outChunkSize))) //nolint:errcheck
}

func (c *ServerConnection) sendStatusMessage(streamID uint32, level, code, description string) {
	cmd := Command{Name: "onStatus", Arguments: make(map[string]*AMF0Value)}

	transId := newNumberValue(0)
	cmd.Arguments["transId"] = &transId

	cmdObj := createAMF0Value(AMF0_TYPE_NULL)
	cmd.Arguments["cmdObj"] = &cmdObj

	info := createAMF0Value(AMF0_TYPE_OBJECT)
	info.obj_val = make(map[string]*AMF0Value)
	levelVal := newStringValue(level)
	info.obj_val["level"] = &levelVal
	codeVal := newStringValue(code)
	info.obj_val["code"] = &codeVal
	if description != "" {
		descVal := newStringValue(description)
		info.obj_val["description"] = &descVal
	}
	cmd.Arguments["info"] = &info

	c.sendInvoke(streamID, cmd)
}

func (c *ServerConnection) respondConnect(transID int64, hasObjectEncoding bool) {
	cmd := Command{Name: "_result", Arguments: make(map[string]*AMF0Value)}

	transVal := newNumberValue(transID)
	cmd.Arguments["transId"] = &transVal

	cmdObj := createAMF0Value(AMF0_TYPE_OBJECT)
	cmdObj.obj_val = make(map[string]*AMF0Value)
	fmsVer := newStringValue("FMS/3,0,1,123")
	cmdObj.obj_val["fmsVer"] = &fmsVer
	capabilities := newNumberValue(31)
	cmdObj.obj_val["capabilities"] = &capabilities
	cmd.Arguments["cmdObj"] = &cmdObj

	info := createAMF0Value(AMF0_TYPE_OBJECT)
	info.obj_val = make(map[string]*AMF0Value)
	level := newStringValue("status")
	info.obj_val["level"] = &level
	code := newStringValue("NetConnection.Connect.Success")
	info.obj_val["code"] = &code
	description := newStringValue("Connection succeeded.")
	info.obj_val["description"] = &description
	if hasObjectEncoding {
		enc := newNumberValue(int64(c.objectEncoding))
		info.obj_val["objectEncoding"] = &enc
	}
	cmd.Arguments["info"] = &info

	c.sendInvoke(0, cmd)
}

func (c *ServerConnection) respondCreateStream(transID int64, streamID uint32) {
	cmd := Command{Name: "_result", Arguments: make(map[string]*AMF0Value)}

	transVal := newNumberValue(transID)
	cmd.Arguments["transId"] = &transVal

	cmdObj := createAMF0Value(AMF0_TYPE_NULL)
	cmd.Arguments["cmdObj"] = &cmdObj

	info := newNumberValue(int64(streamID))
	cmd.Arguments["info"] = &info

	c.sendInvoke(0, cmd)
}

func (c *ServerConnection) respondPlay(streamID uint32) {
	c.sendStreamStatus(STREAM_BEGIN, streamID)
	c.sendStatusMessage(streamID, "status", "NetStream.Play.Reset", "Playing and resetting stream.")
	c.sendStatusMessage(streamID, "status", "NetStream.Play.Start", "Started playing stream.")
}
