// FLV tag framing and the bridge between RTMP audio/video Packets and the
// tag pipeline, grounded on the teacher's flv.go.

package rtmpcore

import (
	"encoding/binary"

	"github.com/relaycore/mediacore/internal/tag"
)

// createFlvTag serializes packet as one legacy FLV tag (11-byte tag header
// plus trailing 4-byte PreviousTagSize), the wire format an HTTP-FLV or
// recording sink expects.
func createFlvTag(packet *Packet) []byte {
	previousTagSize := 11 + packet.Header.Length
	b := make([]byte, previousTagSize+4)

	b[0] = byte(packet.Header.PacketType)

	aux := make([]byte, 4)
	binary.BigEndian.PutUint32(aux, packet.Header.Length)
	b[1] = aux[1]
	b[2] = aux[2]
	b[3] = aux[3]

	b[4] = byte(packet.Header.Timestamp>>16) & 0xff
	b[5] = byte(packet.Header.Timestamp>>8) & 0xff
	b[6] = byte(packet.Header.Timestamp) & 0xff
	b[7] = byte(packet.Header.Timestamp>>24) & 0xff

	b[8] = 0
	b[9] = 0
	b[10] = 0

	aux2 := make([]byte, 4)
	binary.BigEndian.PutUint32(aux2, previousTagSize)
	copy(b[previousTagSize:], aux2)

	copy(b[11:], packet.Payload[:packet.Header.Length])

	return b
}

// TagFromPacket converts an ingested RTMP audio/video/metadata Packet into
// a pipeline Tag, the boundary where PublishStream hands bytes to the
// element graph (SPEC_FULL.md §4.8).
func TagFromPacket(p *Packet) *tag.Tag {
	var attrs tag.Attributes
	switch p.Header.PacketType {
	case RTMP_TYPE_AUDIO:
		attrs = tag.AttrAudio
		if len(p.Payload) > 0 && isAACSequenceHeader(p.Payload) {
			attrs |= tag.AttrMetadata
		} else {
			attrs |= tag.AttrDroppable
		}
	case RTMP_TYPE_VIDEO:
		attrs = tag.AttrVideo
		if len(p.Payload) > 0 && isKeyframe(p.Payload) {
			attrs |= tag.AttrCanResync
		} else {
			attrs |= tag.AttrDroppable
		}
	case RTMP_TYPE_DATA, RTMP_TYPE_FLEX_STREAM:
		attrs = tag.AttrMetadata
	}

	t := tag.New(tag.TypeFLV, attrs)
	t.DurationMs = 0
	t.Size = int(p.Header.Length)
	t.StreamTimeMs = p.Clock
	t.Payload = append([]byte(nil), p.Payload...)
	return t
}

// PacketFromTag is the reverse of TagFromPacket, used by PlayStream when
// handing a Tag back out over the RTMP chunk stream.
func PacketFromTag(t *tag.Tag, streamID uint32) *Packet {
	packetType := uint32(RTMP_TYPE_DATA)
	cid := uint32(RTMP_CHANNEL_DATA)
	switch {
	case t.IsAudio():
		packetType = RTMP_TYPE_AUDIO
		cid = RTMP_CHANNEL_AUDIO
	case t.IsVideo():
		packetType = RTMP_TYPE_VIDEO
		cid = RTMP_CHANNEL_VIDEO
	}

	return &Packet{
		Header: PacketHeader{
			Fmt:        RTMP_CHUNK_TYPE_0,
			Cid:        cid,
			Timestamp:  t.StreamTimeMs,
			PacketType: packetType,
			StreamID:   streamID,
			Length:     uint32(len(t.Payload)),
		},
		Payload: t.Payload,
	}
}

// isKeyframe reports whether an FLV video payload's frame-type nibble
// marks it a key frame (SPEC_FULL.md §4.8, used to set AttrCanResync).
func isKeyframe(payload []byte) bool {
	return len(payload) > 0 && (payload[0]>>4) == 1
}

// isAACSequenceHeader reports whether an FLV audio payload is the AAC
// AudioSpecificConfig packet rather than raw audio data.
func isAACSequenceHeader(payload []byte) bool {
	return len(payload) > 1 && (payload[0]>>4) == 10 && payload[1] == 0
}
