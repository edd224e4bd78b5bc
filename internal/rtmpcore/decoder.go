// Chunk stream decoder, grounded on the chunk-parsing half of the
// teacher's rtmp_session.go ReadChunk method, extracted into a
// connection-independent type so it can be driven by any io.Reader.

package rtmpcore

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Decoder reassembles RTMP chunk-stream bytes into complete Packets,
// tracking one in-flight Packet per chunk stream ID the way the RTMP spec
// requires (SPEC_FULL.md §4.8).
type Decoder struct {
	inChunkSize uint32
	inPackets   map[uint32]*Packet
}

// NewDecoder creates a Decoder. inChunkSize must match whatever
// RTMP_TYPE_SET_CHUNK_SIZE value is in effect; it starts at the protocol
// default and the caller updates it via SetInChunkSize as control messages
// arrive.
func NewDecoder() *Decoder {
	return &Decoder{
		inChunkSize: RTMP_CHUNK_SIZE,
		inPackets:   make(map[uint32]*Packet),
	}
}

// SetInChunkSize applies a peer-announced RTMP_TYPE_SET_CHUNK_SIZE value.
func (d *Decoder) SetInChunkSize(n uint32) {
	d.inChunkSize = n
}

// ErrStopPacket is returned when the peer sends a packet type past the
// last one the protocol defines, matching the teacher's treatment of that
// case as a hard stop.
var ErrStopPacket = fmt.Errorf("rtmpcore: received out-of-range packet type")

// ReadPacket reads and reassembles chunks from r until one complete
// message is available, then returns it. A message already in progress
// for a different chunk stream ID is preserved across calls, matching the
// RTMP multiplexing model.
func (d *Decoder) ReadPacket(r io.Reader) (*Packet, error) {
	for {
		startByte := make([]byte, 1)
		if _, err := io.ReadFull(r, startByte); err != nil {
			return nil, err
		}

		var parserBasicBytes int
		switch startByte[0] & 0x3f {
		case 0:
			parserBasicBytes = 2
		case 1:
			parserBasicBytes = 3
		default:
			parserBasicBytes = 1
		}

		header := []byte{startByte[0]}
		if parserBasicBytes > 1 {
			rest := make([]byte, parserBasicBytes-1)
			if _, err := io.ReadFull(r, rest); err != nil {
				return nil, err
			}
			header = append(header, rest...)
		}

		size := int(rtmpHeaderSize[header[0]>>6])
		if size > 0 {
			headerLeft := make([]byte, size)
			if _, err := io.ReadFull(r, headerLeft); err != nil {
				return nil, err
			}
			header = append(header, headerLeft...)
		}

		fmtByte := uint32(header[0] >> 6)
		var cid uint32
		switch parserBasicBytes {
		case 2:
			cid = 64 + uint32(header[1])
		case 3:
			cid = (64 + uint32(header[1]) + uint32(header[2])) << 8
		default:
			cid = uint32(header[0] & 0x3f)
		}

		packet := d.inPackets[cid]
		if packet == nil {
			bp := createBlankPacket()
			packet = &bp
			d.inPackets[cid] = packet
		} else if packet.Handled {
			packet.Handled = false
			packet.Payload = make([]byte, 0)
			packet.Bytes = 0
		}

		packet.Header.Cid = cid
		packet.Header.Fmt = fmtByte

		offset := parserBasicBytes

		if packet.Header.Fmt <= RTMP_CHUNK_TYPE_2 {
			packet.Header.Timestamp = int64(uint32(header[offset+2]) | uint32(header[offset+1])<<8 | uint32(header[offset])<<16)
			offset += 3
		}

		if packet.Header.Fmt <= RTMP_CHUNK_TYPE_1 {
			packet.Header.Length = uint32(header[offset+2]) | uint32(header[offset+1])<<8 | uint32(header[offset])<<16
			packet.Header.PacketType = uint32(header[offset+3])
			offset += 4
		}

		if packet.Header.Fmt == RTMP_CHUNK_TYPE_0 {
			packet.Header.StreamID = binary.LittleEndian.Uint32(header[offset : offset+4])
		}

		if packet.Header.PacketType > RTMP_TYPE_METADATA {
			return nil, ErrStopPacket
		}

		var extendedTimestamp int64
		if packet.Header.Timestamp == 0xffffff {
			tsBytes := make([]byte, 4)
			if _, err := io.ReadFull(r, tsBytes); err != nil {
				return nil, err
			}
			extendedTimestamp = int64(binary.BigEndian.Uint32(tsBytes))
		} else {
			extendedTimestamp = packet.Header.Timestamp
		}

		if packet.Bytes == 0 {
			if packet.Header.Fmt == RTMP_CHUNK_TYPE_0 {
				packet.Clock = extendedTimestamp
			} else {
				packet.Clock += extendedTimestamp
			}
			if packet.Capacity < packet.Header.Length {
				packet.Capacity = 1024 + packet.Header.Length
			}
		}

		sizeToRead := d.inChunkSize - (packet.Bytes % d.inChunkSize)
		if sizeToRead > packet.Header.Length-packet.Bytes {
			sizeToRead = packet.Header.Length - packet.Bytes
		}
		if sizeToRead > 0 {
			chunk := make([]byte, sizeToRead)
			if _, err := io.ReadFull(r, chunk); err != nil {
				return nil, err
			}
			packet.Payload = append(packet.Payload, chunk...)
			packet.Bytes += sizeToRead
		}

		if packet.Bytes >= packet.Header.Length {
			packet.Handled = true
			return packet, nil
		}
	}
}
