// RTMP chunk stream packet encoding, grounded on the teacher's
// rtmp_packet.go.

package rtmpcore

import (
	"encoding/binary"
)

// PacketHeader is the header of one logical RTMP message.
type PacketHeader struct {
	Timestamp int64 // Timestamp of the packet

	Fmt uint32 // Chunk format (0-3)

	Cid uint32 // Chunk stream ID

	PacketType uint32 // Message type

	StreamID uint32 // Message stream ID

	Length uint32 // Payload length
}

// Packet is one complete RTMP message, reassembled from its chunks.
type Packet struct {
	Header PacketHeader
	Clock  int64 // Used for extended timestamp

	Capacity uint32
	Bytes    uint32
	Handled  bool

	Payload []byte
}

const packetBaseSize = 65

func createBlankPacket() Packet {
	return Packet{Payload: []byte{}}
}

// rtmpChunkBasicHeaderCreate serializes the basic header for a chunk.
func rtmpChunkBasicHeaderCreate(fmt uint32, cid uint32) []byte {
	var out []byte

	if cid >= 64+255 {
		out = make([]byte, 3)
		out[0] = byte(fmt<<6) | 1
		out[1] = byte(cid-64) & 0xff
		out[2] = byte(cid-64>>8) & 0xff
	} else if cid >= 64 {
		out = make([]byte, 2)
		out[0] = byte(fmt << 6)
		out[1] = byte(cid-64) & 0xff
	} else {
		out = make([]byte, 1)
		out[0] = byte(fmt<<6) | byte(cid)
	}

	return out
}

// rtmpChunkMessageHeaderCreate serializes the message header for a chunk.
func rtmpChunkMessageHeaderCreate(packet *Packet) []byte {
	out := make([]byte, 0)

	if packet.Header.Fmt <= RTMP_CHUNK_TYPE_2 {
		b := make([]byte, 4)
		if packet.Header.Timestamp >= 0xffffff {
			binary.BigEndian.PutUint32(b, 0xffffff)
		} else {
			binary.BigEndian.PutUint32(b, uint32(packet.Header.Timestamp))
		}
		out = append(out, b[1:]...)
	}

	if packet.Header.Fmt <= RTMP_CHUNK_TYPE_1 {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, packet.Header.Length)
		out = append(out, b[1:]...)

		out = append(out, byte(packet.Header.PacketType))
	}

	if packet.Header.Fmt == RTMP_CHUNK_TYPE_0 {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, packet.Header.StreamID)
		out = append(out, b...)
	}

	return out
}

// CreateChunks serializes packet into the wire-format chunk stream using
// outChunkSize as the maximum chunk payload size.
func (packet *Packet) CreateChunks(outChunkSize int) []byte {
	chunkBasicHeader := rtmpChunkBasicHeaderCreate(packet.Header.Fmt, packet.Header.Cid)
	chunkBasicHeader3 := rtmpChunkBasicHeaderCreate(RTMP_CHUNK_TYPE_3, packet.Header.Cid)

	chunkMessageHeader := rtmpChunkMessageHeaderCreate(packet)

	useExtendedTimestamp := packet.Header.Timestamp >= 0xffffff

	headerSize := len(chunkBasicHeader) + len(chunkMessageHeader)
	payloadSize := int(packet.Header.Length)
	chunksOffset := 0
	payloadOffset := 0

	if useExtendedTimestamp {
		headerSize += 4
	}

	n := headerSize + payloadSize + (payloadSize / outChunkSize)

	if useExtendedTimestamp {
		n += (payloadSize / outChunkSize) * 4
	}

	if (payloadSize % outChunkSize) == 0 {
		n--
		if useExtendedTimestamp {
			n -= 4
		}
	}

	chunks := make([]byte, n)

	copy(chunks[chunksOffset:], chunkBasicHeader[:])
	chunksOffset += len(chunkBasicHeader)

	copy(chunks[chunksOffset:], chunkMessageHeader[:])
	chunksOffset += len(chunkMessageHeader)

	if useExtendedTimestamp {
		binary.BigEndian.PutUint32(chunks[chunksOffset:chunksOffset+4], uint32(packet.Header.Timestamp))
		chunksOffset += 4
	}

	for payloadSize > 0 {
		if payloadSize > outChunkSize {
			copy(chunks[chunksOffset:], packet.Payload[payloadOffset:payloadOffset+outChunkSize])
			payloadSize -= outChunkSize
			chunksOffset += outChunkSize
			payloadOffset += outChunkSize
			copy(chunks[chunksOffset:], chunkBasicHeader3[:])
			chunksOffset += len(chunkBasicHeader3)
			if useExtendedTimestamp {
				binary.BigEndian.PutUint32(chunks[chunksOffset:chunksOffset+4], uint32(packet.Header.Timestamp))
				chunksOffset += 4
			}
		} else {
			copy(chunks[chunksOffset:], packet.Payload[payloadOffset:payloadOffset+payloadSize])
			chunksOffset += payloadSize
			payloadOffset += payloadSize
			payloadSize = 0
		}
	}

	return chunks
}
