package rtmpcore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestChunkRoundTripSingleChunk covers invariant 5: encoding then decoding
// a packet that fits in one chunk reproduces it exactly.
func TestChunkRoundTripSingleChunk(t *testing.T) {
	payload := []byte("hello rtmp")
	p := Packet{
		Header: PacketHeader{
			Fmt:        RTMP_CHUNK_TYPE_0,
			Cid:        RTMP_CHANNEL_VIDEO,
			Timestamp:  1234,
			PacketType: RTMP_TYPE_VIDEO,
			StreamID:   1,
			Length:     uint32(len(payload)),
		},
		Payload: payload,
	}

	wire := p.CreateChunks(128)

	d := NewDecoder()
	got, err := d.ReadPacket(bytes.NewReader(wire))
	require.NoError(t, err)

	assert.Equal(t, payload, got.Payload)
	assert.Equal(t, int64(1234), got.Header.Timestamp)
	assert.Equal(t, uint32(RTMP_TYPE_VIDEO), got.Header.PacketType)
	assert.Equal(t, uint32(1), got.Header.StreamID)
	assert.Equal(t, uint32(RTMP_CHANNEL_VIDEO), got.Header.Cid)
}

// TestChunkRoundTripMultiChunk forces the payload to split across several
// chunks (RTMP_CHUNK_TYPE_3 continuation chunks) and verifies the decoder
// reassembles the original payload byte-for-byte.
func TestChunkRoundTripMultiChunk(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF, 0x01}, 100) // 400 bytes
	p := Packet{
		Header: PacketHeader{
			Fmt:        RTMP_CHUNK_TYPE_0,
			Cid:        RTMP_CHANNEL_AUDIO,
			Timestamp:  99,
			PacketType: RTMP_TYPE_AUDIO,
			StreamID:   7,
			Length:     uint32(len(payload)),
		},
		Payload: payload,
	}

	wire := p.CreateChunks(64)

	d := NewDecoder()
	d.SetInChunkSize(64)
	got, err := d.ReadPacket(bytes.NewReader(wire))
	require.NoError(t, err)

	assert.Equal(t, payload, got.Payload)
	assert.Equal(t, uint32(len(payload)), got.Header.Length)
}

// TestChunkRoundTripExtendedTimestamp covers a timestamp beyond the 3-byte
// inline field, which forces the 4-byte extended timestamp extension.
func TestChunkRoundTripExtendedTimestamp(t *testing.T) {
	payload := []byte{0x17, 0x01, 0x00, 0x00, 0x00}
	p := Packet{
		Header: PacketHeader{
			Fmt:        RTMP_CHUNK_TYPE_0,
			Cid:        RTMP_CHANNEL_VIDEO,
			Timestamp:  0x1000000, // exceeds 0xffffff, forces extended timestamp
			PacketType: RTMP_TYPE_VIDEO,
			StreamID:   1,
			Length:     uint32(len(payload)),
		},
		Payload: payload,
	}

	wire := p.CreateChunks(128)

	d := NewDecoder()
	got, err := d.ReadPacket(bytes.NewReader(wire))
	require.NoError(t, err)

	// The inline header field is pinned at 0xffffff once extended; the
	// real value lands in Clock, matching RTMP_CHUNK_TYPE_0's semantics.
	assert.Equal(t, int64(0x1000000), got.Clock)
	assert.Equal(t, payload, got.Payload)
}

func TestHandshakeBasicFormat(t *testing.T) {
	clientSig := make([]byte, RTMP_SIG_SIZE)
	response := generateS0S1S2(clientSig)

	require.Len(t, response, 1+RTMP_SIG_SIZE*2)
	assert.Equal(t, byte(RTMP_VERSION), response[0])
}

func TestBitopReadGolombAdvancesCursor(t *testing.T) {
	// 0b10100000: Exp-Golomb codeword "1" (value 0) then "010" (value 1).
	b := createBitop([]byte{0xA0})
	v1 := b.ReadGolomb()
	v2 := b.ReadGolomb()
	assert.Equal(t, uint32(0), v1)
	assert.Equal(t, uint32(1), v2)
}
