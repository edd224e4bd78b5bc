package logstore

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"io"
)

// Record frame: [2 byte magic][1 byte flags][4 byte big-endian payload
// length][payload].
//
// The magic lets a reader tell a real frame apart from the zero padding
// Writer.Close appends to round a file up to the block boundary (§4.3,
// §8 invariant 8) — without it, a zero-length, non-deflated frame would
// be indistinguishable from padding.
//
// Deflate is available as an opt-in per-writer setting (§6.4 "deflate").
// No pack example ships a compression library (DESIGN.md notes the
// search), so this is the one place the core reaches for the standard
// library's compress/flate instead of a third-party dependency.
const (
	flagDeflate byte = 1 << 0

	frameHeaderSize = 2 + 1 + 4
)

var recordMagic = [2]byte{0xBE, 0xEF}

var errCorruptRecord = errors.New("logstore: corrupt record frame")

func encodeRecord(payload []byte, deflate bool) []byte {
	flags := byte(0)
	body := payload
	if deflate {
		var buf bytes.Buffer
		w, _ := flate.NewWriter(&buf, flate.BestSpeed)
		_, _ = w.Write(payload)
		_ = w.Close()
		if buf.Len() < len(payload) {
			body = buf.Bytes()
			flags |= flagDeflate
		}
	}

	frame := make([]byte, frameHeaderSize+len(body))
	frame[0] = recordMagic[0]
	frame[1] = recordMagic[1]
	frame[2] = flags
	binary.BigEndian.PutUint32(frame[3:7], uint32(len(body)))
	copy(frame[7:], body)
	return frame
}

// decodeRecord reads one frame from r. It returns io.EOF both at a clean
// end of stream and on encountering the writer's trailing zero padding
// (the two are indistinguishable to a reader and both mean "no more real
// data here yet"), io.ErrUnexpectedEOF on a short read that looks like a
// frame truncated mid-write, or errCorruptRecord if the magic is present
// but the frame can't be decoded.
func decodeRecord(r io.Reader) ([]byte, error) {
	header := make([]byte, frameHeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, io.ErrUnexpectedEOF
	}

	if header[0] != recordMagic[0] || header[1] != recordMagic[1] {
		if isAllZero(header) {
			return nil, io.EOF // trailing block padding
		}
		return nil, errCorruptRecord
	}

	flags := header[2]
	length := binary.BigEndian.Uint32(header[3:7])
	if length > 64*1024*1024 {
		return nil, errCorruptRecord
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	if flags&flagDeflate == 0 {
		return body, nil
	}

	zr := flate.NewReader(bytes.NewReader(body))
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errCorruptRecord
	}
	return out, nil
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
