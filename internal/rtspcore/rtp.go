// RTP/RTCP packetization for RECORD/PLAY media delivery, grounded on
// _examples/opd-ai-toxcore/av/rtp/packet.go's AudioPacketizer/
// AudioDepacketizer wrapping github.com/pion/rtp, adapted to this server's
// corelog logging instead of that file's logrus and to SenderReport
// generation via github.com/pion/rtcp for RTCP keepalive (SPEC_FULL.md
// §4.9).
package rtspcore

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/relaycore/mediacore/internal/corelog"
)

// Packetizer turns access units into RTP packets for one track.
type Packetizer struct {
	payloadType byte
	ssrc        uint32
	clockRate   uint32
	seq         uint16
	startTime   time.Time
}

// NewPacketizer builds a Packetizer with a random SSRC, the teacher's
// DefaultSSRCProvider (crypto/rand instead of math/rand so concurrent
// sessions don't collide on a predictable seed).
func NewPacketizer(payloadType byte, clockRate uint32) *Packetizer {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return &Packetizer{
		payloadType: payloadType,
		ssrc:        binary.BigEndian.Uint32(b[:]),
		clockRate:   clockRate,
		startTime:   time.Now(),
	}
}

// Packetize wraps payload in one RTP packet, advancing the sequence number
// and deriving the RTP timestamp from wall-clock elapsed time.
func (p *Packetizer) Packetize(payload []byte, marker bool) (*rtp.Packet, error) {
	elapsed := time.Since(p.startTime)
	ts := uint32(elapsed.Seconds() * float64(p.clockRate))

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    p.payloadType,
			SequenceNumber: p.seq,
			Timestamp:      ts,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
	p.seq++
	return pkt, nil
}

// SSRC returns the packetizer's synchronization source identifier, the one
// stamped on its RTP packets and RTCP reports.
func (p *Packetizer) SSRC() uint32 {
	return p.ssrc
}

// SenderReport builds an RTCP sender report for a keepalive tick, the
// teacher's periodic SR between RECORD/PLAY data.
func (p *Packetizer) SenderReport(packetCount, octetCount uint32) *rtcp.SenderReport {
	now := time.Now()
	elapsed := now.Sub(p.startTime)
	return &rtcp.SenderReport{
		SSRC:        p.ssrc,
		NTPTime:     ntpTime(now),
		RTPTime:     uint32(elapsed.Seconds() * float64(p.clockRate)),
		PacketCount: packetCount,
		OctetCount:  octetCount,
	}
}

const ntpEpochOffset = 2208988800 // seconds between 1900-01-01 and 1970-01-01

func ntpTime(t time.Time) uint64 {
	secs := uint64(t.Unix()+ntpEpochOffset) << 32
	frac := uint64(float64(t.Nanosecond()) / 1e9 * (1 << 32))
	return secs | frac
}

// Depacketizer reassembles RTP packets pushed by an ANNOUNCE/RECORD
// publisher back into payload bytes, the teacher's AudioDepacketizer.
type Depacketizer struct {
	expectedSeq uint16
	haveSeq     bool
	dropped     uint64
}

// Accept parses raw and reports the payload plus whether a gap was detected
// since the previous packet.
func (d *Depacketizer) Accept(raw []byte) (payload []byte, gap bool, err error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return nil, false, err
	}
	if d.haveSeq && pkt.SequenceNumber != d.expectedSeq {
		d.dropped++
		gap = true
		corelog.Debug(fmt.Sprintf("[RTSP] sequence gap, expected %d got %d", d.expectedSeq, pkt.SequenceNumber))
	}
	d.expectedSeq = pkt.SequenceNumber + 1
	d.haveSeq = true
	return pkt.Payload, gap, nil
}

// Dropped returns the number of detected sequence gaps.
func (d *Depacketizer) Dropped() uint64 {
	return d.dropped
}
