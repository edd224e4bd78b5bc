// Session description construction, grounded on
// original_source/whisperstreamlib/rtp/rtp_sdp.cc's DESCRIBE/ANNOUNCE body
// builder, rewritten on top of github.com/pion/sdp/v3 instead of the
// original's hand-rolled string concatenation (SPEC_FULL.md §4.9).
package rtspcore

import (
	"strconv"
	"time"

	"github.com/pion/sdp/v3"
)

// TrackDescription is one media track offered by a DESCRIBE response.
type TrackDescription struct {
	Name       string // "audio" or "video"
	TrackID    string // TrackIDAudio / TrackIDVideo
	PayloadType uint8
	Codec      string // RTP encoding name, e.g. "H264", "MPEG4-GENERIC"
	ClockRate  uint32
	FmtpLine   string // extra a=fmtp:<pt> params, empty if none
}

// BuildSessionDescription renders an SDP body for channel, the teacher's
// BuildSdp. baseURL is not written into the description.
func BuildSessionDescription(sessionName, baseURL string, tracks []TrackDescription) ([]byte, error) {
	now := uint64(time.Now().Unix())
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: sdp.SessionName(sessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "0.0.0.0"},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []sdp.Attribute{
			{Key: "control", Value: "*"},
		},
	}

	for _, t := range tracks {
		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   t.Name,
				Port:    sdp.RangedPort{Value: 0},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{strconv.Itoa(int(t.PayloadType))},
			},
			Attributes: []sdp.Attribute{
				{Key: "control", Value: "trackID=" + t.TrackID},
				{Key: "rtpmap", Value: strconv.Itoa(int(t.PayloadType)) + " " + t.Codec + "/" + strconv.Itoa(int(t.ClockRate))},
			},
		}
		if t.FmtpLine != "" {
			md.Attributes = append(md.Attributes, sdp.Attribute{Key: "fmtp", Value: strconv.Itoa(int(t.PayloadType)) + " " + t.FmtpLine})
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, md)
	}

	return desc.Marshal()
}

// ParseSessionDescription decodes a raw SDP body into its session and media
// descriptions.
func ParseSessionDescription(body []byte) (*sdp.SessionDescription, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return nil, err
	}
	return desc, nil
}
