// Package graph implements the element routing layer: the Element and
// ElementMapper contract, per-request flavour-mask capability negotiation,
// and the policy/authorizer hooks that gate a request before it reaches a
// source (SPEC_FULL.md §2, §4.5 interaction, §7).
package graph

import "github.com/relaycore/mediacore/internal/tag"

// Caps describes what tag types and flavours a side of a negotiation
// accepts or offers (SPEC_FULL.md §3.3 "caps").
type Caps struct {
	Types       []tag.Type
	FlavourMask uint32
}

// AnyCaps accepts every tag type and flavour, used by elements (like a
// FilteringElement) that don't restrict what they carry.
var AnyCaps = Caps{}

// Accepts reports whether offer (an element's advertised caps) satisfies
// want (a request's required caps). An empty Types list on either side
// means "no type restriction"; the same holds for a zero FlavourMask.
func (want Caps) Accepts(offer Caps) bool {
	if len(want.Types) > 0 && len(offer.Types) > 0 {
		ok := false
		for _, wt := range want.Types {
			for _, ot := range offer.Types {
				if wt == ot {
					ok = true
					break
				}
			}
		}
		if !ok {
			return false
		}
	}
	if want.FlavourMask != 0 && offer.FlavourMask != 0 && want.FlavourMask&offer.FlavourMask == 0 {
		return false
	}
	return true
}

// AuthRequest is built from a PUBLISH/PLAY invocation's URL and carried to
// an authorizer (SPEC_FULL.md §4.8.2, §7).
type AuthRequest struct {
	User  string
	Pass  string
	Token string
}

// AuthReply is the authorizer's verdict (SPEC_FULL.md §3.3).
type AuthReply struct {
	Allowed               bool
	ReauthorizeIntervalMs int64
	TimeLimitMs           int64
	Reason                string
}

// ServingInfo names the media an element resolves to and the limits that
// apply while serving it (SPEC_FULL.md §3.3, §4.6).
type ServingInfo struct {
	MediaName          string
	AuthorizerName     string
	MaxClients         int
	FlowControlVideoMs int64
	FlowControlTotalMs int64
}

// Controller is the optional pause/seek hook a Request carries through to
// whatever Exporter backs it (SPEC_FULL.md §3.3).
type Controller interface {
	Pause(paused bool) error
	Seek(toMs int64) error
}

// Request is created when a client opens a media path (SPEC_FULL.md §3.3).
// It is itself used as the pipeline.RequestKey identity passed down through
// ElementMapper/SwitchingElement/FilteringElement.
type Request struct {
	Path         string
	SessionID    string
	ClientID     string
	AffiliateID  string
	UserAgent    string
	Caps         Caps
	AuthReq      AuthRequest
	AuthReply    AuthReply
	ServingInfo  ServingInfo
	Controller   Controller
}
