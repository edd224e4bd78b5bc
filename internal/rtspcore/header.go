// Header field parsing, grounded on
// original_source/whisperstreamlib/rtp/rtsp/types/rtsp_header_field.{h,cc}.
// The original models each field as a HeaderField subclass with an
// OptionalAttribute<T> template for sparse attributes; Go expresses that
// more plainly as a string-keyed map plus typed accessor/builder pairs for
// the fields the server actually inspects (Transport, CSeq, Session,
// Range, RTP-Info, Content-Length).
package rtspcore

import (
	"fmt"
	"strconv"
	"strings"
)

// Headers is an ordered collection of RTSP header fields, preserving
// insertion order the way the wire format requires it preserved.
type Headers struct {
	keys   []string
	values map[string]string
}

// NewHeaders returns an empty header set.
func NewHeaders() *Headers {
	return &Headers{values: make(map[string]string)}
}

// Set stores name: value, overwriting any prior value for name.
func (h *Headers) Set(name, value string) {
	key := canonicalHeaderName(name)
	if _, exists := h.values[key]; !exists {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// Get returns the value of name and whether it was present.
func (h *Headers) Get(name string) (string, bool) {
	v, ok := h.values[canonicalHeaderName(name)]
	return v, ok
}

// GetInt parses name as an integer, the TNumericHeaderField::Decode path
// (ParseInt, defaulting to 0 on malformed input rather than failing the
// whole request).
func (h *Headers) GetInt(name string) (int, bool) {
	v, ok := h.Get(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// SetInt stores an integer-valued header.
func (h *Headers) SetInt(name string, value int) {
	h.Set(name, strconv.Itoa(value))
}

// Keys returns header names in insertion order.
func (h *Headers) Keys() []string {
	return append([]string(nil), h.keys...)
}

func canonicalHeaderName(name string) string {
	parts := strings.Split(strings.ToLower(name), "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}

const (
	HeaderAccept        = "Accept"
	HeaderCSeq          = "CSeq"
	HeaderContentLength = "Content-Length"
	HeaderContentType   = "Content-Type"
	HeaderSession       = "Session"
	HeaderTransport     = "Transport"
	HeaderRange         = "Range"
	HeaderRTPInfo       = "RTP-Info"
	HeaderPublic        = "Public"
	HeaderUserAgent     = "User-Agent"
	HeaderServer        = "Server"
	HeaderLocation      = "Location"
	HeaderWWWAuthenticate = "WWW-Authenticate"
	HeaderAuthorization = "Authorization"
)

// TransmissionType is the teacher's TransportHeaderField::TransmissionType.
type TransmissionType int

const (
	Unicast TransmissionType = iota
	Multicast
)

// PortRange is the teacher's pair<int,int> client_port/server_port/interleaved.
type PortRange struct {
	Lo, Hi int
}

// String renders "lo-hi", or "lo" when Hi is unset (Lo == Hi).
func (p PortRange) String() string {
	if p.Hi == 0 || p.Hi == p.Lo {
		return strconv.Itoa(p.Lo)
	}
	return fmt.Sprintf("%d-%d", p.Lo, p.Hi)
}

// ParsePortRange decodes "123-456" or "123", the teacher's
// TransportHeaderField::ParseRange. Returns the zero PortRange on malformed
// input rather than an error, matching the original's "on error returns
// (0,0)" contract.
func ParsePortRange(s string) PortRange {
	parts := strings.SplitN(s, "-", 2)
	lo, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return PortRange{}
	}
	if len(parts) == 1 {
		return PortRange{Lo: lo, Hi: lo}
	}
	hi, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return PortRange{Lo: lo, Hi: lo}
	}
	return PortRange{Lo: lo, Hi: hi}
}

// Transport is the decoded Transport header, the teacher's
// TransportHeaderField reduced to the attributes the server actually sets
// (lower_transport, layers, mode, ssrc, append are left unmodeled since no
// SETUP/PLAY path in this server ever reads them).
type Transport struct {
	Protocol    string // "RTP/AVP" or "RTP/AVP/TCP"
	Type        TransmissionType
	ClientPort  *PortRange
	ServerPort  *PortRange
	Interleaved *PortRange
	TTL         *int
	Destination string
	Source      string
}

// ParseTransport decodes a Transport header value, the teacher's
// TransportHeaderField::Decode.
func ParseTransport(value string) Transport {
	t := Transport{Protocol: "RTP/AVP"}
	fields := strings.Split(value, ";")
	if len(fields) > 0 {
		t.Protocol = strings.TrimSpace(fields[0])
	}
	for _, f := range fields[1:] {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		name, val, hasVal := strings.Cut(f, "=")
		switch strings.ToLower(name) {
		case "unicast":
			t.Type = Unicast
		case "multicast":
			t.Type = Multicast
		case "client_port":
			if hasVal {
				r := ParsePortRange(val)
				t.ClientPort = &r
			}
		case "server_port":
			if hasVal {
				r := ParsePortRange(val)
				t.ServerPort = &r
			}
		case "interleaved":
			if hasVal {
				r := ParsePortRange(val)
				t.Interleaved = &r
			}
		case "ttl":
			if hasVal {
				if n, err := strconv.Atoi(val); err == nil {
					t.TTL = &n
				}
			}
		case "destination":
			if hasVal {
				t.Destination = val
			}
		case "source":
			if hasVal {
				t.Source = val
			}
		}
	}
	return t
}

// String encodes the Transport header, the teacher's
// TransportHeaderField::Encode.
func (t Transport) String() string {
	parts := []string{t.Protocol}
	if t.Type == Multicast {
		parts = append(parts, "multicast")
	} else {
		parts = append(parts, "unicast")
	}
	if t.ClientPort != nil {
		parts = append(parts, "client_port="+t.ClientPort.String())
	}
	if t.ServerPort != nil {
		parts = append(parts, "server_port="+t.ServerPort.String())
	}
	if t.Interleaved != nil {
		parts = append(parts, "interleaved="+t.Interleaved.String())
	}
	if t.TTL != nil {
		parts = append(parts, "ttl="+strconv.Itoa(*t.TTL))
	}
	if t.Destination != "" {
		parts = append(parts, "destination="+t.Destination)
	}
	if t.Source != "" {
		parts = append(parts, "source="+t.Source)
	}
	return strings.Join(parts, ";")
}
