package controlplane

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaycore/mediacore/internal/corelog"
)

// HTTPCallback posts a signed JWT to an external URL on publish start/stop
// instead of negotiating over the coordinator websocket, adapted from the
// teacher's rtmp_callback.go (SendStartCallback/SendStopCallback). It
// satisfies the same RequestPublish/PublishEnd shape as *Client so
// ServerOptions.Coordinator can hold either.
type HTTPCallback struct {
	url     string
	secret  string
	subject string
	host    string
	port    int
	client  *http.Client
}

// NewHTTPCallback builds a callback notifier, or nil if url is empty (the
// teacher's CALLBACK_URL == "" short-circuit, which always returns success).
func NewHTTPCallback(url, secret, subject, host string, port int) *HTTPCallback {
	if url == "" {
		return nil
	}
	if subject == "" {
		subject = "rtmp_event"
	}
	return &HTTPCallback{
		url: url, secret: secret, subject: subject,
		host: host, port: port,
		client: &http.Client{},
	}
}

const callbackJWTExpirationSeconds = 120

// RequestPublish posts a "start" event and returns the stream-id the
// remote endpoint assigns via the "stream-id" response header.
func (h *HTTPCallback) RequestPublish(channel, key, userIP string) (accepted bool, streamID string) {
	if h == nil {
		return true, ""
	}

	corelog.DebugSession(0, userIP, "POST "+h.url+" | Event: START | Channel: "+channel)

	token, err := h.sign(jwt.MapClaims{
		"sub":       h.subject,
		"event":     "start",
		"channel":   channel,
		"key":       key,
		"client_ip": userIP,
		"rtmp_host": h.host,
		"rtmp_port": h.port,
	})
	if err != nil {
		corelog.Error(err)
		return false, ""
	}

	res, err := h.post(token)
	if err != nil {
		corelog.Error(err)
		return false, ""
	}
	defer res.Body.Close() //nolint:errcheck

	if res.StatusCode != http.StatusOK {
		corelog.DebugSession(0, userIP, "callback request ended with status code: "+fmt.Sprint(res.StatusCode))
		return false, ""
	}

	return true, res.Header.Get("stream-id")
}

// PublishEnd posts a "stop" event, the teacher's SendStopCallback.
func (h *HTTPCallback) PublishEnd(channel, streamID string) bool {
	if h == nil {
		return true
	}

	token, err := h.sign(jwt.MapClaims{
		"sub":       h.subject,
		"event":     "stop",
		"channel":   channel,
		"stream_id": streamID,
	})
	if err != nil {
		corelog.Error(err)
		return false
	}

	res, err := h.post(token)
	if err != nil {
		corelog.Error(err)
		return false
	}
	defer res.Body.Close() //nolint:errcheck

	return res.StatusCode == http.StatusOK
}

func (h *HTTPCallback) sign(claims jwt.MapClaims) (string, error) {
	claims["exp"] = time.Now().Unix() + callbackJWTExpirationSeconds
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.secret))
}

func (h *HTTPCallback) post(token string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, h.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("rtmp-event", token)
	return h.client.Do(req)
}
