package controlplane

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPCallbackWithoutURLReturnsNil(t *testing.T) {
	assert.Nil(t, NewHTTPCallback("", "secret", "", "", 0))
}

func TestHTTPCallbackRequestPublishParsesStreamID(t *testing.T) {
	var received jwt.MapClaims

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := jwt.ParseWithClaims(r.Header.Get("rtmp-event"), &received, func(*jwt.Token) (interface{}, error) {
			return []byte("s3cr3t"), nil
		})
		require.NoError(t, err)
		require.True(t, token.Valid)
		w.Header().Set("stream-id", "abc-123")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cb := NewHTTPCallback(srv.URL, "s3cr3t", "", "127.0.0.1", 1935)
	require.NotNil(t, cb)

	accepted, streamID := cb.RequestPublish("live", "key1", "9.9.9.9")

	assert.True(t, accepted)
	assert.Equal(t, "abc-123", streamID)
	assert.Equal(t, "start", received["event"])
	assert.Equal(t, "live", received["channel"])
}

func TestHTTPCallbackRequestPublishDeniedOnNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cb := NewHTTPCallback(srv.URL, "s3cr3t", "", "", 0)
	accepted, streamID := cb.RequestPublish("live", "key1", "1.2.3.4")

	assert.False(t, accepted)
	assert.Equal(t, "", streamID)
}

func TestHTTPCallbackPublishEndPostsStopEvent(t *testing.T) {
	var received jwt.MapClaims
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, _ = new(jwt.Parser).ParseUnverified(r.Header.Get("rtmp-event"), &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cb := NewHTTPCallback(srv.URL, "s3cr3t", "", "", 0)
	ok := cb.PublishEnd("live", "abc-123")

	assert.True(t, ok)
	assert.Equal(t, "stop", received["event"])
	assert.Equal(t, "abc-123", received["stream_id"])
}

func TestNilHTTPCallbackAcceptsEverything(t *testing.T) {
	var cb *HTTPCallback
	accepted, streamID := cb.RequestPublish("live", "key", "1.1.1.1")
	assert.True(t, accepted)
	assert.Equal(t, "", streamID)
	assert.True(t, cb.PublishEnd("live", "x"))
}
