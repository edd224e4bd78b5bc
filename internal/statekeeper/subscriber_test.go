package statekeeper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeTarget struct {
	channel string
	key     string
	calls   int
}

func (f *fakeTarget) KillPublish(channel, key string) {
	f.calls++
	f.channel = channel
	f.key = key
}

func TestDispatchKillSession(t *testing.T) {
	target := &fakeTarget{}
	s := &Subscriber{target: target}

	s.dispatch("kill-session>live")

	assert.Equal(t, 1, target.calls)
	assert.Equal(t, "live", target.channel)
	assert.Equal(t, "", target.key)
}

func TestDispatchCloseStream(t *testing.T) {
	target := &fakeTarget{}
	s := &Subscriber{target: target}

	s.dispatch("close-stream>live|abc123")

	assert.Equal(t, 1, target.calls)
	assert.Equal(t, "live", target.channel)
	assert.Equal(t, "abc123", target.key)
}

func TestDispatchUnknownCommandIsIgnored(t *testing.T) {
	target := &fakeTarget{}
	s := &Subscriber{target: target}

	s.dispatch("not-a-real-command>live")

	assert.Equal(t, 0, target.calls)
}

func TestNewWithoutAddrReturnsNil(t *testing.T) {
	s := New(&fakeTarget{}, "", "", "chan", 0, false)
	assert.Nil(t, s)
}
