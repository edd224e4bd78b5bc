package controlplane

import (
	"testing"

	messages "github.com/AgustinSRG/go-simple-rpc-message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutBaseURLRunsStandAlone(t *testing.T) {
	c := New(nil, "", "", 2, 8)
	accepted, streamID := c.RequestPublish("live", "key", "127.0.0.1")
	assert.True(t, accepted)
	assert.Equal(t, "", streamID)
}

type fakeKillTarget struct {
	channel string
	key     string
	called  bool
}

func (f *fakeKillTarget) KillPublish(channel, key string) {
	f.called = true
	f.channel = channel
	f.key = key
}

func TestExecuteStreamKillInvokesTarget(t *testing.T) {
	target := &fakeKillTarget{}
	c := New(target, "", "", 2, 8)

	c.execute(messages.RPCMessage{
		Method: "STREAM-KILL",
		Params: map[string]string{"Stream-Channel": "live", "Stream-Key": "abc"},
	})

	require.True(t, target.called)
	assert.Equal(t, "live", target.channel)
	assert.Equal(t, "abc", target.key)
}

func TestExecuteStreamKillWildcardClearsKey(t *testing.T) {
	target := &fakeKillTarget{}
	c := New(target, "", "", 2, 8)

	c.execute(messages.RPCMessage{
		Method: "STREAM-KILL",
		Params: map[string]string{"Stream-Channel": "live", "Stream-Key": "*"},
	})

	require.True(t, target.called)
	assert.Equal(t, "", target.key)
}

func TestResolvePublishDeliversToWaiter(t *testing.T) {
	c := New(nil, "", "", 2, 8)
	req := &pendingPublish{waiter: make(chan publishResponse, 1)}
	c.pending["r1"] = req

	c.resolvePublish("r1", publishResponse{accepted: true, streamID: "s1"})

	resp := <-req.waiter
	assert.True(t, resp.accepted)
	assert.Equal(t, "s1", resp.streamID)
}

func TestRPCPoolStatsReportsWorkerCount(t *testing.T) {
	c := New(nil, "", "", 3, 8)
	if got := c.RPCPoolStats().Workers; got != 3 {
		t.Fatalf("workers = %d, want 3", got)
	}
}
