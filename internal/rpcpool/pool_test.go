package rpcpool

import (
	"sync"
	"testing"
	"time"

	messages "github.com/AgustinSRG/go-simple-rpc-message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolExecutesSubmittedQueries(t *testing.T) {
	var mu sync.Mutex
	var results []string

	p := New(2, 8, func(q messages.RPCMessage) messages.RPCMessage {
		return messages.RPCMessage{Method: q.Method + "-DONE"}
	}, func(r messages.RPCMessage) {
		mu.Lock()
		results = append(results, r.Method)
		mu.Unlock()
	})
	p.Start()
	defer p.Stop()

	require.True(t, p.Submit(messages.RPCMessage{Method: "A"}))
	require.True(t, p.Submit(messages.RPCMessage{Method: "B"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestPoolSubmitRejectsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	p := New(1, 1, func(q messages.RPCMessage) messages.RPCMessage {
		<-block
		return q
	}, nil)
	p.Start()
	defer func() {
		close(block)
		p.Stop()
	}()

	require.True(t, p.Submit(messages.RPCMessage{Method: "A"}))
	time.Sleep(20 * time.Millisecond) // let the single worker pick A up

	require.True(t, p.Submit(messages.RPCMessage{Method: "B"}))
	assert.False(t, p.Submit(messages.RPCMessage{Method: "C"}))
}

func TestPoolStatsReportsQueueAndWorkers(t *testing.T) {
	p := New(3, 10, func(q messages.RPCMessage) messages.RPCMessage { return q }, nil)
	assert.Equal(t, Stats{QueueSize: 0, BusyWorkers: 0, Workers: 3}, p.Stats())
}

func TestPoolWorkerSurvivesExecutorPanic(t *testing.T) {
	var mu sync.Mutex
	handled := 0

	p := New(1, 4, func(q messages.RPCMessage) messages.RPCMessage {
		if q.Method == "BOOM" {
			panic("executor exploded")
		}
		return q
	}, func(messages.RPCMessage) {
		mu.Lock()
		handled++
		mu.Unlock()
	})
	p.Start()
	defer p.Stop()

	require.True(t, p.Submit(messages.RPCMessage{Method: "BOOM"}))
	require.True(t, p.Submit(messages.RPCMessage{Method: "OK"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handled == 1
	}, time.Second, 5*time.Millisecond)
}
