package statshooks

import (
	"testing"

	messages "github.com/AgustinSRG/go-simple-rpc-message"

	"github.com/relaycore/mediacore/internal/rpcpool"
)

func TestFlattenPoolReportsWorkerCount(t *testing.T) {
	p := rpcpool.New(4, 10, func(q messages.RPCMessage) messages.RPCMessage { return q }, nil)
	src := FlattenPool(p)

	snap := src()
	if snap["workers"] != 4 {
		t.Fatalf("workers = %d, want 4", snap["workers"])
	}
}
