package cluster

import (
	"context"
	"errors"
	"testing"

	"github.com/jcom-dev/stipnode/internal/dht"
)

type fakeDispatcher struct {
	failNode uint16
}

func (f fakeDispatcher) Dispatch(_ context.Context, peer dht.Peer, _ Request) (uint64, error) {
	if peer.NodeID == f.failNode {
		return 0, errors.New("connection refused")
	}
	return uint64(peer.NodeID) + 100, nil
}

func threeNodeDHT() *dht.DHT {
	d := dht.New()
	d.Update(map[uint64]dht.Peer{
		0:              {NodeID: 0, RPCAddr: "10.0.0.1:15606", XferAddr: "10.0.0.1:15607"},
		1 << 62:        {NodeID: 1, RPCAddr: "10.0.0.2:15606", XferAddr: "10.0.0.2:15607"},
		1 << 63:        {NodeID: 2, RPCAddr: "10.0.0.3:15606", XferAddr: "10.0.0.3:15607"},
	})
	return d
}

func TestBroadcastReplyMapCoversAllMembers(t *testing.T) {
	d := threeNodeDHT()
	replies := Broadcast(context.Background(), d, fakeDispatcher{failNode: 99}, Request{Kind: RequestFill})

	if len(replies) != 3 {
		t.Fatalf("expected 3 replies, got %d", len(replies))
	}
	for _, nodeID := range []uint16{0, 1, 2} {
		r, ok := replies[nodeID]
		if !ok {
			t.Errorf("missing reply for node %d", nodeID)
		}
		if r.Err != nil {
			t.Errorf("node %d: unexpected error %v", nodeID, r.Err)
		}
	}
}

func TestBroadcastPartialFailureIsolatesOneNode(t *testing.T) {
	d := threeNodeDHT()
	replies := Broadcast(context.Background(), d, fakeDispatcher{failNode: 2}, Request{Kind: RequestSplit})

	if len(replies) != 3 {
		t.Fatalf("expected 3 replies even with one failure, got %d", len(replies))
	}
	if replies[2].Err == nil {
		t.Error("expected node 2 to have an error entry")
	}
	if replies[0].Err != nil || replies[1].Err != nil {
		t.Error("nodes 0 and 1 should have succeeded despite node 2's failure")
	}
}

func TestBroadcastEmptyMembership(t *testing.T) {
	replies := Broadcast(context.Background(), dht.New(), fakeDispatcher{}, Request{Kind: RequestFill})
	if len(replies) != 0 {
		t.Errorf("expected no replies for empty membership, got %d", len(replies))
	}
}
