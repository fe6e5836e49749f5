package membership

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jcom-dev/stipnode/internal/dht"
)

func TestRefreshKeepsPreviousSnapshotOnSeedFailure(t *testing.T) {
	var fail atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(nodeListResponse{Members: []memberEntry{
			{NodeID: 2, RPCAddr: "10.0.0.2:15606", XferAddr: "10.0.0.2:15607", Tokens: []uint64{100}},
		}})
	}))
	defer ts.Close()

	d := dht.New()
	self := Self{Tokens: []uint64{1}, Peer: dht.Peer{NodeID: 1, RPCAddr: "10.0.0.1:15606", XferAddr: "10.0.0.1:15607"}}
	p := NewSeedPoller(ts.Listener.Addr().String(), self, time.Hour, d)

	p.refresh(context.Background())
	if len(d.Members()) != 2 {
		t.Fatalf("after healthy refresh: got %d members, want 2", len(d.Members()))
	}

	fail.Store(true)
	p.refresh(context.Background())
	if len(d.Members()) != 2 {
		t.Fatalf("after failed refresh: got %d members, want 2 (previous snapshot kept)", len(d.Members()))
	}
	if _, ok := d.Locate(100); !ok {
		t.Error("expected peer 2's token to still be routable after a failed refresh")
	}
}
