// Package cluster implements the cluster broadcast: the entry node fetches
// the current membership, issues a typed request to every member in
// parallel, and returns per-node replies keyed by node id. A failed peer
// contributes an error entry; it never aborts the others.
package cluster

import (
	"context"
	"sync"

	"github.com/jcom-dev/stipnode/internal/dht"

	"golang.org/x/sync/errgroup"
)

// RequestKind tags which data operation a broadcast request carries. A
// broadcast only ever carries a fill or a split, never a list/search, since
// those are answered locally by the entry node via internal/query.
type RequestKind int

const (
	RequestFill RequestKind = iota
	RequestSplit
)

// Request is the tagged union DataBroadcastRequest = Fill | Split resolves
// to in Go: Kind selects which of Fill/Split is populated.
type Request struct {
	Kind  RequestKind
	Fill  FillRequest
	Split SplitRequest
}

// FillRequest is the wire shape of a broadcast fill call.
type FillRequest struct {
	Album         string
	Platform      string
	Band          string
	GeocodePrefix string
	Precision     int
	WindowSeconds int64
	ThreadCount   int
}

// SplitRequest is the wire shape of a broadcast split call.
type SplitRequest struct {
	Album        string
	Platform     string
	GeocodeBound string
	Precision    int
	ThreadCount  int
}

// Reply is one member's outcome: TaskID is set on success; Err is set (and
// TaskID is zero) if the peer could not be reached or refused the request.
type Reply struct {
	TaskID uint64
	Err    error
}

// Dispatcher issues a Request to one peer and returns the task id the peer
// started it under. Implemented by the RPC client the node daemon wires in
// (internal/rpc); kept as an interface here so cluster has no dependency on
// the transport.
type Dispatcher interface {
	Dispatch(ctx context.Context, peer dht.Peer, req Request) (taskID uint64, err error)
}

// Broadcast fans req out to every member of d in parallel (bounded by the
// member count, since cluster size is small relative to the transfer/ingest
// worker pools, so no additional concurrency cap is needed) and collects one
// Reply per node id. A failed peer's entry holds its error; every other
// entry still succeeds, so the reply map's key set always equals the
// current membership's node ids.
func Broadcast(ctx context.Context, d *dht.DHT, dispatcher Dispatcher, req Request) map[uint16]Reply {
	members := d.Members()

	replies := make(map[uint16]Reply, len(members))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range members {
		peer := peer
		g.Go(func() error {
			taskID, err := dispatcher.Dispatch(gctx, peer, req)

			mu.Lock()
			replies[peer.NodeID] = Reply{TaskID: taskID, Err: err}
			mu.Unlock()

			return nil // a peer error is recorded in the reply map, never aborts the group
		})
	}
	_ = g.Wait() // Dispatch goroutines never return a group error; see above

	return replies
}
