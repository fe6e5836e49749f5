// Package ingest implements the load, split, and fill pipelines: external
// archive ingestion, finer-precision re-splitting of local tiles, and
// temporal compositing of co-located tiles. All three share one execution
// shape: a bounded channel fed by a single producer and drained by
// thread_count workers, supervised by a goroutine that joins the workers
// and sets the task's terminal status.
package ingest

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jcom-dev/stipnode/internal/codec"
	"github.com/jcom-dev/stipnode/internal/dht"
	"github.com/jcom-dev/stipnode/internal/geocode"
	"github.com/jcom-dev/stipnode/internal/store"
	"github.com/jcom-dev/stipnode/internal/task"
	"github.com/jcom-dev/stipnode/internal/transfer"
)

// channelDepth is the bounded producer/worker channel depth.
const channelDepth = 256

// DefaultThreadCount is used when a request does not specify one.
const DefaultThreadCount = 4

// Router is the subset of DHT + membership behavior the pipelines need to
// place a tile: hash a geocode to a key and find its current owner.
type Router struct {
	DHT          *dht.DHT
	DHTKeyLength int
}

// push looks up geocode's owner and sends the tile. Both a routing gap
// (no owner found) and a transfer failure are reported to the caller as a
// skip, never a task failure.
func (r Router) push(geocodeStr string, m store.Metadata, ds *codec.Dataset) error {
	key := dht.Key(geocodeStr, r.DHTKeyLength)
	peer, ok := r.DHT.Locate(key)
	if !ok {
		return fmt.Errorf("no dht location for geocode %q", geocodeStr)
	}
	if peer.XferAddr == "" {
		return fmt.Errorf("dht node %d has no xfer address", peer.NodeID)
	}
	if err := transfer.Send(peer.XferAddr, m, ds); err != nil {
		return fmt.Errorf("send to node %d (%s): %w", peer.NodeID, peer.XferAddr, err)
	}
	return nil
}

// runPipeline drives the shared producer/worker/supervisor shape: items is
// enumerated into a bounded channel by one goroutine, threadCount workers
// drain it calling process per item, and the task handle's status becomes
// Complete once every item is processed, or Failure if a worker panics.
// Per-item processing errors are tile errors, not task failures, and only
// increment items_skipped.
func runPipeline[T any](mgr *task.Manager, threadCount int, items []T, process func(T) error) (uint64, *task.Handle) {
	if threadCount <= 0 {
		threadCount = DefaultThreadCount
	}

	id, handle := mgr.Start(uint32(len(items)))
	ch := make(chan T, channelDepth)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstPanic error

	for i := 0; i < threadCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					if firstPanic == nil {
						firstPanic = fmt.Errorf("worker panic: %v", r)
					}
					mu.Unlock()
				}
			}()

			for item := range ch {
				if err := process(item); err != nil {
					slog.Warn("ingest: skipping item", "error", err)
					handle.IncSkipped()
					continue
				}
				handle.IncCompleted()
			}
		}()
	}

	go func() {
		for _, item := range items {
			ch <- item
		}
		close(ch)
		wg.Wait()

		if firstPanic != nil {
			handle.SetStatus(task.Failure(firstPanic.Error()))
			return
		}
		handle.SetStatus(task.Complete())
	}()

	return id, handle
}

// windowGeocode encodes the representative corner of a split window at
// precision, using the window's max-x/max-y corner.
func windowGeocode(enc geocode.Encoder, w codec.Window, precision int) (string, error) {
	return enc.Encode(w.MaxX, w.MaxY, precision)
}
