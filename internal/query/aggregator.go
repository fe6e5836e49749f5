// Package query implements the cluster-wide query aggregator: list scatters
// to every cluster member and interleaves their streams with no
// deduplication; search scatters the same way but sums per-node extents into
// one cluster-wide tally, optionally served from a short-TTL cache.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jcom-dev/stipnode/internal/cache"
	"github.com/jcom-dev/stipnode/internal/dht"
	"github.com/jcom-dev/stipnode/internal/store"

	"golang.org/x/sync/errgroup"
)

// NodeClient reaches one remote peer's list/search RPCs. The node daemon
// wires an HTTP client implementation (internal/rpc); kept as an interface
// here so this package has no transport dependency, mirroring
// internal/cluster's Dispatcher seam.
type NodeClient interface {
	List(ctx context.Context, peer dht.Peer, filter store.Filter, yield func(store.ListedImage) error) error
	Search(ctx context.Context, peer dht.Peer, filter store.Filter) ([]store.Extent, error)
}

// ListResult is one tile yielded by List, tagged with the node id it came
// from.
type ListResult struct {
	NodeID uint16
	Image  store.ListedImage
}

// Aggregator fans list/search out across the cluster. A request for the
// local node's own peer entry is served directly from Local, skipping the
// network round trip; every other member goes through Client.
type Aggregator struct {
	DHT        *dht.DHT
	Local      *store.Store
	SelfNodeID uint16
	Client     NodeClient

	// Cache, when non-nil, backs Search results for CacheTTL. A CacheTTL of
	// 0 disables caching even with a non-nil Cache.
	Cache    *cache.Cache
	CacheTTL time.Duration
}

// List scatters filter to every cluster member and invokes yield once per
// matching tile as it arrives, from whichever node answers first. There is
// no ordering guarantee across nodes and no deduplication of tiles two nodes
// both happen to hold. A yield error cancels the remaining fan-out and is
// returned to the caller; a per-peer transport error is logged and does not
// stop the others.
func (a *Aggregator) List(ctx context.Context, filter store.Filter, yield func(ListResult) error) error {
	members := a.DHT.Members()
	if len(members) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan ListResult)
	var wg sync.WaitGroup
	for _, peer := range members {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.listOnePeer(ctx, peer, filter, results); err != nil && ctx.Err() == nil {
				slog.Warn("query: list from peer failed, continuing with others", "node_id", peer.NodeID, "error", err)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if err := yield(r); err != nil {
			cancel()
			for range results {
				// drain so the producer goroutines, which select on
				// ctx.Done() alongside their channel send, can unblock and
				// exit once they notice cancellation.
			}
			return err
		}
	}
	return nil
}

func (a *Aggregator) listOnePeer(ctx context.Context, peer dht.Peer, filter store.Filter, out chan<- ListResult) error {
	push := func(img store.ListedImage) error {
		select {
		case out <- ListResult{NodeID: peer.NodeID, Image: img}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if peer.NodeID == a.SelfNodeID && a.Local != nil {
		return a.Local.List(filter, push)
	}
	return a.Client.List(ctx, peer, filter, push)
}

// Search scatters filter to every cluster member and sums their extents into
// one cluster-wide tally keyed by (platform, geocode, band, source,
// precision), emitted in lexicographic key order. Results are served from
// Cache when present and fresh; a cache miss, a disabled cache (CacheTTL <=
// 0), or any cache error all fall through to a live fan-out. The cache
// never becomes the source of truth.
func (a *Aggregator) Search(ctx context.Context, filter store.Filter) ([]store.Extent, error) {
	key := searchCacheKey(filter)

	if a.Cache != nil && a.CacheTTL > 0 {
		var cached []store.Extent
		hit, err := a.Cache.Get(ctx, key, &cached)
		if err != nil {
			slog.Warn("query: search cache get failed, falling back to live fan-out", "error", err)
		} else if hit {
			return cached, nil
		}
	}

	members := a.DHT.Members()
	sums := map[store.Extent]int64{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range members {
		peer := peer
		g.Go(func() error {
			extents, err := a.searchOnePeer(gctx, peer, filter)
			if err != nil {
				slog.Warn("query: search on peer failed, continuing with others", "node_id", peer.NodeID, "error", err)
				return nil
			}
			mu.Lock()
			for _, e := range extents {
				row := e
				row.Count = 0
				sums[row] += e.Count
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // per-peer errors are logged above and never aborts the group

	out := make([]store.Extent, 0, len(sums))
	for row, count := range sums {
		row.Count = count
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return extentLess(out[i], out[j]) })

	if a.Cache != nil && a.CacheTTL > 0 {
		if err := a.Cache.Set(ctx, key, out, a.CacheTTL); err != nil {
			slog.Warn("query: search cache set failed", "error", err)
		}
	}
	return out, nil
}

func (a *Aggregator) searchOnePeer(ctx context.Context, peer dht.Peer, filter store.Filter) ([]store.Extent, error) {
	if peer.NodeID == a.SelfNodeID && a.Local != nil {
		return a.Local.Search(filter)
	}
	return a.Client.Search(ctx, peer, filter)
}

// extentLess orders two extent rows by (platform, geocode, band, source,
// precision) lexicographically, Search's required emission order.
func extentLess(a, b store.Extent) bool {
	if a.Platform != b.Platform {
		return a.Platform < b.Platform
	}
	if a.Geocode != b.Geocode {
		return a.Geocode < b.Geocode
	}
	if a.Band != b.Band {
		return a.Band < b.Band
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	return a.Precision < b.Precision
}

// searchCacheKey canonicalizes filter into a deterministic cache key.
// store.Filter's fields are all plain value/pointer types with a fixed
// struct field order, so JSON-marshaling it is already a stable
// canonicalization without needing a bespoke key builder.
func searchCacheKey(filter store.Filter) string {
	b, err := json.Marshal(filter)
	if err != nil {
		// store.Filter has no type that can fail to marshal (strings,
		// *int64, *float64); this is unreachable in practice.
		return fmt.Sprintf("search:fallback:%+v", filter)
	}
	return "search:" + string(b)
}
