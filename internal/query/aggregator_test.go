package query

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/jcom-dev/stipnode/internal/cache"
	"github.com/jcom-dev/stipnode/internal/dht"
	"github.com/jcom-dev/stipnode/internal/store"
)

type fakeNodeClient struct {
	listByNode   map[uint16][]store.ListedImage
	searchByNode map[uint16][]store.Extent
	failNode     uint16
}

func (f *fakeNodeClient) List(_ context.Context, peer dht.Peer, _ store.Filter, yield func(store.ListedImage) error) error {
	if peer.NodeID == f.failNode {
		return errors.New("dial refused")
	}
	for _, img := range f.listByNode[peer.NodeID] {
		if err := yield(img); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeNodeClient) Search(_ context.Context, peer dht.Peer, _ store.Filter) ([]store.Extent, error) {
	if peer.NodeID == f.failNode {
		return nil, errors.New("dial refused")
	}
	return f.searchByNode[peer.NodeID], nil
}

func twoMemberDHT() *dht.DHT {
	d := dht.New()
	d.Update(map[uint64]dht.Peer{
		0:       {NodeID: 1, RPCAddr: "10.0.0.1:15606"},
		1 << 63: {NodeID: 2, RPCAddr: "10.0.0.2:15606"},
	})
	return d
}

func TestListInterleavesAllNodesNoDedup(t *testing.T) {
	client := &fakeNodeClient{listByNode: map[uint16][]store.ListedImage{
		1: {{Metadata: store.Metadata{Tile: "a"}}},
		2: {{Metadata: store.Metadata{Tile: "a"}}, {Metadata: store.Metadata{Tile: "b"}}},
	}}
	agg := &Aggregator{DHT: twoMemberDHT(), SelfNodeID: 0, Client: client}

	var got []ListResult
	err := agg.List(context.Background(), store.Filter{}, func(r ListResult) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 results (no dedup across duplicate tile \"a\"), got %d", len(got))
	}
}

func TestListStopsOnYieldError(t *testing.T) {
	client := &fakeNodeClient{listByNode: map[uint16][]store.ListedImage{
		1: {{Metadata: store.Metadata{Tile: "a"}}, {Metadata: store.Metadata{Tile: "b"}}},
	}}
	agg := &Aggregator{DHT: twoMemberDHT(), SelfNodeID: 0, Client: client}

	wantErr := errors.New("writer closed")
	err := agg.List(context.Background(), store.Filter{}, func(r ListResult) error {
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("List error = %v, want %v", err, wantErr)
	}
}

func TestListToleratesOnePeerFailure(t *testing.T) {
	client := &fakeNodeClient{
		failNode: 1,
		listByNode: map[uint16][]store.ListedImage{
			2: {{Metadata: store.Metadata{Tile: "a"}}},
		},
	}
	agg := &Aggregator{DHT: twoMemberDHT(), SelfNodeID: 0, Client: client}

	var got []ListResult
	err := agg.List(context.Background(), store.Filter{}, func(r ListResult) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected results from the surviving peer only, got %d", len(got))
	}
}

func TestSearchSumsAcrossNodes(t *testing.T) {
	extent := store.Extent{Platform: "p", Geocode: "9q8y", Band: "b1", Source: store.SourceRaw, Precision: 4}
	client := &fakeNodeClient{searchByNode: map[uint16][]store.Extent{
		1: {{Platform: extent.Platform, Geocode: extent.Geocode, Band: extent.Band, Source: extent.Source, Precision: extent.Precision, Count: 3}},
		2: {{Platform: extent.Platform, Geocode: extent.Geocode, Band: extent.Band, Source: extent.Source, Precision: extent.Precision, Count: 4}},
	}}
	agg := &Aggregator{DHT: twoMemberDHT(), SelfNodeID: 0, Client: client}

	out, err := agg.Search(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 merged row, got %d", len(out))
	}
	if out[0].Count != 7 {
		t.Errorf("Count = %d, want 7 (3+4 summed, not deduped)", out[0].Count)
	}
}

func TestSearchOrdersLexicographicallyByKeyTuple(t *testing.T) {
	client := &fakeNodeClient{searchByNode: map[uint16][]store.Extent{
		1: {
			{Platform: "zz", Geocode: "a", Band: "b", Source: store.SourceRaw, Precision: 1, Count: 1},
			{Platform: "aa", Geocode: "z", Band: "b", Source: store.SourceRaw, Precision: 1, Count: 1},
		},
	}}
	agg := &Aggregator{DHT: twoMemberDHT(), SelfNodeID: 0, Client: client}

	out, err := agg.Search(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(out))
	}
	if out[0].Platform != "aa" || out[1].Platform != "zz" {
		t.Errorf("rows not in lexicographic platform order: %+v", out)
	}
}

func TestSearchToleratesOnePeerFailure(t *testing.T) {
	client := &fakeNodeClient{
		failNode: 1,
		searchByNode: map[uint16][]store.Extent{
			2: {{Platform: "p", Geocode: "g", Band: "b", Source: store.SourceRaw, Precision: 1, Count: 5}},
		},
	}
	agg := &Aggregator{DHT: twoMemberDHT(), SelfNodeID: 0, Client: client}

	out, err := agg.Search(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 1 || out[0].Count != 5 {
		t.Fatalf("expected the surviving peer's row only, got %+v", out)
	}
}

func TestSearchServesFromCacheOnHit(t *testing.T) {
	mr := miniredis.RunT(t)
	c := cache.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	var calls atomic.Int64
	client := &fakeNodeClient{searchByNode: map[uint16][]store.Extent{
		1: {{Platform: "p", Geocode: "g", Band: "b", Source: store.SourceRaw, Precision: 1, Count: 1}},
	}}
	countingClient := countingNodeClient{fakeNodeClient: client, calls: &calls}

	agg := &Aggregator{DHT: twoMemberDHT(), SelfNodeID: 0, Client: countingClient, Cache: c, CacheTTL: time.Minute}

	if _, err := agg.Search(context.Background(), store.Filter{}); err != nil {
		t.Fatalf("first Search: %v", err)
	}
	if _, err := agg.Search(context.Background(), store.Filter{}); err != nil {
		t.Fatalf("second Search: %v", err)
	}
	if got := calls.Load(); got != 2 { // one fan-out call per member on the first (uncached) Search only
		t.Errorf("expected the second Search to be served from cache (2 peer calls total), got %d", got)
	}
}

type countingNodeClient struct {
	*fakeNodeClient
	calls *atomic.Int64
}

func (c countingNodeClient) Search(ctx context.Context, peer dht.Peer, filter store.Filter) ([]store.Extent, error) {
	c.calls.Add(1)
	return c.fakeNodeClient.Search(ctx, peer, filter)
}
