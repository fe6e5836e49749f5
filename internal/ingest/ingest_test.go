package ingest

import (
	"testing"

	"github.com/jcom-dev/stipnode/internal/dht"
	"github.com/jcom-dev/stipnode/internal/store"
)

func img(tile string, start int64) store.ListedImage {
	return store.ListedImage{Metadata: store.Metadata{Tile: tile, StartTimestamp: start}}
}

func TestBucketizeSplitsOnWindowGap(t *testing.T) {
	images := []store.ListedImage{
		img("a", 0),
		img("b", 50),
		img("c", 500), // gap > window
	}

	buckets := bucketize("9q8y", images, 100)
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
	if len(buckets[0].images) != 2 {
		t.Errorf("first bucket should have 2 images, got %d", len(buckets[0].images))
	}
	if len(buckets[1].images) != 1 {
		t.Errorf("second bucket should have 1 image, got %d", len(buckets[1].images))
	}
}

func TestBucketizeWindowMeasuredFromBucketStart(t *testing.T) {
	// each gap is 60s (within a 100s window of the immediately preceding
	// item) but cumulative drift from the bucket's first item exceeds 100s
	// by the third item, so it must start a new bucket.
	images := []store.ListedImage{
		img("a", 0),
		img("b", 60),
		img("c", 120),
	}
	buckets := bucketize("9q8y", images, 100)
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets (drift from bucket start), got %d", len(buckets))
	}
}

func TestBucketizeEmptyInput(t *testing.T) {
	buckets := bucketize("9q8y", nil, 100)
	if len(buckets) != 0 {
		t.Errorf("expected no buckets for empty input, got %d", len(buckets))
	}
}

func TestDistinctTilesCountsUniqueNames(t *testing.T) {
	images := []store.ListedImage{img("a", 0), img("a", 10), img("b", 20)}
	if got := distinctTiles(images); got != 2 {
		t.Errorf("distinctTiles = %d, want 2", got)
	}
}

func TestDistinctTileNamesSortedAndDeduped(t *testing.T) {
	images := []store.ListedImage{img("b", 0), img("a", 10), img("b", 20)}
	names := distinctTileNames(images)
	want := []string{"a", "b"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestRouterPushReportsRoutingGap(t *testing.T) {
	router := Router{DHT: dht.New(), DHTKeyLength: 4}
	err := router.push("9q8y", store.Metadata{}, nil)
	if err == nil {
		t.Error("expected routing-gap error when DHT has no members")
	}
}
