package ingest

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jcom-dev/stipnode/internal/codec"
	"github.com/jcom-dev/stipnode/internal/geocode"
	"github.com/jcom-dev/stipnode/internal/store"
	"github.com/jcom-dev/stipnode/internal/task"
)

// FillRequest configures one run of the fill pipeline: composite every
// image in a geocode bucket within a time window into one merged tile.
type FillRequest struct {
	Album            string
	Platform         string
	Band             string
	GeocodePrefix    string
	GeocodeAlgorithm geocode.Algorithm
	Precision        int
	WindowSeconds    int64
	ThreadCount      int
}

// bucket is a set of co-located images (same geocode at req.Precision)
// whose start timestamps fall within one window_seconds span of each other.
type bucket struct {
	geocode string
	images  []store.ListedImage
}

// Fill selects local raw/split images under req.GeocodePrefix, groups them
// by geocode at req.Precision, clusters each group's images into temporal
// buckets no wider than WindowSeconds, and composites every bucket holding
// two or more distinct tiles into one `filled` tile spanning the bucket's
// timestamp range. Buckets with a single tile, or whose composite has zero
// coverage, are skipped (items_skipped++).
func Fill(mgr *task.Manager, st *store.Store, router Router, req FillRequest) (uint64, *task.Handle, error) {
	filter := store.Filter{Platform: req.Platform, Band: req.Band, Geocode: req.GeocodePrefix}

	grouped := map[string][]store.ListedImage{}
	err := st.List(filter, func(li store.ListedImage) error {
		if li.Source != store.SourceRaw && li.Source != store.SourceSplit {
			return nil
		}
		if len(li.Geocode) < req.Precision {
			return nil
		}
		key := geocode.TruncatePrefix(li.Geocode, req.Precision)
		grouped[key] = append(grouped[key], li)
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("ingest: list fill candidates: %w", err)
	}

	var buckets []bucket
	for code, images := range grouped {
		buckets = append(buckets, bucketize(code, images, req.WindowSeconds)...)
	}

	id, handle := runPipeline(mgr, req.ThreadCount, buckets, func(b bucket) error {
		return processFillBucket(b, req, router)
	})
	return id, handle, nil
}

// bucketize sorts images by start timestamp ascending and splits them into
// consecutive runs where each image starts within windowSeconds of the run's
// first image.
func bucketize(code string, images []store.ListedImage, windowSeconds int64) []bucket {
	sorted := append([]store.ListedImage(nil), images...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartTimestamp < sorted[j].StartTimestamp })

	var buckets []bucket
	var current []store.ListedImage
	var windowStart int64

	for _, img := range sorted {
		if len(current) == 0 {
			current = []store.ListedImage{img}
			windowStart = img.StartTimestamp
			continue
		}
		if img.StartTimestamp-windowStart > windowSeconds {
			buckets = append(buckets, bucket{geocode: code, images: current})
			current = []store.ListedImage{img}
			windowStart = img.StartTimestamp
			continue
		}
		current = append(current, img)
	}
	if len(current) > 0 {
		buckets = append(buckets, bucket{geocode: code, images: current})
	}
	return buckets
}

// distinctTiles counts the number of distinct source tiles in a bucket. A
// bucket of N windows from the same tile is not a fill candidate, only
// multiple distinct acquisitions are.
func distinctTiles(images []store.ListedImage) int {
	seen := map[string]bool{}
	for _, img := range images {
		seen[img.Tile] = true
	}
	return len(seen)
}

func processFillBucket(b bucket, req FillRequest, router Router) error {
	if distinctTiles(b.images) < 2 {
		return fmt.Errorf("bucket %q has fewer than 2 distinct tiles, skipping", b.geocode)
	}

	datasets := make([]*codec.Dataset, 0, len(b.images))
	defer func() {
		for _, ds := range datasets {
			ds.Close()
		}
	}()
	for _, img := range b.images {
		ds, err := codec.Open(img.Path)
		if err != nil {
			return fmt.Errorf("open %q: %w", img.Path, err)
		}
		datasets = append(datasets, ds)
	}

	destPath, cleanup, err := scratchTifPath()
	if err != nil {
		return err
	}
	defer cleanup()

	composite, err := codec.Composite(datasets, destPath)
	if err != nil {
		return fmt.Errorf("composite: %w", err)
	}
	defer composite.Close()

	coverage, err := codec.Coverage(composite)
	if err != nil {
		return fmt.Errorf("compute composite coverage: %w", err)
	}
	if coverage == 0 {
		return fmt.Errorf("composite for bucket %q has zero coverage, skipping", b.geocode)
	}

	first, last := b.images[0], b.images[len(b.images)-1]
	tileName := strings.Join(distinctTileNames(b.images), "+")

	m := store.Metadata{
		Album:           req.Album,
		Platform:        first.Platform,
		Geocode:         b.geocode,
		Band:            first.Band,
		Source:          store.SourceFilled,
		Tile:            tileName,
		SubdatasetIndex: 0,
		StartTimestamp:  first.StartTimestamp,
		EndTimestamp:    last.StartTimestamp,
		PixelCoverage:   coverage,
		CloudCoverage:   store.UnknownCloudCoverage(),
	}
	if err := router.push(b.geocode, m, composite); err != nil {
		return fmt.Errorf("route/push composite: %w", err)
	}
	return nil
}

func distinctTileNames(images []store.ListedImage) []string {
	seen := map[string]bool{}
	var names []string
	for _, img := range images {
		if !seen[img.Tile] {
			seen[img.Tile] = true
			names = append(names, img.Tile)
		}
	}
	sort.Strings(names)
	return names
}

func scratchTifPath() (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "ingest-fill-*.tif")
	if err != nil {
		return "", nil, fmt.Errorf("ingest: scratch file: %w", err)
	}
	name := f.Name()
	f.Close()
	return name, func() { os.Remove(name) }, nil
}
