package ingest

import (
	"fmt"
	"strings"

	"github.com/jcom-dev/stipnode/internal/codec"
	"github.com/jcom-dev/stipnode/internal/geocode"
	"github.com/jcom-dev/stipnode/internal/store"
	"github.com/jcom-dev/stipnode/internal/task"
)

// SplitRequest configures one run of the split pipeline.
type SplitRequest struct {
	Album            string
	Platform         string // empty == no platform filter
	GeocodeBound     string // empty == no bound; otherwise images must be inside-or-containing this geocode
	GeocodeAlgorithm geocode.Algorithm
	Precision        int
	ThreadCount      int
}

// Split selects local source=raw images at a precision coarser than
// req.Precision, re-splits each into req.Precision-sized windows, discards
// windows whose geocode no longer starts with the source image's geocode,
// and routes/pushes the rest with source=split.
func Split(mgr *task.Manager, st *store.Store, router Router, req SplitRequest) (uint64, *task.Handle, error) {
	enc, err := geocode.For(req.GeocodeAlgorithm)
	if err != nil {
		return 0, nil, err
	}
	lonInterval, latInterval, err := geocode.CellSize(req.GeocodeAlgorithm, req.Precision)
	if err != nil {
		return 0, nil, err
	}

	filter := store.Filter{Platform: req.Platform, Source: store.SourceRaw}
	var records []store.ListedImage
	err = st.List(filter, func(li store.ListedImage) error {
		if len(li.Geocode) >= req.Precision {
			return nil // already at or finer than target precision
		}
		if req.GeocodeBound != "" && !geocode.Inside(req.GeocodeBound, li.Geocode) && !geocode.Inside(li.Geocode, req.GeocodeBound) {
			return nil
		}
		records = append(records, li)
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("ingest: list split candidates: %w", err)
	}

	id, handle := runPipeline(mgr, req.ThreadCount, records, func(li store.ListedImage) error {
		return processSplitCandidate(li, req, enc, lonInterval, latInterval, router)
	})
	return id, handle, nil
}

func processSplitCandidate(li store.ListedImage, req SplitRequest, enc geocode.Encoder, lonInterval, latInterval float64, router Router) error {
	ds, err := codec.Open(li.Path)
	if err != nil {
		return fmt.Errorf("open %q: %w", li.Path, err)
	}
	defer ds.Close()

	windows, err := codec.Split(ds, lonInterval, latInterval)
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}
	defer func() {
		for _, w := range windows {
			w.Dataset.Close()
		}
	}()

	for _, w := range windows {
		code, err := windowGeocode(enc, w.Window, req.Precision)
		if err != nil {
			return fmt.Errorf("encode window geocode: %w", err)
		}

		if !strings.HasPrefix(code, li.Geocode) {
			continue // tie-break: a window must not escape its source image's geocode (invariant 4)
		}

		coverage, err := codec.Coverage(w.Dataset)
		if err != nil {
			return fmt.Errorf("compute coverage: %w", err)
		}
		if coverage == 0 {
			continue
		}

		m := store.Metadata{
			Album:           req.Album,
			Platform:        li.Platform,
			Geocode:         code,
			Band:            li.Band,
			Source:          store.SourceSplit,
			Tile:            li.Tile,
			SubdatasetIndex: li.SubdatasetIndex,
			StartTimestamp:  li.StartTimestamp,
			EndTimestamp:    li.EndTimestamp,
			PixelCoverage:   coverage,
			CloudCoverage:   li.CloudCoverage,
		}
		if err := router.push(code, m, w.Dataset); err != nil {
			return fmt.Errorf("route/push window: %w", err)
		}
	}
	return nil
}
