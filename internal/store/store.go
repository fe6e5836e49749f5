// Package store implements the on-disk image store: a geocode-partitioned
// directory layout pairing a raster file with a fixed-width binary
// metadata sidecar, with prefix search and coverage-filtered listing.
package store

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Source is an image's provenance tag.
type Source string

const (
	SourceRaw    Source = "raw"
	SourceSplit  Source = "split"
	SourceFilled Source = "filled"
)

// Metadata is everything about an image except its raster payload. The path
// fields (Album..Tile, SubdatasetIndex) together with Source identify the
// on-disk location; StartTimestamp..CloudCoverage are the sidecar contents.
type Metadata struct {
	Album            string
	Platform         string
	Geocode          string
	Band             string
	Source           Source
	Tile             string
	SubdatasetIndex  uint8
	StartTimestamp   int64
	EndTimestamp     int64
	PixelCoverage    float64
	CloudCoverage    float64 // math.NaN() == unknown
}

// Store is a local on-disk image store rooted at Root.
type Store struct {
	Root  string
	index *searchIndex // advisory geocode prefix index, see index.go
}

// Open roots a Store at dir, creating it if necessary, and builds the
// in-memory search index by walking whatever is already on disk. A fatal
// directory-creation failure means the daemon should refuse to start;
// callers should treat a non-nil error that way.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create root %q: %w", dir, err)
	}

	s := &Store{Root: dir, index: newSearchIndex()}
	if err := s.rebuildIndex(); err != nil {
		return nil, fmt.Errorf("store: build search index: %w", err)
	}
	return s, nil
}

// tilePath returns the .tif/.meta path stem (without extension) for a tile.
func (s *Store) tilePath(m Metadata) string {
	dir := filepath.Join(s.Root, m.Album, m.Platform, m.Geocode, m.Band, string(m.Source))
	return filepath.Join(dir, fmt.Sprintf("%s-%d", m.Tile, m.SubdatasetIndex))
}

// Write persists a raster plus its sidecar metadata, creating directories
// as needed. Overwrites an existing tile silently.
//
// writeRaster (backed by the external codec, internal/codec) writes the
// raster to a temporary path, which is renamed into place before the
// sidecar is written. The sidecar is
// written last so a crash never leaves an orphaned .meta without its .tif.
func (s *Store) Write(m Metadata, writeRaster func(path string) error) (err error) {
	if m.PixelCoverage == 0 {
		return fmt.Errorf("store: refusing to persist zero-coverage tile %s/%s", m.Geocode, m.Tile)
	}

	stem := s.tilePath(m)
	dir := filepath.Dir(stem)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create directory %q: %w", dir, err)
	}

	tifPath := stem + ".tif"
	metaPath := stem + ".meta"

	// write-to-temp + rename for both files so a mid-write crash never
	// leaves a half-written .tif or .meta in place: every .tif must have a
	// sibling .meta.
	tmpTif := tifPath + ".tmp-" + uuid.NewString()
	defer func() {
		if err != nil {
			os.Remove(tmpTif)
			os.Remove(tifPath + ".partial")
		}
	}()

	if err := writeRaster(tmpTif); err != nil {
		return fmt.Errorf("store: write raster: %w", err)
	}
	if err := os.Rename(tmpTif, tifPath); err != nil {
		os.Remove(tmpTif)
		return fmt.Errorf("store: rename raster into place: %w", err)
	}

	sidecar := encodeSidecar(m)
	tmpMeta := metaPath + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmpMeta, sidecar, 0o644); err != nil {
		os.Remove(tifPath)
		return fmt.Errorf("store: write sidecar: %w", err)
	}
	if err := os.Rename(tmpMeta, metaPath); err != nil {
		os.Remove(tmpMeta)
		os.Remove(tifPath)
		return fmt.Errorf("store: rename sidecar into place: %w", err)
	}

	s.index.insert(m)
	return nil
}

// RasterPath returns the on-disk .tif path for a tile, for callers (e.g. the
// transfer receiver, split pipeline) that already have an opened raster and
// just need a destination path convention.
func (s *Store) RasterPath(m Metadata) string {
	return s.tilePath(m) + ".tif"
}

func isNaN(f float64) bool { return math.IsNaN(f) }
