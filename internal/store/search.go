package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Filter constrains a search/list call. A zero-value field (empty string,
// nil pointer) means "no constraint": every filter field is nullable.
type Filter struct {
	Platform         string   `json:"platform,omitempty"`
	Geocode          string   `json:"geocode,omitempty"` // prefix match
	Band             string   `json:"band,omitempty"`
	Source           Source   `json:"source,omitempty"`
	StartTimestamp   *int64   `json:"start_timestamp,omitempty"`
	EndTimestamp     *int64   `json:"end_timestamp,omitempty"`
	MinPixelCoverage *float64 `json:"min_pixel_coverage,omitempty"`
	MaxCloudCoverage *float64 `json:"max_cloud_coverage,omitempty"`
}

// matches applies the post-filters (everything not already satisfied by the
// directory-glob walk): timestamp window and coverage thresholds.
func (f Filter) matches(m Metadata) bool {
	if f.StartTimestamp != nil && m.EndTimestamp < *f.StartTimestamp {
		return false
	}
	if f.EndTimestamp != nil && m.StartTimestamp > *f.EndTimestamp {
		return false
	}
	if f.MinPixelCoverage != nil && m.PixelCoverage < *f.MinPixelCoverage {
		return false
	}
	if f.MaxCloudCoverage != nil {
		if isNaN(m.CloudCoverage) || m.CloudCoverage > *f.MaxCloudCoverage {
			return false
		}
	}
	return true
}

// Extent is one aggregation row produced by Search.
type Extent struct {
	Platform  string
	Geocode   string
	Band      string
	Source    Source
	Precision int
	Count     int64
}

// ListedImage is one tile's metadata plus its on-disk path, as returned by
// List: like Search but emitting per-tile metadata including path.
type ListedImage struct {
	Metadata
	Path string
}

// List walks the store applying filter and invokes yield once per matching
// tile, including its on-disk path. It stops early and returns yield's error
// if yield returns non-nil. List is lazy: a match is yielded as soon as it
// is found, not buffered.
func (s *Store) List(filter Filter, yield func(ListedImage) error) error {
	return s.walk(filter, func(m Metadata, tifPath string) error {
		return yield(ListedImage{Metadata: m, Path: tifPath})
	})
}

// Search walks the store applying filter and returns the aggregated extents:
// one row per distinct (platform, geocode, band, source, precision) with
// Count equal to the number of matching tiles. Search emits aggregates
// only, never per-tile rows.
func (s *Store) Search(filter Filter) ([]Extent, error) {
	counts := map[Extent]int64{}
	err := s.walk(filter, func(m Metadata, _ string) error {
		key := Extent{
			Platform:  m.Platform,
			Geocode:   m.Geocode,
			Band:      m.Band,
			Source:    m.Source,
			Precision: len(m.Geocode),
		}
		counts[key]++
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Extent, 0, len(counts))
	for key, count := range counts {
		key.Count = count
		out = append(out, key)
	}
	return out, nil
}

// walk is the shared traversal behind List and Search: it uses the geocode
// prefix index to narrow candidate geocodes when a geocode prefix is given (falling
// back to a full directory walk otherwise, which is always correct since
// the index is advisory), reads each candidate's sidecar, reconstructs the
// path components, and applies the full Filter.
func (s *Store) walk(filter Filter, yield func(Metadata, string) error) error {
	var candidates []string
	if filter.Geocode != "" {
		candidates = s.index.candidatesForPrefix(filter.Geocode)
	}

	if candidates != nil {
		for _, geocode := range candidates {
			if err := s.walkGeocodeDir(filter, geocode, yield); err != nil {
				return err
			}
		}
		return nil
	}

	return s.walkAll(filter, yield)
}

// walkAll performs a full directory walk rooted at Root, used when there is
// no geocode prefix to narrow the search or the index has nothing cached
// yet.
func (s *Store) walkAll(filter Filter, yield func(Metadata, string) error) error {
	return filepath.WalkDir(s.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".meta") {
			return nil
		}
		return s.emitIfMatch(filter, path, yield)
	})
}

// walkGeocodeDir walks just the subtree for one candidate geocode directory
// under every platform/album combination on disk. The index narrows
// geocodes, but album/platform/band/source still need a directory scan since
// the index is keyed only by geocode.
func (s *Store) walkGeocodeDir(filter Filter, geocode string, yield func(Metadata, string) error) error {
	matches, err := filepath.Glob(filepath.Join(s.Root, "*", "*", geocode, "*", "*", "*.meta"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := s.emitIfMatch(filter, path, yield); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) emitIfMatch(filter Filter, metaPath string, yield func(Metadata, string) error) error {
	m, tifPath, ok := s.readSidecar(metaPath)
	if !ok {
		return nil // corrupt, already warned in readSidecar
	}

	if filter.Platform != "" && m.Platform != filter.Platform {
		return nil
	}
	if filter.Geocode != "" && !strings.HasPrefix(m.Geocode, filter.Geocode) {
		return nil
	}
	if filter.Band != "" && m.Band != filter.Band {
		return nil
	}
	if filter.Source != "" && m.Source != filter.Source {
		return nil
	}
	if !filter.matches(m) {
		return nil
	}

	return yield(m, tifPath)
}

// readSidecar reads and decodes one .meta file, reconstructing the path
// components (platform/geocode/band/source/tile/subdataset) by walking the
// path backwards. An .meta without its sibling .tif is corrupt and is
// skipped with a warning.
func (s *Store) readSidecar(metaPath string) (Metadata, string, bool) {
	tifPath := strings.TrimSuffix(metaPath, ".meta") + ".tif"
	if _, err := os.Stat(tifPath); err != nil {
		slog.Warn("store: meta sidecar without raster, skipping", "meta_path", metaPath)
		return Metadata{}, "", false
	}

	raw, err := os.ReadFile(metaPath)
	if err != nil {
		slog.Warn("store: failed to read sidecar", "meta_path", metaPath, "error", err)
		return Metadata{}, "", false
	}

	start, end, pcov, ccov, err := decodeSidecar(raw)
	if err != nil {
		slog.Warn("store: corrupt sidecar, skipping", "meta_path", metaPath, "error", err)
		return Metadata{}, "", false
	}

	tile, subds, source, band, geocode, platform, album, err := splitPathComponents(s.Root, metaPath)
	if err != nil {
		slog.Warn("store: could not reconstruct path components", "meta_path", metaPath, "error", err)
		return Metadata{}, "", false
	}

	m := Metadata{
		Album:           album,
		Platform:        platform,
		Geocode:         geocode,
		Band:            band,
		Source:          Source(source),
		Tile:            tile,
		SubdatasetIndex: subds,
		StartTimestamp:  start,
		EndTimestamp:    end,
		PixelCoverage:   pcov,
		CloudCoverage:   ccov,
	}
	return m, tifPath, true
}

// splitPathComponents decomposes
// <root>/<album>/<platform>/<geocode>/<band>/<source>/<tile>-<subds>.meta
// into its named parts.
func splitPathComponents(root, metaPath string) (tile string, subds uint8, source, band, geocode, platform, album string, err error) {
	rel, err := filepath.Rel(root, metaPath)
	if err != nil {
		return "", 0, "", "", "", "", "", err
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 6 {
		return "", 0, "", "", "", "", "", strErr("unexpected path depth")
	}
	album, platform, geocode, band, source = parts[0], parts[1], parts[2], parts[3], parts[4]

	base := strings.TrimSuffix(parts[5], ".meta")
	idx := strings.LastIndex(base, "-")
	if idx < 0 {
		return "", 0, "", "", "", "", "", strErr("tile filename missing subdataset suffix")
	}
	tile = base[:idx]
	n, err := strconv.ParseUint(base[idx+1:], 10, 8)
	if err != nil {
		return "", 0, "", "", "", "", "", err
	}
	return tile, uint8(n), source, band, geocode, platform, album, nil
}

type strError string

func (e strError) Error() string { return string(e) }
func strErr(s string) error      { return strError(s) }
