// Package geocode implements the two geocode algorithms an album may
// select: Geohash and QuadTile. Both encode a lon/lat point into a
// variable-length string whose prefixes name progressively coarser
// rectangular regions.
package geocode

import (
	"fmt"
	"strings"
)

// Algorithm names an album's geocode scheme.
type Algorithm string

const (
	Geohash  Algorithm = "Geohash"
	QuadTile Algorithm = "QuadTile"
)

// Encoder produces a geocode string for a point at a given precision.
type Encoder interface {
	Encode(lon, lat float64, precision int) (string, error)
}

// For resolves an Algorithm name to its Encoder.
func For(alg Algorithm) (Encoder, error) {
	switch alg {
	case Geohash:
		return geohashEncoder{}, nil
	case QuadTile:
		return quadTileEncoder{}, nil
	default:
		return nil, fmt.Errorf("geocode: unknown algorithm %q", alg)
	}
}

// Inside reports whether g2 is inside g1, i.e. g1 is a prefix of g2. A
// geocode is always inside itself.
func Inside(g1, g2 string) bool {
	return strings.HasPrefix(g2, g1)
}

// Precision is the length of a geocode string; a.k.a. the region's
// granularity. Coarser regions have shorter geocodes.
func Precision(g string) int {
	return len(g)
}

// TruncatePrefix returns the first n characters of g, or g itself if it is
// shorter than n.
func TruncatePrefix(g string, n int) string {
	if len(g) <= n {
		return g
	}
	return g[:n]
}

// CellSize returns the approximate lon/lat extent, in degrees, of one cell
// at precision under alg. The ingest pipelines use this to size the
// x_interval/y_interval the raster codec's Split needs, computed from the
// target precision.
//
// For Geohash this is exact (the interleaved-bit encoding halves the lon or
// lat range on every bit). For QuadTile the lat interval is a web-mercator
// approximation: true mercator cells narrow in latitude span away from the
// equator, but a single representative interval is sufficient for windowing
// a raster into sub-tiles, which only needs to be no coarser than one cell.
func CellSize(alg Algorithm, precision int) (lonInterval, latInterval float64, err error) {
	if precision <= 0 {
		return 0, 0, fmt.Errorf("geocode: precision must be positive, got %d", precision)
	}

	switch alg {
	case Geohash:
		bits := precision * 5
		lonBits := (bits + 1) / 2
		latBits := bits / 2
		return 360.0 / float64(int64(1)<<uint(lonBits)), 180.0 / float64(int64(1)<<uint(latBits)), nil
	case QuadTile:
		cells := float64(int64(1) << uint(precision))
		return 360.0 / cells, 180.0 / cells, nil
	default:
		return 0, 0, fmt.Errorf("geocode: unknown algorithm %q", alg)
	}
}
