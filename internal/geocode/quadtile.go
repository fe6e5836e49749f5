package geocode

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// quadTileEncoder implements the Bing/Google "quadkey" scheme: a slippy-map
// tile at zoom level z is named by a base-4 string of length z, where each
// digit names which quadrant of the parent tile the point falls in.
// Precision here is the zoom level.
type quadTileEncoder struct{}

func (quadTileEncoder) Encode(lon, lat float64, precision int) (string, error) {
	if precision <= 0 || precision > 31 {
		return "", fmt.Errorf("quadtile: precision (zoom) must be in [1,31], got %d", precision)
	}
	if lat < -85.05112878 || lat > 85.05112878 {
		return "", fmt.Errorf("quadtile: latitude %f outside web mercator range", lat)
	}

	tile := maptile.At(orb.Point{lon, lat}, maptile.Zoom(precision))
	return quadKey(tile), nil
}

// quadKey renders a tile's (x, y, z) as the standard quadkey string.
func quadKey(t maptile.Tile) string {
	var b strings.Builder
	for i := int(t.Z); i > 0; i-- {
		digit := byte('0')
		mask := uint32(1) << (i - 1)
		if t.X&mask != 0 {
			digit++
		}
		if t.Y&mask != 0 {
			digit += 2
		}
		b.WriteByte(digit)
	}
	return b.String()
}
