package geocode

import (
	"fmt"
	"strings"
)

// geohashEncoder implements the classic base-32 interleaved-bit geohash
// algorithm (Niemeyer geohash). Precision is the output string length.
type geohashEncoder struct{}

const base32Alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

func (geohashEncoder) Encode(lon, lat float64, precision int) (string, error) {
	if precision <= 0 {
		return "", fmt.Errorf("geohash: precision must be positive, got %d", precision)
	}
	if lat < -90 || lat > 90 {
		return "", fmt.Errorf("geohash: latitude %f out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return "", fmt.Errorf("geohash: longitude %f out of range", lon)
	}

	latRange := [2]float64{-90.0, 90.0}
	lonRange := [2]float64{-180.0, 180.0}

	return encodeGeohash(lon, lat, precision, latRange, lonRange), nil
}

func encodeGeohash(lon, lat float64, precision int, latRange, lonRange [2]float64) string {
	var b strings.Builder
	bit, ch := 0, 0
	evenBit := true

	for b.Len() < precision {
		if evenBit {
			mid := (lonRange[0] + lonRange[1]) / 2
			if lon >= mid {
				ch = (ch << 1) | 1
				lonRange[0] = mid
			} else {
				ch = ch << 1
				lonRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if lat >= mid {
				ch = (ch << 1) | 1
				latRange[0] = mid
			} else {
				ch = ch << 1
				latRange[1] = mid
			}
		}
		evenBit = !evenBit

		bit++
		if bit == 5 {
			b.WriteByte(base32Alphabet[ch])
			bit, ch = 0, 0
		}
	}
	return b.String()
}
