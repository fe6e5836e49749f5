package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// sidecarSize is the fixed width of a .meta file in bytes: two i64
// timestamps plus two f64 coverage fields, all big-endian.
const sidecarSize = 32

func encodeSidecar(m Metadata) []byte {
	buf := make([]byte, sidecarSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(m.StartTimestamp))
	binary.BigEndian.PutUint64(buf[8:16], uint64(m.EndTimestamp))
	binary.BigEndian.PutUint64(buf[16:24], math.Float64bits(m.PixelCoverage))
	cc := m.CloudCoverage
	binary.BigEndian.PutUint64(buf[24:32], math.Float64bits(cc))
	return buf
}

func decodeSidecar(buf []byte) (startTimestamp, endTimestamp int64, pixelCoverage, cloudCoverage float64, err error) {
	if len(buf) != sidecarSize {
		return 0, 0, 0, 0, fmt.Errorf("store: sidecar has %d bytes, want %d", len(buf), sidecarSize)
	}
	startTimestamp = int64(binary.BigEndian.Uint64(buf[0:8]))
	endTimestamp = int64(binary.BigEndian.Uint64(buf[8:16]))
	pixelCoverage = math.Float64frombits(binary.BigEndian.Uint64(buf[16:24]))
	cloudCoverage = math.Float64frombits(binary.BigEndian.Uint64(buf[24:32]))
	return startTimestamp, endTimestamp, pixelCoverage, cloudCoverage, nil
}

// UnknownCloudCoverage is the sentinel written for Metadata.CloudCoverage
// when a platform doesn't report it.
func UnknownCloudCoverage() float64 { return math.NaN() }
