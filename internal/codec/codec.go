// Package codec is a thin wrapper around the external raster codec
// (github.com/airbusgeo/godal, a cgo binding onto GDAL). The codec's internal
// GeoTIFF math stays out of scope, since callers only need open/window/
// split/composite as black-box operations. This package exists to give
// those operations a narrow Go-shaped surface and to serialize calls into
// the underlying C library, which is not safe to call concurrently from
// arbitrary goroutines.
package codec

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
)

var registerOnce sync.Once

// gdalMu serializes every call into godal. GDAL's C API is not guaranteed
// thread-safe across concurrent dataset handles from the same process, so
// every call below is bridged through this single mutex rather than invoked
// directly from request-handling or ingest-worker goroutines.
var gdalMu sync.Mutex

func register() {
	registerOnce.Do(godal.RegisterAll)
}

// Dataset wraps a godal dataset handle with the pieces of its structure
// other packages in this repo need (bounds, subdatasets, metadata) without
// exposing the full godal API surface.
type Dataset struct {
	handle *godal.Dataset
	bounds Window
}

// Window is a raster extent in the dataset's native coordinate system.
type Window struct {
	MinX, MinY, MaxX, MaxY float64
}

// Open opens path (a local file path, or a GDAL virtual-filesystem path such
// as /vsizip/<archive>/<member> for reading an entry out of an archive
// without extracting it) via the external codec.
func Open(path string) (*Dataset, error) {
	register()

	gdalMu.Lock()
	defer gdalMu.Unlock()

	h, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("codec: open %q: %w", path, err)
	}

	bounds, err := boundsOf(h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("codec: bounds of %q: %w", path, err)
	}

	return &Dataset{handle: h, bounds: bounds}, nil
}

func boundsOf(h *godal.Dataset) (Window, error) {
	gt, err := h.GeoTransform()
	if err != nil {
		return Window{}, err
	}
	structure := h.Structure()

	minX := gt[0]
	maxY := gt[3]
	maxX := minX + float64(structure.SizeX)*gt[1]
	minY := maxY + float64(structure.SizeY)*gt[5]
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	return Window{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}, nil
}

// Close releases the underlying dataset handle.
func (d *Dataset) Close() error {
	gdalMu.Lock()
	defer gdalMu.Unlock()
	return d.handle.Close()
}

// Bounds returns the dataset's extent in its native coordinate system.
func (d *Dataset) Bounds() Window { return d.bounds }

// MetadataItem returns one metadata value from the named domain ("" for the
// default domain), matching the PRODUCT_START_TIME lookup the Sentinel-2
// load pipeline needs.
func (d *Dataset) MetadataItem(domain, key string) (string, bool) {
	gdalMu.Lock()
	defer gdalMu.Unlock()

	var items map[string]string
	if domain == "" {
		items = d.handle.Metadatas()
	} else {
		items = d.handle.Metadatas(godal.Domain(domain))
	}
	v, ok := items[key]
	return v, ok
}

// Subdataset names a GDAL subdataset by its 0-based index (GDAL's
// SUBDATASET_<n>_NAME number minus one) and its driver-reported
// description.
type Subdataset struct {
	Index       uint8
	Name        string
	Description string
}

// Subdatasets lists the dataset's subdatasets in GDAL's declared order, or
// nil if the dataset has none (a single-raster file such as a split/filled
// tile).
func (d *Dataset) Subdatasets() []Subdataset {
	gdalMu.Lock()
	items := d.handle.Metadatas(godal.Domain("SUBDATASETS"))
	gdalMu.Unlock()

	names := map[int]string{}
	descs := map[int]string{}
	for key, value := range items {
		idx, field, ok := parseSubdatasetKey(key)
		if !ok {
			continue
		}
		switch field {
		case "NAME":
			names[idx] = value
		case "DESC":
			descs[idx] = value
		}
	}

	maxIdx := 0
	for idx := range names {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	out := make([]Subdataset, 0, len(names))
	for idx := 1; idx <= maxIdx; idx++ {
		name, ok := names[idx]
		if !ok {
			continue
		}
		out = append(out, Subdataset{Index: uint8(idx - 1), Name: name, Description: descs[idx]})
	}
	return out
}

// parseSubdatasetKey splits a "SUBDATASET_<n>_NAME" / "SUBDATASET_<n>_DESC"
// metadata key into its index and field.
func parseSubdatasetKey(key string) (index int, field string, ok bool) {
	const prefix = "SUBDATASET_"
	if !strings.HasPrefix(key, prefix) {
		return 0, "", false
	}
	rest := key[len(prefix):]
	us := strings.LastIndex(rest, "_")
	if us < 0 {
		return 0, "", false
	}
	n, err := strconv.Atoi(rest[:us])
	if err != nil {
		return 0, "", false
	}
	return n, rest[us+1:], true
}

// CreateCopy persists the dataset as a GeoTIFF at destPath (the on-disk raster
// write path used by internal/store.Write).
func (d *Dataset) CreateCopy(destPath string) error {
	gdalMu.Lock()
	defer gdalMu.Unlock()

	out, err := d.handle.Translate(destPath, nil, godal.CreationOption("TILED=YES", "COMPRESS=DEFLATE"), godal.GTiff)
	if err != nil {
		return fmt.Errorf("codec: create copy %q: %w", destPath, err)
	}
	return out.Close()
}

// WriteTo serializes the dataset to w in the codec's self-delimited wire
// format, the same byte sequence ReadFrom accepts: a uint32 big-endian
// length prefix followed by a GeoTIFF byte stream. The dataset is staged
// through a scratch file because godal does not expose a direct in-memory
// byte reader for a written dataset.
func (d *Dataset) WriteTo(w io.Writer) (int64, error) {
	tmp, err := os.CreateTemp("", "codec-write-*.tif")
	if err != nil {
		return 0, fmt.Errorf("codec: scratch file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := d.CreateCopy(tmpPath); err != nil {
		return 0, err
	}

	raw, err := os.ReadFile(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("codec: read scratch file: %w", err)
	}

	var lenBuf [4]byte
	putUint32(lenBuf[:], uint32(len(raw)))
	n1, err := w.Write(lenBuf[:])
	if err != nil {
		return int64(n1), err
	}
	n2, err := w.Write(raw)
	return int64(n1 + n2), err
}

// ReadFrom deserializes a dataset from r in the wire format WriteTo produces.
func ReadFrom(r io.Reader) (*Dataset, error) {
	register()

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("codec: read length prefix: %w", err)
	}
	n := getUint32(lenBuf[:])

	tmp, err := os.CreateTemp("", "codec-read-*.tif")
	if err != nil {
		return nil, fmt.Errorf("codec: scratch file: %w", err)
	}
	tmpPath := tmp.Name()
	defer tmp.Close()

	if _, err := io.CopyN(tmp, r, int64(n)); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("codec: read raster payload: %w", err)
	}

	ds, err := Open(tmpPath)
	os.Remove(tmpPath)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
