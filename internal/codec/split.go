package codec

import (
	"fmt"
	"os"

	"github.com/airbusgeo/godal"
)

// SplitWindow is one sub-window produced by Split: the windowed dataset plus
// its extent, from which the ingest/split pipelines derive a geocode.
type SplitWindow struct {
	Dataset *Dataset
	Window  Window
}

// Split partitions ds into a grid of sub-windows of size xInterval x
// yInterval (in the dataset's native coordinate units), matching the
// x_interval/y_interval split the load and split pipelines compute from a
// target geocode precision. Each window is materialized as its
// own dataset backed by a scratch file; callers are responsible for closing
// every returned Dataset.
func Split(ds *Dataset, xInterval, yInterval float64) ([]SplitWindow, error) {
	if xInterval <= 0 || yInterval <= 0 {
		return nil, fmt.Errorf("codec: split intervals must be positive, got (%f, %f)", xInterval, yInterval)
	}

	grid := windowGrid(ds.Bounds(), xInterval, yInterval)
	windows := make([]SplitWindow, 0, len(grid))

	for _, win := range grid {
		sub, err := translateWindow(ds, win)
		if err != nil {
			for _, w := range windows {
				w.Dataset.Close()
			}
			return nil, err
		}
		windows = append(windows, SplitWindow{Dataset: sub, Window: win})
	}

	return windows, nil
}

// windowGrid computes the sub-window rectangles Split produces by tiling
// bounds into xInterval x yInterval cells, clamping the final row/column to
// bounds. Separated from Split so the tiling arithmetic can be tested
// without opening a real raster.
func windowGrid(bounds Window, xInterval, yInterval float64) []Window {
	var windows []Window
	for y := bounds.MinY; y < bounds.MaxY; y += yInterval {
		winMaxY := y + yInterval
		if winMaxY > bounds.MaxY {
			winMaxY = bounds.MaxY
		}
		for x := bounds.MinX; x < bounds.MaxX; x += xInterval {
			winMaxX := x + xInterval
			if winMaxX > bounds.MaxX {
				winMaxX = bounds.MaxX
			}
			windows = append(windows, Window{MinX: x, MinY: y, MaxX: winMaxX, MaxY: winMaxY})
		}
	}
	return windows
}

// translateWindow crops ds to win using gdal_translate's -projwin switch
// (upper-left x/y, lower-right x/y), writing the crop to a scratch file so
// the result is a fully independent Dataset.
func translateWindow(ds *Dataset, win Window) (*Dataset, error) {
	tmp, err := os.CreateTemp("", "codec-window-*.tif")
	if err != nil {
		return nil, fmt.Errorf("codec: scratch file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	gdalMu.Lock()
	out, err := ds.handle.Translate(tmpPath, []string{
		"-projwin",
		fmt.Sprintf("%f", win.MinX), fmt.Sprintf("%f", win.MaxY),
		fmt.Sprintf("%f", win.MaxX), fmt.Sprintf("%f", win.MinY),
	}, godal.GTiff)
	gdalMu.Unlock()
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("codec: window translate: %w", err)
	}
	out.Close()

	sub, err := Open(tmpPath)
	os.Remove(tmpPath)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Coverage computes the fraction of non-nodata pixels in the dataset's first
// band, in [0, 1]. Pixel value 0 is treated as the nodata sentinel, matching
// the convention the load pipeline's source archives use.
func Coverage(ds *Dataset) (float64, error) {
	gdalMu.Lock()
	bands := ds.handle.Bands()
	gdalMu.Unlock()
	if len(bands) == 0 {
		return 0, fmt.Errorf("codec: dataset has no bands")
	}
	band := bands[0]

	gdalMu.Lock()
	structure := band.Structure()
	gdalMu.Unlock()

	total := structure.SizeX * structure.SizeY
	if total == 0 {
		return 0, nil
	}

	buf := make([]byte, total)
	gdalMu.Lock()
	err := band.Read(0, 0, buf, structure.SizeX, structure.SizeY)
	gdalMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("codec: read band for coverage: %w", err)
	}

	var nonZero int
	for _, v := range buf {
		if v != 0 {
			nonZero++
		}
	}
	return float64(nonZero) / float64(total), nil
}

// Composite merges datasets (ordered ascending by acquisition timestamp)
// into one output dataset the same size as the first, writing each dataset's
// pixels over the accumulator in order so the last non-nodata value at each
// pixel wins. All inputs must share the same raster dimensions: callers are
// expected to have already windowed/aligned them to the same geocode bucket
// before compositing.
func Composite(datasets []*Dataset, destPath string) (*Dataset, error) {
	if len(datasets) == 0 {
		return nil, fmt.Errorf("codec: composite requires at least one dataset")
	}

	gdalMu.Lock()
	firstBands := datasets[0].handle.Bands()
	gdalMu.Unlock()
	if len(firstBands) == 0 {
		return nil, fmt.Errorf("codec: composite source has no bands")
	}
	gdalMu.Lock()
	structure := firstBands[0].Structure()
	gdalMu.Unlock()

	acc := make([]byte, structure.SizeX*structure.SizeY)
	for _, ds := range datasets {
		gdalMu.Lock()
		bands := ds.handle.Bands()
		gdalMu.Unlock()
		if len(bands) == 0 {
			continue
		}

		buf := make([]byte, structure.SizeX*structure.SizeY)
		gdalMu.Lock()
		err := bands[0].Read(0, 0, buf, structure.SizeX, structure.SizeY)
		gdalMu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("codec: read composite source: %w", err)
		}

		for i, v := range buf {
			if v != 0 {
				acc[i] = v
			}
		}
	}

	gdalMu.Lock()
	out, err := godal.Create(godal.GTiff, destPath, 1, godal.Byte, structure.SizeX, structure.SizeY)
	if err != nil {
		gdalMu.Unlock()
		return nil, fmt.Errorf("codec: create composite output: %w", err)
	}
	outBands := out.Bands()
	err = outBands[0].Write(0, 0, acc, structure.SizeX, structure.SizeY)
	gdalMu.Unlock()
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("codec: write composite output: %w", err)
	}

	bounds, err := boundsOf(out)
	if err != nil {
		out.Close()
		return nil, err
	}
	return &Dataset{handle: out, bounds: bounds}, nil
}
