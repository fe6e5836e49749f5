package codec

import "testing"

func TestParseSubdatasetKey(t *testing.T) {
	cases := []struct {
		key       string
		wantIndex int
		wantField string
		wantOK    bool
	}{
		{"SUBDATASET_1_NAME", 1, "NAME", true},
		{"SUBDATASET_12_DESC", 12, "DESC", true},
		{"OTHER_DOMAIN_KEY", 0, "", false},
		{"SUBDATASET_x_NAME", 0, "", false},
	}
	for _, c := range cases {
		idx, field, ok := parseSubdatasetKey(c.key)
		if ok != c.wantOK {
			t.Fatalf("parseSubdatasetKey(%q) ok = %v, want %v", c.key, ok, c.wantOK)
		}
		if !ok {
			continue
		}
		if idx != c.wantIndex || field != c.wantField {
			t.Errorf("parseSubdatasetKey(%q) = (%d, %q), want (%d, %q)", c.key, idx, field, c.wantIndex, c.wantField)
		}
	}
}

func TestUint32RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 255, 65536, 4294967295} {
		var buf [4]byte
		putUint32(buf[:], v)
		if got := getUint32(buf[:]); got != v {
			t.Errorf("round trip of %d got %d", v, got)
		}
	}
}

func TestWindowGridCoversBoundsExactly(t *testing.T) {
	bounds := Window{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	grid := windowGrid(bounds, 4, 4)

	// 3 columns (0-4, 4-8, 8-10) x 3 rows = 9 windows
	if len(grid) != 9 {
		t.Fatalf("len(grid) = %d, want 9", len(grid))
	}
	for _, w := range grid {
		if w.MinX < bounds.MinX || w.MaxX > bounds.MaxX || w.MinY < bounds.MinY || w.MaxY > bounds.MaxY {
			t.Errorf("window %+v escapes bounds %+v", w, bounds)
		}
	}
}

func TestWindowGridClampsFinalCell(t *testing.T) {
	bounds := Window{MinX: 0, MinY: 0, MaxX: 10, MaxY: 5}
	grid := windowGrid(bounds, 4, 5)

	var maxXSeen float64
	for _, w := range grid {
		if w.MaxX > maxXSeen {
			maxXSeen = w.MaxX
		}
	}
	if maxXSeen != 10 {
		t.Errorf("final column should clamp to bounds.MaxX=10, got %f", maxXSeen)
	}
}

func TestWindowGridSinglePointlessIntervalProducesNoWindows(t *testing.T) {
	bounds := Window{MinX: 5, MinY: 5, MaxX: 5, MaxY: 5}
	grid := windowGrid(bounds, 1, 1)
	if len(grid) != 0 {
		t.Errorf("zero-area bounds should produce no windows, got %d", len(grid))
	}
}
