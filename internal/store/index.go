package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// searchIndex is an advisory, in-process accelerator over the set of
// geocodes this store currently holds tiles for. It answers "which on-disk
// geocode directories could a prefix query touch" without a full directory
// walk. Losing it (a crash before a clean rebuild) only costs re-walking
// the tree once at next startup: it never affects correctness, since
// walk() always falls back to a full scan when the index has nothing
// indexed yet.
//
// search/list are defined purely in terms of geocode string-prefix
// containment, not geometric overlap, so the index is a sorted slice of
// distinct geocodes binary-searched for a prefix range: the right
// structure for this query shape. See DESIGN.md for why a spatial tree was
// considered and rejected here.
type searchIndex struct {
	mu      sync.Mutex
	sorted  []string // distinct geocodes, kept sorted
	present map[string]bool
}

func newSearchIndex() *searchIndex {
	return &searchIndex{present: make(map[string]bool)}
}

func (idx *searchIndex) insert(m Metadata) {
	idx.insertGeocode(m.Geocode)
}

func (idx *searchIndex) insertGeocode(geocode string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.present[geocode] {
		return
	}
	idx.present[geocode] = true

	i := sort.SearchStrings(idx.sorted, geocode)
	idx.sorted = append(idx.sorted, "")
	copy(idx.sorted[i+1:], idx.sorted[i:])
	idx.sorted[i] = geocode
}

// candidatesForPrefix returns every indexed geocode that starts with prefix
// (or is itself a prefix of it, for the symmetric "inside" containment case),
// or nil if the index has not observed any geocodes yet, signalling the
// caller to fall back to a full walk. Lookup is a binary search for the
// prefix's sort range, not a scan of every distinct geocode.
func (idx *searchIndex) candidatesForPrefix(prefix string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(idx.sorted) == 0 {
		return nil
	}

	// every geocode in [prefix, prefix+the next string) starts with prefix;
	// bound the upper end by incrementing the final byte.
	lo := sort.SearchStrings(idx.sorted, prefix)
	upperBound := incrementString(prefix)
	hi := len(idx.sorted)
	if upperBound != "" {
		hi = sort.SearchStrings(idx.sorted, upperBound)
	}

	out := append([]string(nil), idx.sorted[lo:hi]...)

	// also pick up any indexed geocode that is itself a (shorter) prefix of
	// the query, since spec's "inside" relation is symmetric on which side
	// is shorter.
	for _, g := range idx.sorted {
		if len(g) < len(prefix) && strings.HasPrefix(prefix, g) {
			out = append(out, g)
		}
	}
	return out
}

// incrementString returns the lexicographically smallest string greater
// than every string with prefix s, or "" if no such bound exists (s is all
// 0xFF bytes).
func incrementString(s string) string {
	b := []byte(s)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// rebuildIndex walks the store's existing on-disk layout once at Open time
// and inserts every distinct geocode it finds.
func (s *Store) rebuildIndex() error {
	return filepath.WalkDir(s.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".meta") {
			return nil
		}
		_, _, _, _, geocode, _, _, perr := splitPathComponents(s.Root, path)
		if perr != nil {
			return nil // ignore malformed entries here; search-time read will warn
		}
		s.index.insertGeocode(geocode)
		return nil
	})
}
