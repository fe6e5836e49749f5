// Package dht implements the geocode-routed placement layer: a
// consistent-hashing ring mapping a hashed key to the peer that owns it.
// Ring membership itself is sourced from the gossip/membership protocol,
// which is a black box outside this package's concern (see
// internal/membership). dht only consumes a snapshot and answers locate()
// against it.
package dht

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Peer is one entry in a DHT snapshot: a node identity plus the two
// addresses the cluster needs to reach it (RPC surface, transfer protocol).
type Peer struct {
	NodeID   uint16
	RPCAddr  string
	XferAddr string
}

// entry is a peer bound to one ring token. A peer may hold several tokens
// (virtual nodes), though the node daemon in this repo assigns each peer
// the tokens passed on its command line via a repeatable --token flag.
type entry struct {
	token uint64
	peer  Peer
}

// DHT holds the current ring snapshot and answers locate() queries against
// it. Safe for concurrent use: snapshot replacement swaps the entry slice and
// node map together under a reader/writer lock held only briefly.
type DHT struct {
	mu      sync.RWMutex
	entries []entry // sorted by token ascending
	byNode  map[uint16]Peer
}

// New builds an empty DHT. Call Update to install the first snapshot (e.g.
// from this node's own configured tokens plus whatever membership reports).
func New() *DHT {
	return &DHT{byNode: make(map[uint16]Peer)}
}

// Update replaces the ring with a fresh set of (token, peer) pairs. Typically
// called by the membership source (internal/membership) whenever gossip
// reports a membership change.
func (d *DHT) Update(tokens map[uint64]Peer) {
	entries := make([]entry, 0, len(tokens))
	byNode := make(map[uint16]Peer, len(tokens))
	for token, peer := range tokens {
		entries = append(entries, entry{token: token, peer: peer})
		byNode[peer.NodeID] = peer
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].token < entries[j].token })

	d.mu.Lock()
	d.entries = entries
	d.byNode = byNode
	d.mu.Unlock()
}

// Members returns the current membership snapshot: one Peer per distinct
// node id, in no particular order.
func (d *DHT) Members() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	peers := make([]Peer, 0, len(d.byNode))
	for _, p := range d.byNode {
		peers = append(peers, p)
	}
	return peers
}

// Tokens returns the current ring snapshot as node id -> the sorted tokens
// that node owns, for callers (the Node RPC Surface's node_list) that need
// to republish a full snapshot rather than just the distinct peer set.
func (d *DHT) Tokens() map[uint16][]uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[uint16][]uint64, len(d.byNode))
	for _, e := range d.entries {
		out[e.peer.NodeID] = append(out[e.peer.NodeID], e.token)
	}
	return out
}

// Locate returns the owner of key: the entry whose token is the largest one
// <= key, wrapping around to the smallest token if key exceeds all of them
// (classic consistent-hashing ring lookup). Returns false if the ring is
// empty.
func (d *DHT) Locate(key uint64) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.entries) == 0 {
		return Peer{}, false
	}

	// binary search for the first entry with token > key; the owner is the
	// one just before it (wrapping to the last entry if key is smaller than
	// every token).
	i := sort.Search(len(d.entries), func(i int) bool { return d.entries[i].token > key })
	if i == 0 {
		return d.entries[len(d.entries)-1].peer, true
	}
	return d.entries[i-1].peer, true
}

// KeyLength-truncated geocodes shorter than dhtKeyLength are right-padded
// with this sentinel before hashing.
const paddingSentinel = 0x00

// Key derives the ring key for a geocode at the album's configured
// dht_key_length: take the first dhtKeyLength bytes of geocode, right-padding
// with the sentinel byte if geocode is shorter, then hash with a stable
// 64-bit non-cryptographic hash (xxhash) so every node computes the same key.
func Key(geocode string, dhtKeyLength int) uint64 {
	buf := make([]byte, dhtKeyLength)
	n := copy(buf, geocode)
	for i := n; i < dhtKeyLength; i++ {
		buf[i] = paddingSentinel
	}
	return xxhash.Sum64(buf)
}

// ParseAddr validates a "host:port" address, matching the level of rigor the
// node daemon needs when reading --ip-address/--port-derived addresses off
// the command line.
func ParseAddr(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("dht: invalid address %q: %w", addr, err)
	}
	return net.JoinHostPort(host, port), nil
}
