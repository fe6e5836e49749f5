// Package membership defines the narrow contract this repo needs from the
// gossip/membership protocol: an eventually-consistent member list, treated
// as an external black box. The only implementation shipped here polls a
// seed node's node_list RPC; a real SWIM-style gossip protocol is
// explicitly out of scope.
package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jcom-dev/stipnode/internal/dht"
)

// Source reports the current set of ring tokens this node knows about.
// Implementations are expected to be eventually consistent: a Snapshot call
// may lag a recent join/leave, and nothing in this repo waits for it to
// converge.
type Source interface {
	// Snapshot returns the node's current view of the ring as
	// token -> peer. Self is always included by the caller, not by the
	// source.
	Snapshot(ctx context.Context) (map[uint64]dht.Peer, error)
}

// Self describes this node's own ring tokens, always merged into whatever a
// Source reports.
type Self struct {
	Tokens []uint64
	Peer   dht.Peer
}

// SeedPoller is this repo's membership refresher: on an interval, it asks a
// seed node's NodeManagement.node_list for the current membership and pushes
// it straight into a dht.DHT as a new snapshot. It does not implement
// Source (it has no Snapshot method). The seed is just another
// peer's RPC surface; there is no separate "control plane" protocol.
type SeedPoller struct {
	seedAddr string // RPC address of a seed node, empty if this is the seed
	self     Self
	interval time.Duration
	client   *http.Client
	dht      *dht.DHT
}

// NewSeedPoller constructs a poller. If seedAddr is empty this node is
// treated as its own seed: self is the entire initial membership.
func NewSeedPoller(seedAddr string, self Self, interval time.Duration, d *dht.DHT) *SeedPoller {
	return &SeedPoller{
		seedAddr: seedAddr,
		self:     self,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		dht:      d,
	}
}

// nodeListResponse mirrors the NodeManagement.node_list RPC reply.
type nodeListResponse struct {
	Members []memberEntry `json:"members"`
}

type memberEntry struct {
	NodeID   uint16   `json:"node_id"`
	RPCAddr  string   `json:"rpc_addr"`
	XferAddr string   `json:"xfer_addr"`
	Tokens   []uint64 `json:"tokens"`
}

// Run installs the initial snapshot (self only, if no seed) and then
// refreshes on the configured interval until ctx is cancelled. It never
// returns an error: a failed refresh is logged and the previous snapshot is
// left in place, consistent with "eventually consistent" semantics.
func (p *SeedPoller) Run(ctx context.Context) {
	p.refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *SeedPoller) refresh(ctx context.Context) {
	tokens := map[uint64]dht.Peer{}
	for _, t := range p.self.Tokens {
		tokens[t] = p.self.Peer
	}

	if p.seedAddr != "" {
		remote, err := p.fetch(ctx)
		if err != nil {
			slog.Warn("membership: seed refresh failed, keeping last known snapshot",
				"seed_addr", p.seedAddr, "error", err)
			return // leave the DHT's current snapshot untouched, not just self's tokens
		}
		for _, m := range remote.Members {
			for _, t := range m.Tokens {
				tokens[t] = dht.Peer{NodeID: m.NodeID, RPCAddr: m.RPCAddr, XferAddr: m.XferAddr}
			}
		}
	}

	p.dht.Update(tokens)
}

func (p *SeedPoller) fetch(ctx context.Context) (nodeListResponse, error) {
	url := fmt.Sprintf("http://%s/v1/nodes", p.seedAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nodeListResponse{}, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nodeListResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nodeListResponse{}, fmt.Errorf("seed returned status %d", resp.StatusCode)
	}

	var out nodeListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nodeListResponse{}, fmt.Errorf("decode node_list response: %w", err)
	}
	return out, nil
}
