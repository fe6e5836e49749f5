package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jcom-dev/stipnode/internal/cluster"
	"github.com/jcom-dev/stipnode/internal/dht"
	"github.com/jcom-dev/stipnode/internal/query"
	"github.com/jcom-dev/stipnode/internal/store"
)

// HTTPClient is the node daemon's concrete implementation of both
// query.NodeClient and cluster.Dispatcher: it reaches a peer's RPC surface
// over plain HTTP, the transport those two packages are deliberately
// decoupled from.
type HTTPClient struct {
	HTTPClient *http.Client
}

// NewHTTPClient builds an HTTPClient with a sane default timeout for the
// unary calls (search, fill, split); List uses a context deadline instead,
// since its response is a long-lived stream.
func NewHTTPClient() *HTTPClient {
	return &HTTPClient{HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// List streams peer's matching tiles, decoding one imageDTO per NDJSON line
// and yielding it back as a store.ListedImage (query.NodeClient).
func (c *HTTPClient) List(ctx context.Context, peer dht.Peer, filter store.Filter, yield func(store.ListedImage) error) error {
	body, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("rpc client: marshal filter: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/v1/images/list", peer.RPCAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc client: build list request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	hc := *c.httpClient()
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("rpc client: list node %d: %w", peer.NodeID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc client: list node %d: status %d", peer.NodeID, resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	for dec.More() {
		var dto imageListEntry
		if err := dec.Decode(&dto); err != nil {
			return fmt.Errorf("rpc client: decode list entry from node %d: %w", peer.NodeID, err)
		}
		if err := yield(dto.toListedImage()); err != nil {
			return err
		}
	}
	return nil
}

// Search fetches peer's extent tally for filter (query.NodeClient).
func (c *HTTPClient) Search(ctx context.Context, peer dht.Peer, filter store.Filter) ([]store.Extent, error) {
	body, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("rpc client: marshal filter: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/v1/images/search", peer.RPCAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc client: build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc client: search node %d: %w", peer.NodeID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc client: search node %d: status %d", peer.NodeID, resp.StatusCode)
	}

	var out struct {
		Extents []extentDTO `json:"extents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("rpc client: decode search response from node %d: %w", peer.NodeID, err)
	}

	extents := make([]store.Extent, 0, len(out.Extents))
	for _, e := range out.Extents {
		extents = append(extents, store.Extent{
			Platform:  e.Platform,
			Geocode:   e.Geocode,
			Band:      e.Band,
			Source:    store.Source(e.Source),
			Precision: e.Precision,
			Count:     e.Count,
		})
	}
	return extents, nil
}

// Dispatch issues a broadcast fill or split request to peer and returns the
// task id it was assigned (cluster.Dispatcher).
func (c *HTTPClient) Dispatch(ctx context.Context, peer dht.Peer, req cluster.Request) (uint64, error) {
	var path string
	var body interface{}
	switch req.Kind {
	case cluster.RequestFill:
		path = "/internal/v1/fill"
		body = req.Fill
	case cluster.RequestSplit:
		path = "/internal/v1/split"
		body = req.Split
	default:
		return 0, fmt.Errorf("rpc client: unknown request kind %v", req.Kind)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("rpc client: marshal dispatch body: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", peer.RPCAddr, path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("rpc client: build dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("rpc client: dispatch to node %d: %w", peer.NodeID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rpc client: dispatch to node %d: status %d", peer.NodeID, resp.StatusCode)
	}

	var out struct {
		TaskID uint64 `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("rpc client: decode dispatch response from node %d: %w", peer.NodeID, err)
	}
	return out.TaskID, nil
}

// imageListEntry is the client-side counterpart to imageDTO: it decodes the
// same wire shape but reconstructs a store.ListedImage instead of exposing
// the server's internal DTO type.
type imageListEntry struct {
	Album           string   `json:"album"`
	Platform        string   `json:"platform"`
	Geocode         string   `json:"geocode"`
	Band            string   `json:"band"`
	Source          string   `json:"source"`
	Tile            string   `json:"tile"`
	SubdatasetIndex uint8    `json:"subdataset_index"`
	StartTimestamp  int64    `json:"start_timestamp"`
	EndTimestamp    int64    `json:"end_timestamp"`
	PixelCoverage   float64  `json:"pixel_coverage"`
	CloudCoverage   *float64 `json:"cloud_coverage"`
	Path            string   `json:"path"`
}

func (e imageListEntry) toListedImage() store.ListedImage {
	cc := store.UnknownCloudCoverage()
	if e.CloudCoverage != nil {
		cc = *e.CloudCoverage
	}
	return store.ListedImage{
		Metadata: store.Metadata{
			Album:           e.Album,
			Platform:        e.Platform,
			Geocode:         e.Geocode,
			Band:            e.Band,
			Source:          store.Source(e.Source),
			Tile:            e.Tile,
			SubdatasetIndex: e.SubdatasetIndex,
			StartTimestamp:  e.StartTimestamp,
			EndTimestamp:    e.EndTimestamp,
			PixelCoverage:   e.PixelCoverage,
			CloudCoverage:   cc,
		},
		Path: e.Path,
	}
}
