package rpc

import (
	"math"

	"github.com/jcom-dev/stipnode/internal/query"
	"github.com/jcom-dev/stipnode/internal/store"
)

// imageDTO is the wire shape of one listed tile. It exists separately from
// store.Metadata because CloudCoverage's "unknown" sentinel is math.NaN(),
// which encoding/json refuses to marshal. Everywhere else in this repo the
// NaN convention is fine, since it never crosses a JSON boundary, but the
// RPC surface needs a JSON-safe nullable field instead.
type imageDTO struct {
	NodeID          uint16  `json:"node_id"`
	Album           string  `json:"album"`
	Platform        string  `json:"platform"`
	Geocode         string  `json:"geocode"`
	Band            string  `json:"band"`
	Source          string  `json:"source"`
	Tile            string  `json:"tile"`
	SubdatasetIndex uint8   `json:"subdataset_index"`
	StartTimestamp  int64   `json:"start_timestamp"`
	EndTimestamp    int64   `json:"end_timestamp"`
	PixelCoverage   float64 `json:"pixel_coverage"`
	CloudCoverage   *float64 `json:"cloud_coverage"`
	Path            string  `json:"path"`
}

func toImageDTO(r query.ListResult) imageDTO {
	m := r.Image.Metadata
	dto := imageDTO{
		NodeID:          r.NodeID,
		Album:           m.Album,
		Platform:        m.Platform,
		Geocode:         m.Geocode,
		Band:            m.Band,
		Source:          string(m.Source),
		Tile:            m.Tile,
		SubdatasetIndex: m.SubdatasetIndex,
		StartTimestamp:  m.StartTimestamp,
		EndTimestamp:    m.EndTimestamp,
		PixelCoverage:   m.PixelCoverage,
		Path:            r.Image.Path,
	}
	if !math.IsNaN(m.CloudCoverage) {
		cc := m.CloudCoverage
		dto.CloudCoverage = &cc
	}
	return dto
}

// extentDTO mirrors store.Extent; no NaN fields, so it could be marshaled
// directly, but a dedicated DTO keeps the wire shape independent of the
// store package's internal field order.
type extentDTO struct {
	Platform  string `json:"platform"`
	Geocode   string `json:"geocode"`
	Band      string `json:"band"`
	Source    string `json:"source"`
	Precision int    `json:"precision"`
	Count     int64  `json:"count"`
}

func toExtentDTO(e store.Extent) extentDTO {
	return extentDTO{
		Platform:  e.Platform,
		Geocode:   e.Geocode,
		Band:      e.Band,
		Source:    string(e.Source),
		Precision: e.Precision,
		Count:     e.Count,
	}
}
