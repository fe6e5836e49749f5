package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/jcom-dev/stipnode/internal/cluster"
	"github.com/jcom-dev/stipnode/internal/ingest"
)

// ExecuteFill runs a fill pipeline pass against this node's own store. It is
// the peer-to-peer counterpart FillImages' cluster.Broadcast dispatches to,
// never called directly by an external client, so it always resolves the
// album's GeocodeAlgorithm/DHTKeyLength from the local registry rather than
// trusting values off the wire. Both are immutable album properties every
// node must agree on.
func (s *Server) ExecuteFill(w http.ResponseWriter, r *http.Request) {
	var req cluster.FillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	album, err := s.DB.GetAlbum(r.Context(), req.Album)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "unknown album", err)
		return
	}

	router := ingest.Router{DHT: s.DHT, DHTKeyLength: int(album.DHTKeyLength)}
	taskID, _, err := ingest.Fill(s.Tasks, s.Store, router, ingest.FillRequest{
		Album:            req.Album,
		Platform:         req.Platform,
		Band:             req.Band,
		GeocodePrefix:    req.GeocodePrefix,
		GeocodeAlgorithm: album.GeocodeAlgorithm,
		Precision:        req.Precision,
		WindowSeconds:    req.WindowSeconds,
		ThreadCount:      req.ThreadCount,
	})
	if err != nil {
		RespondError(w, http.StatusBadRequest, "fill failed", err)
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]interface{}{"task_id": taskID})
}

// ExecuteSplit is ExecuteFill's split-pipeline counterpart.
func (s *Server) ExecuteSplit(w http.ResponseWriter, r *http.Request) {
	var req cluster.SplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	album, err := s.DB.GetAlbum(r.Context(), req.Album)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "unknown album", err)
		return
	}

	router := ingest.Router{DHT: s.DHT, DHTKeyLength: int(album.DHTKeyLength)}
	taskID, _, err := ingest.Split(s.Tasks, s.Store, router, ingest.SplitRequest{
		Album:            req.Album,
		Platform:         req.Platform,
		GeocodeBound:     req.GeocodeBound,
		GeocodeAlgorithm: album.GeocodeAlgorithm,
		Precision:        req.Precision,
		ThreadCount:      req.ThreadCount,
	})
	if err != nil {
		RespondError(w, http.StatusBadRequest, "split failed", err)
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]interface{}{"task_id": taskID})
}
