package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/jcom-dev/stipnode/internal/cluster"
	"github.com/jcom-dev/stipnode/internal/ingest"
	"github.com/jcom-dev/stipnode/internal/query"
	"github.com/jcom-dev/stipnode/internal/store"
)

// ListImages streams matching images across the cluster,
// forwarding each match as it arrives from any cluster member rather than
// buffering the whole result set.
//
//	@Summary	Stream matching images across the cluster
//	@Tags		ImageManagement
//	@Accept		json
//	@Produce	json
//	@Router		/api/v1/images/list [post]
func (s *Server) ListImages(w http.ResponseWriter, r *http.Request) {
	var filter store.Filter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	nd := newNDJSONWriter(w)
	_ = s.Aggregator.List(r.Context(), filter, func(res query.ListResult) error {
		return nd.writeLine(toImageDTO(res))
	})
}

// SearchImages returns the cluster-wide extent tally summed across
// members.
//
//	@Summary	Aggregate extent across the cluster
//	@Tags		ImageManagement
//	@Accept		json
//	@Produce	json
//	@Router		/api/v1/images/search [post]
func (s *Server) SearchImages(w http.ResponseWriter, r *http.Request) {
	var filter store.Filter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	extents, err := s.Aggregator.Search(r.Context(), filter)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "search failed", err)
		return
	}

	dtos := make([]extentDTO, 0, len(extents))
	for _, e := range extents {
		dtos = append(dtos, toExtentDTO(e))
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"extents": dtos})
}

// loadImagesRequest is the wire shape of ImageManagement.load. Load always
// runs against the node it is sent to, never broadcast. GeocodeAlgorithm
// and DHTKeyLength are not client-supplied: both are immutable album
// properties, resolved from the album registry instead of trusted off the
// wire.
type loadImagesRequest struct {
	Album       string `json:"album"`
	Platform    string `json:"platform"`
	Format      string `json:"format"`
	ArchiveRoot string `json:"archive_root"`
	Precision   int    `json:"precision"`
	ThreadCount int    `json:"thread_count"`
}

// LoadImages handles ImageManagement.load.
//
//	@Summary	Load an archive into this node's store
//	@Tags		ImageManagement
//	@Accept		json
//	@Produce	json
//	@Router		/api/v1/images/load [post]
func (s *Server) LoadImages(w http.ResponseWriter, r *http.Request) {
	var req loadImagesRequest
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
	taskID, _, err := ingest.Load(r.Context(), s.Tasks, router, ingest.LoadRequest{
		Album:            req.Album,
		Platform:         req.Platform,
		Format:           ingest.LoadFormat(req.Format),
		ArchiveRoot:      req.ArchiveRoot,
		Precision:        req.Precision,
		GeocodeAlgorithm: album.GeocodeAlgorithm,
		ThreadCount:      req.ThreadCount,
	})
	if err != nil {
		RespondError(w, http.StatusBadRequest, "load failed", err)
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]interface{}{"task_id": taskID})
}

// fillImagesRequest is the wire shape of ImageManagement.fill, broadcast to
// every cluster member.
type fillImagesRequest struct {
	Album         string `json:"album"`
	Platform      string `json:"platform"`
	Band          string `json:"band"`
	GeocodePrefix string `json:"geocode_prefix"`
	Precision     int    `json:"precision"`
	WindowSeconds int64  `json:"window_seconds"`
	ThreadCount   int    `json:"thread_count"`
}

// FillImages broadcasts a fill run to every member and returns the
// per-node reply map.
//
//	@Summary	Broadcast a fill run across the cluster
//	@Tags		ImageManagement
//	@Accept		json
//	@Produce	json
//	@Router		/api/v1/images/fill [post]
func (s *Server) FillImages(w http.ResponseWriter, r *http.Request) {
	var req fillImagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	replies := cluster.Broadcast(r.Context(), s.DHT, s.Dispatcher, cluster.Request{
		Kind: cluster.RequestFill,
		Fill: cluster.FillRequest{
			Album:         req.Album,
			Platform:      req.Platform,
			Band:          req.Band,
			GeocodePrefix: req.GeocodePrefix,
			Precision:     req.Precision,
			WindowSeconds: req.WindowSeconds,
			ThreadCount:   req.ThreadCount,
		},
	})
	RespondJSON(w, http.StatusOK, repliesDTO(replies))
}

// splitImagesRequest is the wire shape of ImageManagement.split, broadcast
// to every cluster member. GeocodeAlgorithm is not client-supplied, same
// reasoning as loadImagesRequest above.
type splitImagesRequest struct {
	Album        string `json:"album"`
	Platform     string `json:"platform"`
	GeocodeBound string `json:"geocode_bound"`
	Precision    int    `json:"precision"`
	ThreadCount  int    `json:"thread_count"`
}

// SplitImages handles ImageManagement.split, broadcasting to every member
// and returning the per-node reply map.
//
//	@Summary	Broadcast a split run across the cluster
//	@Tags		ImageManagement
//	@Accept		json
//	@Produce	json
//	@Router		/api/v1/images/split [post]
func (s *Server) SplitImages(w http.ResponseWriter, r *http.Request) {
	var req splitImagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	replies := cluster.Broadcast(r.Context(), s.DHT, s.Dispatcher, cluster.Request{
		Kind: cluster.RequestSplit,
		Split: cluster.SplitRequest{
			Album:        req.Album,
			Platform:     req.Platform,
			GeocodeBound: req.GeocodeBound,
			Precision:    req.Precision,
			ThreadCount:  req.ThreadCount,
		},
	})
	RespondJSON(w, http.StatusOK, repliesDTO(replies))
}

type replyDTO struct {
	TaskID uint64 `json:"task_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// repliesDTO converts a cluster.Broadcast reply map into a JSON-safe shape;
// error.Error() has no stable marshaling of its own.
func repliesDTO(replies map[uint16]cluster.Reply) map[uint16]replyDTO {
	out := make(map[uint16]replyDTO, len(replies))
	for nodeID, reply := range replies {
		dto := replyDTO{TaskID: reply.TaskID}
		if reply.Err != nil {
			dto.Error = reply.Err.Error()
		}
		out[nodeID] = dto
	}
	return out
}
