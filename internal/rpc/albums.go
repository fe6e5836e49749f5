package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/jcom-dev/stipnode/internal/db"
	"github.com/jcom-dev/stipnode/internal/geocode"
)

type createAlbumRequest struct {
	Name             string `json:"name"`
	DHTKeyLength     int8   `json:"dht_key_length"`
	GeocodeAlgorithm string `json:"geocode_algorithm"`
	DefaultPrecision int    `json:"default_precision"`
}

// CreateAlbum handles AlbumManagement.create.
//
//	@Summary	Create an album
//	@Tags		AlbumManagement
//	@Accept		json
//	@Produce	json
//	@Router		/api/v1/albums [post]
func (s *Server) CreateAlbum(w http.ResponseWriter, r *http.Request) {
	var req createAlbumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		RespondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	alg := geocode.Algorithm(req.GeocodeAlgorithm)
	if _, err := geocode.For(alg); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid geocode_algorithm", err)
		return
	}

	a := db.Album{
		Name:             req.Name,
		DHTKeyLength:     req.DHTKeyLength,
		GeocodeAlgorithm: alg,
		DefaultPrecision: req.DefaultPrecision,
	}
	if err := s.DB.CreateAlbum(r.Context(), a); err != nil {
		RespondError(w, http.StatusInternalServerError, "create album failed", err)
		return
	}
	RespondJSON(w, http.StatusCreated, a)
}

// ListAlbums handles AlbumManagement.list.
//
//	@Summary	List albums
//	@Tags		AlbumManagement
//	@Produce	json
//	@Router		/api/v1/albums [get]
func (s *Server) ListAlbums(w http.ResponseWriter, r *http.Request) {
	albums, err := s.DB.ListAlbums(r.Context())
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "list albums failed", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"albums": albums})
}
