package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/jcom-dev/stipnode/internal/db"
	"github.com/jcom-dev/stipnode/internal/dht"
	"github.com/jcom-dev/stipnode/internal/query"
	"github.com/jcom-dev/stipnode/internal/store"
	"github.com/jcom-dev/stipnode/internal/task"
)

func newTestServer() *Server {
	return &Server{
		DHT:   dht.New(),
		Tasks: task.NewManager(0),
	}
}

func TestHealthCheckReturnsOK(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestNodeListReflectsMembership(t *testing.T) {
	s := newTestServer()
	s.DHT.Update(map[uint64]dht.Peer{
		0:  {NodeID: 1, RPCAddr: "10.0.0.1:15606", XferAddr: "10.0.0.1:15607"},
		99: {NodeID: 2, RPCAddr: "10.0.0.2:15606", XferAddr: "10.0.0.2:15607"},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/nodes", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Members []nodeEntry `json:"members"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Members) != 2 {
		t.Fatalf("got %d nodes, want 2", len(body.Members))
	}
}

func TestListTasksEmptyManager(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Tasks []task.Snapshot `json:"tasks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Tasks) != 0 {
		t.Errorf("got %d tasks, want 0", len(body.Tasks))
	}
}

func TestGetTaskReturnsSnapshot(t *testing.T) {
	s := newTestServer()
	id, handle := s.Tasks.Start(5)
	handle.IncCompleted()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/1", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap task.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if snap.ID != id {
		t.Errorf("ID = %d, want %d", snap.ID, id)
	}
	if snap.ItemsCompleted != 1 {
		t.Errorf("ItemsCompleted = %d, want 1", snap.ItemsCompleted)
	}
}

func TestGetTaskUnknownIDReturns404(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/9999", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetTaskMalformedIDReturns400(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/not-a-number", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateAlbumRejectsEmptyName(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(createAlbumRequest{GeocodeAlgorithm: "geohash"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/albums/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateAlbumRejectsUnknownGeocodeAlgorithm(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(createAlbumRequest{Name: "test", GeocodeAlgorithm: "not-a-real-algorithm"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/albums/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSearchImagesRejectsMalformedBody(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images/search", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestFillImagesRejectsMalformedBody(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images/fill", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestExecuteFillRejectsMalformedBody(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/internal/v1/fill", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestExecuteSplitRejectsMalformedBody(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/internal/v1/split", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func writeTestTile(t *testing.T, st *store.Store, m store.Metadata) {
	t.Helper()
	err := st.Write(m, func(path string) error {
		return os.WriteFile(path, []byte("raster"), 0o644)
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func newAggregatorTestServer(t *testing.T) *Server {
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	writeTestTile(t, st, store.Metadata{
		Album:          "sentinel-album",
		Platform:       "Sentinel-2",
		Geocode:        "9q8yyk9",
		Band:           "B04",
		Source:         store.SourceRaw,
		Tile:           "T10SEG",
		StartTimestamp: 1000,
		EndTimestamp:   2000,
		PixelCoverage:  0.5,
		CloudCoverage:  0.1,
	})

	d := dht.New()
	d.Update(map[uint64]dht.Peer{0: {NodeID: 1, RPCAddr: "127.0.0.1:0"}})

	s := newTestServer()
	s.Aggregator = &query.Aggregator{DHT: d, Local: st, SelfNodeID: 1}
	return s
}

func TestListImagesStreamsLocalStoreMatches(t *testing.T) {
	s := newAggregatorTestServer(t)
	body, _ := json.Marshal(store.Filter{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images/list", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var lines []imageDTO
	dec := json.NewDecoder(rec.Body)
	for dec.More() {
		var dto imageDTO
		if err := dec.Decode(&dto); err != nil {
			t.Fatalf("decode ndjson line: %v", err)
		}
		lines = append(lines, dto)
	}
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0].Tile != "T10SEG" || lines[0].NodeID != 1 {
		t.Errorf("unexpected line: %+v", lines[0])
	}
}

func TestSearchImagesAggregatesLocalStore(t *testing.T) {
	s := newAggregatorTestServer(t)
	body, _ := json.Marshal(store.Filter{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var out struct {
		Extents []extentDTO `json:"extents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(out.Extents) != 1 {
		t.Fatalf("got %d extents, want 1", len(out.Extents))
	}
	if out.Extents[0].Count != 1 || out.Extents[0].Geocode != "9q8yyk9" {
		t.Errorf("unexpected extent: %+v", out.Extents[0])
	}
}

func newDBTestServer(t *testing.T) *Server {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	d, err := db.New(context.Background(), url)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(d.Close)

	s := newTestServer()
	s.DB = d
	return s
}

func TestCreateAlbumThenListAlbumsRoundTrips(t *testing.T) {
	s := newDBTestServer(t)
	name := "rpc-test-album"
	t.Cleanup(func() { s.DB.Pool.Exec(context.Background(), `DELETE FROM albums WHERE name = $1`, name) })

	createBody, _ := json.Marshal(createAlbumRequest{
		Name:             name,
		DHTKeyLength:     4,
		GeocodeAlgorithm: "Geohash",
		DefaultPrecision: 6,
	})
	createReq := httptest.NewRequest(http.MethodPost, "/api/v1/albums/", bytes.NewReader(createBody))
	createRec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %s", createRec.Code, createRec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/albums/", nil)
	listRec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", listRec.Code)
	}

	var out struct {
		Albums []db.Album `json:"albums"`
	}
	if err := json.Unmarshal(listRec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	found := false
	for _, a := range out.Albums {
		if a.Name == name {
			found = true
		}
	}
	if !found {
		t.Errorf("created album %q not in list: %+v", name, out.Albums)
	}
}
